// Copyright 2024-2026 Aiku AI

package records

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// chatUIDPrefix marks a store uid synthesized for an unlinked chat user.
const chatUIDPrefix = "chat_"

// CodePrefix is the fixed prefix of every link code.
const CodePrefix = "LINK-"

var codeRe = regexp.MustCompile(`^LINK-[A-Z0-9]{4}$`)

// MakeChatUID creates the store uid for an unlinked chat user.
func MakeChatUID(chatUserID string) string {
	return chatUIDPrefix + chatUserID
}

// ParseChatUID extracts the chat user ID from a synthesized uid. ok is false
// for site uids.
func ParseChatUID(uid string) (chatUserID string, ok bool) {
	if !strings.HasPrefix(uid, chatUIDPrefix) {
		return "", false
	}
	return uid[len(chatUIDPrefix):], true
}

// MakeReactionID creates a reaction ID from a microsecond timestamp.
func MakeReactionID(now time.Time) string {
	return chatUIDPrefix + strconv.FormatInt(now.UnixMicro(), 10)
}

// NormalizeCode upper-cases and trims a user-typed link code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode reports whether code has the LINK-XXXX format.
func IsValidCode(code string) bool {
	return codeRe.MatchString(code)
}
