// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"fmt"

	"github.com/aiku/roombridge/pkg/bridge"
)

var emojiMap = map[string]string{
	"+1":               "\U0001f44d",
	"-1":               "\U0001f44e",
	"heart":            "❤️",
	"smile":            "\U0001f604",
	"laughing":         "\U0001f606",
	"thumbsup":         "\U0001f44d",
	"thumbsdown":       "\U0001f44e",
	"wave":             "\U0001f44b",
	"clap":             "\U0001f44f",
	"fire":             "\U0001f525",
	"100":              "\U0001f4af",
	"tada":             "\U0001f389",
	"eyes":             "\U0001f440",
	"thinking":         "\U0001f914",
	"white_check_mark": "✅",
	"x":                "❌",
	"warning":          "⚠️",
	"rocket":           "\U0001f680",
	"star":             "⭐",
	"pray":             "\U0001f64f",
	"roll_eyes":        "\U0001f644",
	"shrug":            "\U0001f937",
}

func init() {
	for _, p := range bridge.SitePalette {
		emojiMap[p.Name] = p.Emoji
	}
}

// reactionToEmoji converts a Mattermost emoji name to a Unicode emoji.
// Custom emoji keep their :name: form.
func reactionToEmoji(name string) string {
	if emoji, ok := emojiMap[name]; ok {
		return emoji
	}
	return fmt.Sprintf(":%s:", name)
}
