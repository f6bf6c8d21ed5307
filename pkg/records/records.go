// Copyright 2024-2026 Aiku AI

// Package records defines the JSON records exchanged with the realtime store.
// Field names follow the store's wire format, which is shared with the site.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/util/jsontime"
)

// ErrInvalidRecord is returned when a store record cannot be decoded or is
// missing a required field.
var ErrInvalidRecord = errors.New("invalid record")

// Message is a chat message in the store's append-only chat stream.
type Message struct {
	UID              string `json:"uid"`
	Name             string `json:"name"`
	Color            string `json:"color"`
	Text             string `json:"text"`
	T                int64  `json:"t"`
	FromExternalChat bool   `json:"fromExternalChat"`
}

// Reaction is an emoji reaction in the store's append-only reaction stream.
type Reaction struct {
	UID   string `json:"uid"`
	Color string `json:"color"`
	Emoji string `json:"emoji"`
	// Emo duplicates Emoji for site clients that predate the emoji field.
	Emo              string `json:"emo"`
	T                int64  `json:"t"`
	ID               string `json:"id"`
	FromExternalChat bool   `json:"fromExternalChat"`
}

// Link is the correspondence between a site account and a chat account,
// keyed in the store by SiteUserID.
type Link struct {
	SiteUserID    string             `json:"siteUserId"`
	SiteName      string             `json:"siteName"`
	SiteColor     string             `json:"siteColor"`
	ChatUserID    string             `json:"chatUserId"`
	ChatUsername  string             `json:"chatUsername"`
	ChatFirstName string             `json:"chatFirstName"`
	LinkedAt      jsontime.UnixMilli `json:"linkedAt"`
	LinkCode      string             `json:"linkCode"`
}

// LinkCode is a pending link request minted by the site, keyed in the store
// by its code.
type LinkCode struct {
	UserID    string             `json:"userId"`
	Name      string             `json:"name"`
	Color     string             `json:"color"`
	ExpiresAt jsontime.UnixMilli `json:"expiresAt"`
	Used      bool               `json:"used"`
}

// Expired reports whether the code is past its expiry at now. A code without
// an expiry is always expired.
func (c *LinkCode) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.UnixMilli() > c.ExpiresAt.UnixMilli()
}

// DecodeMessage parses a chat stream record. The timestamp and text are
// required.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if msg.T <= 0 {
		return nil, fmt.Errorf("%w: message has no timestamp", ErrInvalidRecord)
	}
	if msg.Text == "" {
		return nil, fmt.Errorf("%w: message has no text", ErrInvalidRecord)
	}
	return &msg, nil
}

// DecodeLink parses a link record. Both identities are required.
func DecodeLink(raw []byte) (*Link, error) {
	var link Link
	if err := json.Unmarshal(raw, &link); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if link.SiteUserID == "" || link.ChatUserID == "" {
		return nil, fmt.Errorf("%w: link is missing an identity", ErrInvalidRecord)
	}
	return &link, nil
}

// DecodeLinkCode parses a link code record. The site user ID is required.
func DecodeLinkCode(raw []byte) (*LinkCode, error) {
	var code LinkCode
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if code.UserID == "" {
		return nil, fmt.Errorf("%w: link code has no user", ErrInvalidRecord)
	}
	return &code, nil
}
