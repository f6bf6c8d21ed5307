// Copyright 2024-2026 Aiku AI

package store

// Paths builds the keys of one session. The layout is shared with the site.
type Paths struct {
	base string
}

// NewPaths returns the layout for session under root ("sessions" if empty).
func NewPaths(root, session string) Paths {
	if root == "" {
		root = "sessions"
	}
	return Paths{base: root + "/" + session}
}

// Base returns the session path.
func (p Paths) Base() string { return p.base }

// Chat is the append-only message stream.
func (p Paths) Chat() string { return p.base + "/chat" }

// Reactions is the append-only reaction stream.
func (p Paths) Reactions() string { return p.base + "/reactions" }

// Links holds link records keyed by site user ID.
func (p Paths) Links() string { return p.base + "/telegram_links" }

// Link is the key of one link record.
func (p Paths) Link(siteUserID string) string { return p.Links() + "/" + siteUserID }

// LinkCodes holds pending link codes keyed by code.
func (p Paths) LinkCodes() string { return p.base + "/link_codes" }

// LinkCode is the key of one link code.
func (p Paths) LinkCode(code string) string { return p.LinkCodes() + "/" + code }

// MirrorFlag is the site-owned boolean that enables mirror-room duplication.
func (p Paths) MirrorFlag() string { return p.base + "/rat_mode" }

// Cursor holds the persisted dedup cursor.
func (p Paths) Cursor() string { return p.base + "/bridge_cursor" }
