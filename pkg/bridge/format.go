// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/aiku/roombridge/pkg/mmfmt"
	"github.com/aiku/roombridge/pkg/records"
)

const (
	linkedMarker   = "🎨"
	unlinkedMarker = "[WEB]"
	guestName      = "Guest"
)

// formatStoreMessage renders a site message for chat. Linked senders and
// anonymous site visitors get different markers.
func formatStoreMessage(msg *records.Message, linked bool) string {
	name := msg.Name
	if name == "" {
		name = guestName
	}
	marker := unlinkedMarker
	if linked {
		marker = linkedMarker
	}
	return marker + " **" + mmfmt.EscapeName(name) + "**: " + msg.Text
}
