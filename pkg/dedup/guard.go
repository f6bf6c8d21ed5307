// Copyright 2024-2026 Aiku AI

// Package dedup keeps store events from being relayed back to the side they
// came from, and from being relayed twice.
//
// Two checks apply, in order. The provenance tag drops anything the bridge
// wrote itself. The timestamp cursor drops anything at or below the highest
// timestamp already relayed, which absorbs the history a store watch replays
// on (re)connect.
package dedup

import (
	"sync/atomic"

	"github.com/aiku/roombridge/pkg/records"
)

// IsBridgeOrigin reports whether msg was written to the store by the bridge.
// It has no side effects and is safe on any goroutine.
func IsBridgeOrigin(msg *records.Message) bool {
	return msg.FromExternalChat
}

// Guard holds the dedup cursor. Admit must only ever be called from one
// goroutine; Cursor may be read from anywhere.
type Guard struct {
	cursor atomic.Int64

	// keys admitted with a timestamp equal to the cursor, so that distinct
	// events sharing a millisecond are not mistaken for replays.
	atCursor map[string]struct{}
}

// NewGuard creates a guard whose cursor starts at initial.
func NewGuard(initial int64) *Guard {
	g := &Guard{atCursor: make(map[string]struct{})}
	g.cursor.Store(initial)
	return g
}

// Cursor returns the highest timestamp admitted so far.
func (g *Guard) Cursor() int64 {
	return g.cursor.Load()
}

// Admit decides whether the event with timestamp t and store key should be
// relayed, advancing the cursor if so. Events older than the cursor are
// always rejected. An event exactly at the cursor is admitted only if it has
// a key that has not been seen at that timestamp.
func (g *Guard) Admit(t int64, key string) bool {
	cur := g.cursor.Load()
	switch {
	case t < cur:
		return false
	case t == cur:
		if key == "" {
			return false
		}
		if _, seen := g.atCursor[key]; seen {
			return false
		}
		// A cursor restored from storage has no keys recorded for its
		// timestamp, so anything at exactly that timestamp is a replay.
		if len(g.atCursor) == 0 {
			return false
		}
		g.atCursor[key] = struct{}{}
		return true
	default:
		g.cursor.Store(t)
		clear(g.atCursor)
		if key != "" {
			g.atCursor[key] = struct{}{}
		}
		return true
	}
}
