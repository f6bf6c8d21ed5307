// Copyright 2024-2026 Aiku AI

package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/roombridge/pkg/store"
)

type cursorRecord struct {
	T         int64              `json:"t"`
	UpdatedAt jsontime.UnixMilli `json:"updatedAt"`
}

// CursorStore persists the dedup cursor in the realtime store so a restarted
// bridge does not relay the watch's initial replay again.
type CursorStore struct {
	st  store.Store
	key string
	log zerolog.Logger
}

// NewCursorStore creates a cursor store writing to key.
func NewCursorStore(st store.Store, key string, log zerolog.Logger) *CursorStore {
	return &CursorStore{
		st:  st,
		key: key,
		log: log.With().Str("component", "cursor").Logger(),
	}
}

// Load returns the persisted cursor, or 0 if none has been saved.
func (c *CursorStore) Load(ctx context.Context) (int64, error) {
	var rec cursorRecord
	err := store.GetJSON(ctx, c.st, c.key, &rec)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return rec.T, nil
}

// Save writes t as the persisted cursor.
func (c *CursorStore) Save(ctx context.Context, t int64) error {
	rec := cursorRecord{T: t, UpdatedAt: jsontime.UM(time.Now())}
	if err := store.PutJSON(ctx, c.st, c.key, &rec); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Restore picks the initial cursor at startup. A persisted cursor wins; with
// none, skipHistory starts the cursor at now so that history replayed by the
// watch is not relayed.
func (c *CursorStore) Restore(ctx context.Context, skipHistory bool, now time.Time) (int64, error) {
	t, err := c.Load(ctx)
	if err != nil {
		return 0, err
	}
	if t > 0 {
		c.log.Info().Int64("cursor", t).Msg("Restored dedup cursor")
		return t, nil
	}
	if skipHistory {
		t = now.UnixMilli()
		c.log.Info().Int64("cursor", t).Msg("No saved cursor, skipping history before startup")
		return t, nil
	}
	return 0, nil
}
