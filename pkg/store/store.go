// Copyright 2024-2026 Aiku AI

// Package store abstracts the realtime key-value store that backs the site's
// chat room. Keys are slash-separated paths. Records in append-only
// collections are created with Append and observed with Watch, which replays
// the existing records and then pushes new ones as they are written.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Record is a single child of a collection. Key is relative to the
// collection.
type Record struct {
	Key   string
	Value []byte
}

// WatchFunc receives the records of a watched collection in write order. It
// is called sequentially on the backend's watch goroutine and must not block.
type WatchFunc func(rec Record)

// Store is the subset of realtime store operations the bridge needs. Every
// write is a single-record operation; there are no transactions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns the direct children of a keyed collection.
	List(ctx context.Context, collection string) ([]Record, error)
	// Append adds a record to an append-only collection under a new,
	// time-ordered key and returns that key.
	Append(ctx context.Context, collection string, value []byte) (string, error)
	// Watch subscribes fn to an append-only collection. It returns once the
	// subscription is established; delivery stops when ctx is canceled.
	Watch(ctx context.Context, collection string, fn WatchFunc) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "nats", "redis" or "memory".
	Backend string `yaml:"backend"`
	// URL is the NATS server URL or Redis URL.
	URL string `yaml:"url"`
	// Root is the top-level path that sessions live under.
	Root string `yaml:"root"`
	// Session names the linked room.
	Session string `yaml:"session"`

	NATS struct {
		Bucket string `yaml:"bucket"`
	} `yaml:"nats"`
}

// Open connects to the backend named in cfg.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	log = log.With().Str("component", "store").Str("backend", cfg.Backend).Logger()
	switch strings.ToLower(cfg.Backend) {
	case "", "nats":
		bucket := cfg.NATS.Bucket
		if bucket == "" {
			bucket = "roombridge"
		}
		return NewNATS(ctx, cfg.URL, bucket, log)
	case "redis":
		return NewRedis(ctx, cfg.URL, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and writes it to key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// AppendJSON encodes v and appends it to collection.
func AppendJSON(ctx context.Context, s Store, collection string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode record for %s: %w", collection, err)
	}
	return s.Append(ctx, collection, data)
}
