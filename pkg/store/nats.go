// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// NATS stores records in a JetStream key-value bucket. Path separators map to
// subject tokens, so a collection is watched with a single-token wildcard.
type NATS struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
	log  zerolog.Logger
}

var _ Store = (*NATS)(nil)

// NewNATS connects to url with automatic reconnection and opens (or creates)
// the bucket.
func NewNATS(ctx context.Context, url, bucket string, log zerolog.Logger, opts ...nats.Option) (*NATS, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening bucket %s: %w", bucket, err)
	}
	log.Info().Str("url", url).Str("bucket", bucket).Msg("Connected to NATS key-value store")
	return &NATS{conn: nc, kv: kv, log: log}, nil
}

func (s *NATS) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, natsKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *NATS) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, natsKey(key), value); err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (s *NATS) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, natsKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// List reads the current children of collection through a short-lived
// watcher that stops at the end of the initial values.
func (s *NATS) List(ctx context.Context, collection string) ([]Record, error) {
	w, err := s.kv.Watch(ctx, natsKey(collection)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	defer func() { _ = w.Stop() }()

	var out []Record
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok {
				return out, nil
			}
			if entry == nil {
				return out, nil
			}
			out = append(out, Record{Key: lastSegment(entry.Key()), Value: entry.Value()})
		}
	}
}

func (s *NATS) Append(ctx context.Context, collection string, value []byte) (string, error) {
	id := ulid.Make().String()
	if _, err := s.kv.Create(ctx, natsKey(collection+"/"+id), value); err != nil {
		return "", fmt.Errorf("appending to %s: %w", collection, err)
	}
	return id, nil
}

func (s *NATS) Watch(ctx context.Context, collection string, fn WatchFunc) error {
	w, err := s.kv.Watch(ctx, natsKey(collection)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return fmt.Errorf("watching %s: %w", collection, err)
	}
	log := s.log.With().Str("collection", collection).Logger()
	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					log.Warn().Msg("Watch closed")
					return
				}
				if entry == nil {
					log.Debug().Msg("Initial values delivered")
					continue
				}
				if entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				fn(Record{Key: lastSegment(entry.Key()), Value: entry.Value()})
			}
		}
	}()
	return nil
}

func (s *NATS) Close() error {
	s.conn.Close()
	return nil
}

var plainTokenRe = regexp.MustCompile(`^[-_a-zA-Z0-9]+$`)

// natsKey maps a slash path to a bucket key. Segments that are not valid
// subject tokens are base64url-encoded behind a "=" marker.
func natsKey(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = encodeSegment(p)
	}
	return strings.Join(parts, ".")
}

func encodeSegment(s string) string {
	if plainTokenRe.MatchString(s) {
		return s
	}
	return "=" + base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeSegment(s string) string {
	if !strings.HasPrefix(s, "=") {
		return s
	}
	raw, err := base64.RawURLEncoding.DecodeString(s[1:])
	if err != nil {
		return s
	}
	return string(raw)
}

func lastSegment(key string) string {
	if idx := strings.LastIndexByte(key, '.'); idx >= 0 {
		key = key[idx+1:]
	}
	return decodeSegment(key)
}
