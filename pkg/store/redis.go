// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisStreamField = "data"
	redisReadCount   = 100
	redisRetryWait   = time.Second
)

// Redis keeps keyed records as plain string keys and append-only collections
// as streams. Watch tails a stream from its first entry.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
	block  time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, log zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
	return &Redis{client: client, log: log, block: 5 * time.Second}, nil
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return val, nil
}

func (s *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *Redis) List(ctx context.Context, collection string) ([]Record, error) {
	prefix := collection + "/"
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.Contains(key[len(prefix):], "/") {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}
	out := make([]Record, 0, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Deleted between SCAN and MGET.
			continue
		}
		out = append(out, Record{Key: keys[i][len(prefix):], Value: []byte(str)})
	}
	return out, nil
}

func (s *Redis) Append(ctx context.Context, collection string, value []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: collection,
		Values: map[string]any{redisStreamField: value},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("appending to %s: %w", collection, err)
	}
	return id, nil
}

func (s *Redis) Watch(ctx context.Context, collection string, fn WatchFunc) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("watching %s: %w", collection, err)
	}
	go s.tail(ctx, collection, fn)
	return nil
}

func (s *Redis) tail(ctx context.Context, collection string, fn WatchFunc) {
	log := s.log.With().Str("collection", collection).Logger()
	lastID := "0"
	for ctx.Err() == nil {
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{collection, lastID},
			Count:   redisReadCount,
			Block:   s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Failed to read stream, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(redisRetryWait):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				data, ok := msg.Values[redisStreamField].(string)
				if !ok {
					log.Warn().Str("id", msg.ID).Msg("Stream entry has no data field")
					continue
				}
				fn(Record{Key: msg.ID, Value: []byte(data)})
			}
		}
	}
}

func (s *Redis) Close() error {
	return s.client.Close()
}

// escapeGlob escapes SCAN MATCH metacharacters.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
