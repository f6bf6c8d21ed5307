// Copyright 2024-2026 Aiku AI

// Package bridge relays messages between the site's chat room in the
// realtime store and a group chat.
//
// Store notifications arrive on the store's watch goroutine and are handed to
// a single delivery pump through a bounded queue. Chat events arrive on the
// chat adapter's dispatch goroutine and are written straight to the store.
// Both directions resolve identities through the link store.
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/roombridge/pkg/dedup"
	"github.com/aiku/roombridge/pkg/links"
	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

// ChatPlatform is the chat side as seen by the bridge.
type ChatPlatform interface {
	// SendMessage posts markdown text to a channel.
	SendMessage(ctx context.Context, channelID, text string) error
	// DeleteMessage removes a post.
	DeleteMessage(ctx context.Context, postID string) error
	// SendPalette posts text with every palette emoji pre-added as a
	// reaction, so users can pick one by reacting.
	SendPalette(ctx context.Context, channelID, text string, palette []PaletteEmoji) error
}

// ChatUser is the author of a chat event.
type ChatUser struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Name returns the best human-readable name for u.
func (u ChatUser) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return u.ID
	}
}

// ChatMessage is a new post in the group chat or a direct message to the
// bridge.
type ChatMessage struct {
	ID        string
	ChannelID string
	Sender    ChatUser
	Text      string
}

// ChatReaction is a reaction added to a post.
type ChatReaction struct {
	PostID    string
	ChannelID string
	User      ChatUser
	Emoji     string
	// OnPalette is set when the post is a palette the bridge created.
	OnPalette bool
}

// Config controls bridge behavior.
type Config struct {
	PrimaryChannel string
	// MirrorChannel receives copies of relayed site messages while the
	// site's mirror flag is set. Empty disables mirroring.
	MirrorChannel string

	CommandPrefix  string
	DeleteCommands bool
	// ChatTag prefixes the site-side name of unlinked chat users.
	ChatTag      string
	DefaultColor string
	// PlainText strips chat markdown before writing to the store.
	PlainText            bool
	RelayNativeReactions bool

	QueueSize    int
	SendTimeout  time.Duration
	ErrorBackoff time.Duration

	// Location is used when showing link times to users.
	Location *time.Location
}

func (c *Config) setDefaults() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.ChatTag == "" {
		c.ChatTag = "[MM]"
	}
	if c.DefaultColor == "" {
		c.DefaultColor = "#00a0e9"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// queued is a store event waiting for the pump.
type queued struct {
	key string
	msg *records.Message
}

// Bridge holds all relay state for one linked room.
type Bridge struct {
	cfg    Config
	st     store.Store
	paths  store.Paths
	links  links.Service
	chat   ChatPlatform
	guard  *dedup.Guard
	cursor *dedup.CursorStore
	log    zerolog.Logger
	now    func() time.Time

	queue   chan queued
	dropped atomic.Int64
}

// New creates a bridge. Nothing runs until Start, although HandleStoreRecord,
// RunPump and HandleChatMessage can be driven directly.
func New(cfg Config, st store.Store, paths store.Paths, linkSvc links.Service, chat ChatPlatform, log zerolog.Logger) *Bridge {
	cfg.setDefaults()
	return &Bridge{
		cfg:   cfg,
		st:    st,
		paths: paths,
		links: linkSvc,
		chat:  chat,
		guard: dedup.NewGuard(0),
		log:   log.With().Str("component", "bridge").Logger(),
		now:   time.Now,
		queue: make(chan queued, cfg.QueueSize),
	}
}

// SetCursorStore makes the pump persist the dedup cursor after every advance.
// It must be called before Start.
func (b *Bridge) SetCursorStore(cs *dedup.CursorStore) {
	b.cursor = cs
}

// Start seeds the dedup cursor, subscribes to the store's chat stream and
// starts the delivery pump. Everything stops when ctx is canceled.
func (b *Bridge) Start(ctx context.Context, skipHistory bool) error {
	var initial int64
	if b.cursor != nil {
		var err error
		initial, err = b.cursor.Restore(ctx, skipHistory, b.now())
		if err != nil {
			return err
		}
	} else if skipHistory {
		initial = b.now().UnixMilli()
	}
	b.guard = dedup.NewGuard(initial)

	go b.RunPump(ctx)
	if err := b.st.Watch(ctx, b.paths.Chat(), b.HandleStoreRecord); err != nil {
		return err
	}
	b.log.Info().
		Str("collection", b.paths.Chat()).
		Int64("cursor", initial).
		Int("queue_size", cap(b.queue)).
		Msg("Bridge started")
	return nil
}

// Status is a snapshot of bridge state for the admin API.
type Status struct {
	Cursor        int64 `json:"cursor"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Dropped       int64 `json:"dropped"`
	MirrorActive  bool  `json:"mirror_active"`
}

// Status reports the current cursor, queue usage and mirror flag.
func (b *Bridge) Status(ctx context.Context) Status {
	return Status{
		Cursor:        b.guard.Cursor(),
		QueueDepth:    len(b.queue),
		QueueCapacity: cap(b.queue),
		Dropped:       b.dropped.Load(),
		MirrorActive:  b.mirrorActive(ctx),
	}
}
