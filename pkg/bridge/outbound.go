// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiku/roombridge/pkg/metrics"
	"github.com/aiku/roombridge/pkg/mmfmt"
	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

// ReactionSource says how a chat user picked a reaction.
type ReactionSource string

const (
	SourceCommand ReactionSource = "command"
	SourcePalette ReactionSource = "palette"
	SourceNative  ReactionSource = "native"
)

// identity is how a chat user appears in the store.
type identity struct {
	uid    string
	name   string
	color  string
	linked bool
}

// identify maps a chat user to their linked site identity, or to a
// synthesized chat identity when unlinked. A failed lookup is treated as
// unlinked so the message still goes through.
func (b *Bridge) identify(ctx context.Context, user ChatUser) identity {
	link, err := b.links.ResolveByChatID(ctx, user.ID)
	if err != nil {
		b.log.Warn().Err(err).Str("chat_user_id", user.ID).Msg("Failed to resolve chat user, relaying as unlinked")
	}
	if link != nil {
		return identity{uid: link.SiteUserID, name: link.SiteName, color: link.SiteColor, linked: true}
	}
	return identity{
		uid:   records.MakeChatUID(user.ID),
		name:  b.cfg.ChatTag + " " + user.Name(),
		color: b.cfg.DefaultColor,
	}
}

// HandleChatMessage handles a new chat post. Bot posts are ignored, commands
// are answered and never relayed, and only posts in the primary channel are
// written to the store.
func (b *Bridge) HandleChatMessage(ctx context.Context, msg ChatMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("post_id", msg.ID).Msg("Panic handling chat message")
		}
	}()

	if msg.Sender.IsBot {
		return
	}
	if strings.HasPrefix(strings.TrimSpace(msg.Text), b.cfg.CommandPrefix) {
		b.handleCommandMessage(ctx, msg)
		return
	}
	if msg.ChannelID != b.cfg.PrimaryChannel {
		if msg.ChannelID == b.cfg.MirrorChannel {
			b.log.Trace().Str("post_id", msg.ID).Msg("Not relaying mirror channel message")
		}
		return
	}

	text := msg.Text
	if b.cfg.PlainText {
		text = mmfmt.Plain(text)
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	who := b.identify(ctx, msg.Sender)
	rec := records.Message{
		UID:              who.uid,
		Name:             who.name,
		Color:            who.color,
		Text:             text,
		T:                b.now().UnixMilli(),
		FromExternalChat: true,
	}
	key, err := store.AppendJSON(ctx, b.st, b.paths.Chat(), &rec)
	if err != nil {
		metrics.StoreWriteErrors.WithLabelValues("chat").Inc()
		b.log.Error().Err(err).Str("post_id", msg.ID).Msg("Failed to write chat message to store")
		return
	}
	metrics.ChatMessagesRelayed.WithLabelValues(senderLabel(who.linked)).Inc()
	b.log.Debug().
		Str("post_id", msg.ID).
		Str("key", key).
		Str("uid", who.uid).
		Msg("Relayed chat message to store")
}

func (b *Bridge) handleCommandMessage(ctx context.Context, msg ChatMessage) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error().Interface("panic", r).Str("post_id", msg.ID).Msg("Panic in command handler")
			}
		}()
		b.handleCommand(ctx, msg)
	}()

	if !b.cfg.DeleteCommands || msg.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()
	if err := b.chat.DeleteMessage(ctx, msg.ID); err != nil {
		b.log.Debug().Err(err).Str("post_id", msg.ID).Msg("Failed to delete command post")
	}
}

// HandleChatReaction relays picks on palette posts, and any reaction in the
// primary channel when native reaction relay is enabled.
func (b *Bridge) HandleChatReaction(ctx context.Context, r ChatReaction) {
	if r.User.IsBot || r.Emoji == "" {
		return
	}
	switch {
	case r.OnPalette:
		_ = b.RelayReaction(ctx, r.User, r.Emoji, SourcePalette)
	case b.cfg.RelayNativeReactions && r.ChannelID == b.cfg.PrimaryChannel:
		_ = b.RelayReaction(ctx, r.User, r.Emoji, SourceNative)
	}
}

// RelayReaction appends a reaction from user to the store. The error is only
// for telling the user; nothing is retried.
func (b *Bridge) RelayReaction(ctx context.Context, user ChatUser, emoji string, source ReactionSource) error {
	who := b.identify(ctx, user)
	now := b.now()
	rec := records.Reaction{
		UID:              who.uid,
		Color:            who.color,
		Emoji:            emoji,
		Emo:              emoji,
		T:                now.UnixMilli(),
		ID:               records.MakeReactionID(now),
		FromExternalChat: true,
	}
	if _, err := store.AppendJSON(ctx, b.st, b.paths.Reactions(), &rec); err != nil {
		metrics.StoreWriteErrors.WithLabelValues("reactions").Inc()
		b.log.Error().Err(err).Str("chat_user_id", user.ID).Str("emoji", emoji).Msg("Failed to write reaction to store")
		return fmt.Errorf("failed to relay reaction: %w", err)
	}
	metrics.ReactionsRelayed.WithLabelValues(string(source)).Inc()
	b.log.Debug().
		Str("chat_user_id", user.ID).
		Str("emoji", emoji).
		Str("source", string(source)).
		Msg("Relayed reaction to store")
	return nil
}

func senderLabel(linked bool) string {
	if linked {
		return "linked"
	}
	return "unlinked"
}
