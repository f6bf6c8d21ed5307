// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/roombridge/pkg/bridge"
)

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (c *Client) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		c.handlePosted(evt)
	case model.WebsocketEventReactionAdded:
		c.handleReactionAdded(evt)
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (c *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if post.UserId == c.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip posts made through bot tokens and webhooks.
	if isTruthy(post.GetProp("from_bot")) || isTruthy(post.GetProp("from_webhook")) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("user_id", post.UserId).
			Msg("Skipping bot post (echo prevention)")
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching known bridge patterns.
	name := senderName(evt)
	if name != "" && isBridgeUsername(name, c.cfg.BotPrefix) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("username", name).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// parseReactionEvent extracts and validates a reaction from a WebSocket event.
// Returns (nil, nil) to skip, (nil, err) for errors, or (reaction, nil) to proceed.
func (c *Client) parseReactionEvent(evt *model.WebSocketEvent) (*model.Reaction, error) {
	reactionJSON, ok := evt.GetData()["reaction"].(string)
	if !ok {
		return nil, nil
	}

	var reaction model.Reaction
	if err := json.Unmarshal([]byte(reactionJSON), &reaction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reaction: %w", err)
	}

	// Echo prevention: skip own reactions, including the palette seeds.
	if reaction.UserId == c.userID {
		return nil, nil
	}

	// Echo prevention: skip reactions from usernames matching known bridge patterns.
	name := senderName(evt)
	if name != "" && isBridgeUsername(name, c.cfg.BotPrefix) {
		c.log.Debug().
			Str("post_id", reaction.PostId).
			Str("username", name).
			Str("emoji", reaction.EmojiName).
			Msg("Skipping bridge username reaction (echo prevention)")
		return nil, nil
	}

	return &reaction, nil
}

func (c *Client) handlePosted(evt *model.WebSocketEvent) {
	post, err := c.parsePostedEvent(evt)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	c.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Msg("Received new message")

	c.handler.HandleChatMessage(c.ctx, bridge.ChatMessage{
		ID:        post.Id,
		ChannelID: post.ChannelId,
		Sender:    c.chatUser(c.ctx, post.UserId, senderName(evt)),
		Text:      post.Message,
	})
}

func (c *Client) handleReactionAdded(evt *model.WebSocketEvent) {
	reaction, err := c.parseReactionEvent(evt)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to parse reaction added event")
		return
	}
	if reaction == nil {
		return
	}

	channelID := reaction.ChannelId
	if channelID == "" {
		channelID = evt.GetBroadcast().ChannelId
	}
	c.handler.HandleChatReaction(c.ctx, bridge.ChatReaction{
		PostID:    reaction.PostId,
		ChannelID: channelID,
		User:      c.chatUser(c.ctx, reaction.UserId, senderName(evt)),
		Emoji:     reactionToEmoji(reaction.EmojiName),
		OnPalette: c.isPalette(reaction.PostId),
	})
}

func senderName(evt *model.WebSocketEvent) string {
	name, _ := evt.GetData()["sender_name"].(string)
	return strings.TrimPrefix(name, "@")
}

func isTruthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}

// isBridgeUsername returns true if the username belongs to a known bridge
// infrastructure bot that should never be relayed. It checks against
// hardcoded bridge usernames and an optional configurable prefix.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "roombridge":
		return true
	case strings.HasPrefix(username, "roombridge_"):
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}
