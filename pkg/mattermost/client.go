// Copyright 2024-2026 Aiku AI

// Package mattermost connects the bridge to a Mattermost server as a bot
// account: posts and reactions arrive over the websocket and are handed to
// the bridge one at a time, and the bridge's messages go out over REST.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/roombridge/pkg/bridge"
)

// Handler receives chat events. Calls are made sequentially from the
// websocket dispatch goroutine.
type Handler interface {
	HandleChatMessage(ctx context.Context, msg bridge.ChatMessage)
	HandleChatReaction(ctx context.Context, r bridge.ChatReaction)
}

// maxPalettes bounds how many palette posts are remembered.
const maxPalettes = 64

// Client is the bridge's Mattermost connection.
type Client struct {
	cfg    *Config
	client *model.Client4
	log    zerolog.Logger

	userID   string
	username string

	wsMu     sync.Mutex
	wsClient *model.WebSocketClient

	handler Handler
	ctx     context.Context

	usersMu sync.RWMutex
	users   map[string]*model.User

	paletteMu    sync.Mutex
	palettes     map[string]struct{}
	paletteOrder []string

	reconnectWait time.Duration
	stopOnce      sync.Once
	stopChan      chan struct{}
}

var _ bridge.ChatPlatform = (*Client)(nil)

// New creates a client for cfg. Call Connect to authenticate and start
// receiving events.
func New(cfg *Config, log zerolog.Logger) *Client {
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &Client{
		cfg:           cfg,
		client:        client,
		log:           log.With().Str("component", "mm_client").Logger(),
		users:         make(map[string]*model.User),
		palettes:      make(map[string]struct{}),
		reconnectWait: 5 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// UserID returns the bot's Mattermost user ID once connected.
func (c *Client) UserID() string { return c.userID }

// Connect verifies the token, opens the websocket and starts dispatching
// events to handler until ctx is canceled.
func (c *Client) Connect(ctx context.Context, handler Handler) error {
	c.log.Info().Str("server_url", c.cfg.ServerURL).Msg("Connecting to Mattermost")

	me, _, err := c.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	c.userID = me.Id
	c.username = me.Username
	c.handler = handler
	c.ctx = ctx
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if err := c.connectWebSocket(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()
	return nil
}

func (c *Client) connectWebSocket() error {
	wsURL := httpToWS(c.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, c.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()

	c.wsMu.Lock()
	c.wsClient = ws
	c.wsMu.Unlock()

	go c.listenWebSocket(ws)

	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (c *Client) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-c.stopChan:
			return
		case event, ok := <-ws.EventChannel:
			if !ok {
				c.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				c.handleWebSocketDisconnect()
				return
			}
			if event == nil {
				continue
			}
			c.dispatch(event)
		}
	}
}

// dispatch handles one event. A panic in the handler must not end the loop.
func (c *Client) dispatch(event *model.WebSocketEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.EventType())).
				Msg("Panic handling websocket event")
		}
	}()
	c.handleEvent(event)
}

// handleWebSocketDisconnect reconnects until it succeeds or the client is
// stopped.
func (c *Client) handleWebSocketDisconnect() {
	for attempt := 1; ; attempt++ {
		err := c.connectWebSocket()
		if err == nil {
			return
		}
		c.log.Error().Err(err).Int("attempt", attempt).Msg("Failed to reconnect WebSocket")
		select {
		case <-c.stopChan:
			return
		case <-time.After(c.reconnectWait):
		}
	}
}

// Disconnect closes the websocket and stops the event loop.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.wsClient != nil {
		c.wsClient.Close()
		c.wsClient = nil
	}
}

// SendMessage posts text to channelID as the bot.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	_, err := c.createPost(ctx, channelID, text)
	return err
}

func (c *Client) createPost(ctx context.Context, channelID, text string) (*model.Post, error) {
	post := &model.Post{
		ChannelId: channelID,
		Message:   text,
	}
	created, _, err := c.client.CreatePost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return created, nil
}

// DeleteMessage deletes a post. The bot needs permission to delete others'
// posts for this to work on user commands.
func (c *Client) DeleteMessage(ctx context.Context, postID string) error {
	if _, err := c.client.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// SendPalette posts text and adds every palette emoji as a bot reaction, so
// users can pick one with a click. Reactions users add to the post are
// reported to the handler with OnPalette set.
func (c *Client) SendPalette(ctx context.Context, channelID, text string, palette []bridge.PaletteEmoji) error {
	post, err := c.createPost(ctx, channelID, text)
	if err != nil {
		return err
	}
	c.rememberPalette(post.Id)

	var errs []error
	for _, p := range palette {
		_, _, err := c.client.SaveReaction(ctx, &model.Reaction{
			UserId:    c.userID,
			PostId:    post.Id,
			EmojiName: p.Name,
		})
		if err != nil {
			c.log.Warn().Err(err).Str("post_id", post.Id).Str("emoji", p.Name).Msg("Failed to add palette reaction")
			errs = append(errs, err)
		}
	}
	if len(errs) == len(palette) && len(errs) > 0 {
		return fmt.Errorf("failed to add palette reactions: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Client) rememberPalette(postID string) {
	c.paletteMu.Lock()
	defer c.paletteMu.Unlock()
	c.palettes[postID] = struct{}{}
	c.paletteOrder = append(c.paletteOrder, postID)
	if len(c.paletteOrder) > maxPalettes {
		delete(c.palettes, c.paletteOrder[0])
		c.paletteOrder = c.paletteOrder[1:]
	}
}

func (c *Client) isPalette(postID string) bool {
	c.paletteMu.Lock()
	defer c.paletteMu.Unlock()
	_, ok := c.palettes[postID]
	return ok
}

// user fetches and caches a Mattermost user.
func (c *Client) user(ctx context.Context, userID string) (*model.User, error) {
	c.usersMu.RLock()
	u, ok := c.users[userID]
	c.usersMu.RUnlock()
	if ok {
		return u, nil
	}
	u, _, err := c.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	c.usersMu.Lock()
	c.users[userID] = u
	c.usersMu.Unlock()
	return u, nil
}

// chatUser builds the bridge's view of a Mattermost user. If the user cannot
// be fetched, the ID and the websocket's sender name are used instead.
func (c *Client) chatUser(ctx context.Context, userID, senderName string) bridge.ChatUser {
	u, err := c.user(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("Using fallback user info")
		return bridge.ChatUser{ID: userID, Username: senderName, DisplayName: senderName}
	}
	return bridge.ChatUser{
		ID:       u.Id,
		Username: u.Username,
		DisplayName: c.cfg.FormatDisplayname(DisplaynameParams{
			Username:  u.Username,
			Nickname:  u.Nickname,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}),
		IsBot: u.IsBot,
	}
}
