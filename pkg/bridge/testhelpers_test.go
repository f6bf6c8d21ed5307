// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/roombridge/pkg/links"
	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

const (
	primaryChannel = "town-square"
	mirrorChannel  = "shadow"
	dmChannel      = "dm-555"
)

var testNow = time.UnixMilli(1_700_000_000_000)

type sentMessage struct {
	ChannelID string
	Text      string
}

type sentPalette struct {
	ChannelID string
	Text      string
	Palette   []PaletteEmoji
}

// fakeChat records everything the bridge sends to chat.
type fakeChat struct {
	mu       sync.Mutex
	sent     []sentMessage
	deleted  []string
	palettes []sentPalette
	fail     map[string]error
	// panicOn makes SendMessage panic for a message with this text.
	panicOn string
}

func newFakeChat() *fakeChat {
	return &fakeChat{fail: make(map[string]error)}
}

func (f *fakeChat) SendMessage(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn != "" && text == f.panicOn {
		panic("send exploded")
	}
	if err := f.fail[channelID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Text: text})
	return nil
}

func (f *fakeChat) DeleteMessage(_ context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, postID)
	return nil
}

func (f *fakeChat) SendPalette(_ context.Context, channelID, text string, palette []PaletteEmoji) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.palettes = append(f.palettes, sentPalette{ChannelID: channelID, Text: text, Palette: palette})
	return nil
}

func (f *fakeChat) setFail(channelID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[channelID] = err
}

func (f *fakeChat) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeChat) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeChat) Palettes() []sentPalette {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPalette(nil), f.palettes...)
}

// waitSent waits until at least n messages were sent and returns them.
func (f *fakeChat) waitSent(t *testing.T, n int) []sentMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sent := f.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent messages, got %d: %+v", n, len(f.Sent()), f.Sent())
	return nil
}

type testEnv struct {
	bridge *Bridge
	chat   *fakeChat
	mem    *store.Memory
	paths  store.Paths
	links  *links.Store
}

func testConfig() Config {
	return Config{
		PrimaryChannel: primaryChannel,
		MirrorChannel:  mirrorChannel,
		DeleteCommands: true,
		ErrorBackoff:   time.Millisecond,
		SendTimeout:    time.Second,
		Location:       time.UTC,
	}
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	paths := store.NewPaths("", "test")
	linkStore := links.NewStore(mem, paths, zerolog.Nop())
	chat := newFakeChat()
	b := New(cfg, mem, paths, linkStore, chat, zerolog.Nop())
	b.now = func() time.Time { return testNow }
	return &testEnv{bridge: b, chat: chat, mem: mem, paths: paths, links: linkStore}
}

// addLink writes a link record directly, the way an earlier redeem would.
func (e *testEnv) addLink(t *testing.T, link records.Link) {
	t.Helper()
	if err := store.PutJSON(context.Background(), e.mem, e.paths.Link(link.SiteUserID), link); err != nil {
		t.Fatalf("PutJSON link: %v", err)
	}
}

func (e *testEnv) setMirror(t *testing.T, on bool) {
	t.Helper()
	if err := store.PutJSON(context.Background(), e.mem, e.paths.MirrorFlag(), on); err != nil {
		t.Fatalf("PutJSON mirror flag: %v", err)
	}
}

func (e *testEnv) runPump(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.bridge.RunPump(ctx)
}

func siteRecord(t *testing.T, msg records.Message) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// failingLinks is a link service whose every call fails.
type failingLinks struct{ err error }

func (f failingLinks) ResolveBySiteID(context.Context, string) (*records.Link, error) {
	return nil, f.err
}

func (f failingLinks) ResolveByChatID(context.Context, string) (*records.Link, error) {
	return nil, f.err
}

func (f failingLinks) Redeem(context.Context, string, links.ChatIdentity) (*records.Link, error) {
	return nil, f.err
}

func (f failingLinks) Unlink(context.Context, string) (*records.Link, error) {
	return nil, f.err
}

var errStoreDown = errors.New("store unavailable")
