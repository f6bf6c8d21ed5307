// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/roombridge/pkg/dedup"
	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

func TestLinkedSiteMessageScenario(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	env.addLink(t, records.Link{SiteUserID: "site_42", SiteName: "Alice", SiteColor: "#f00", ChatUserID: "555"})
	env.setMirror(t, true)

	raw := siteRecord(t, records.Message{UID: "site_42", Name: "Alice", Text: "hi there", T: 1000})
	env.bridge.HandleStoreRecord(store.Record{Key: "k1", Value: raw})
	// A watch replay of the same record.
	env.bridge.HandleStoreRecord(store.Record{Key: "k1", Value: raw})
	// Sentinel so the test knows the replay has been processed.
	env.bridge.HandleStoreRecord(store.Record{Key: "k2", Value: siteRecord(t, records.Message{UID: "x", Name: "Bob", Text: "done", T: 2000})})
	env.runPump(t)

	env.chat.waitSent(t, 4)
	want := []sentMessage{
		{primaryChannel, "🎨 **Alice**: hi there"},
		{mirrorChannel, "🎨 **Alice**: hi there"},
		{primaryChannel, "[WEB] **Bob**: done"},
		{mirrorChannel, "[WEB] **Bob**: done"},
	}
	time.Sleep(20 * time.Millisecond)
	sent := env.chat.Sent()
	if len(sent) != len(want) {
		t.Fatalf("sent %d messages, want %d: %+v", len(sent), len(want), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("send %d: got %+v, want %+v", i, sent[i], want[i])
		}
	}
	if got := env.bridge.Status(context.Background()).Cursor; got != 2000 {
		t.Errorf("cursor: got %d, want 2000", got)
	}
}

func TestMirrorOnlyWhenFlagSet(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		flag string
		want int
	}{
		{name: "no flag", want: 1},
		{name: "false", flag: "false", want: 1},
		{name: "true", flag: "true", want: 2},
		{name: "string true", flag: `"true"`, want: 2},
		{name: "garbage", flag: `{`, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, testConfig())
			if tt.flag != "" {
				_ = env.mem.Put(context.Background(), env.paths.MirrorFlag(), []byte(tt.flag))
			}
			d := env.bridge.deliver(context.Background(), "text")
			if !d.OK() {
				t.Fatalf("primary failed: %v", d.Primary)
			}
			if got := len(env.chat.Sent()); got != tt.want {
				t.Errorf("sent %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMirrorSameAsPrimaryIsNotDuplicated(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MirrorChannel = primaryChannel
	env := newTestEnv(t, cfg)
	env.setMirror(t, true)

	env.bridge.deliver(context.Background(), "text")
	if got := len(env.chat.Sent()); got != 1 {
		t.Errorf("sent %d, want 1", got)
	}
}

func TestDeliveryMirrorFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	env.setMirror(t, true)
	env.chat.setFail(mirrorChannel, errors.New("mirror down"))

	d := env.bridge.deliver(context.Background(), "text")
	if !d.OK() {
		t.Errorf("primary should succeed, got %v", d.Primary)
	}
	if d.Mirror == nil || d.Mirrored {
		t.Errorf("mirror failure not reported: %+v", d)
	}
	sent := env.chat.Sent()
	if len(sent) != 1 || sent[0].ChannelID != primaryChannel {
		t.Errorf("unexpected sends: %+v", sent)
	}
}

func TestDeliveryPrimaryFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	env.chat.setFail(primaryChannel, errors.New("primary down"))

	d := env.bridge.deliver(context.Background(), "text")
	if d.OK() {
		t.Fatal("primary failure not reported")
	}
	if d.Mirror != nil {
		t.Errorf("mirror flag is off, mirror should not be tried: %v", d.Mirror)
	}
}

func TestPumpPreservesOrder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	for i, text := range []string{"one", "two", "three"} {
		raw := siteRecord(t, records.Message{UID: "u", Name: "N", Text: text, T: int64(100 + i)})
		env.bridge.HandleStoreRecord(store.Record{Key: text, Value: raw})
	}
	env.runPump(t)

	sent := env.chat.waitSent(t, 3)
	for i, text := range []string{"one", "two", "three"} {
		if !strings.HasSuffix(sent[i].Text, ": "+text) {
			t.Errorf("send %d: got %q, want %q", i, sent[i].Text, text)
		}
	}
}

func TestBridgeOriginRecordsAreNotRelayed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	raw := siteRecord(t, records.Message{UID: "chat_777", Name: "[MM] Bob", Text: "hello", T: 500, FromExternalChat: true})
	env.bridge.HandleStoreRecord(store.Record{Key: "k", Value: raw})

	if got := len(env.bridge.queue); got != 0 {
		t.Errorf("bridge-written record was queued (%d)", got)
	}
	if got := env.bridge.Status(context.Background()).Cursor; got != 0 {
		t.Errorf("cursor moved to %d on a bridge-written record", got)
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	for _, raw := range []string{`not json`, `{"text":"no time"}`, `{"t":5}`, `[]`} {
		env.bridge.HandleStoreRecord(store.Record{Key: "bad", Value: []byte(raw)})
	}
	if got := len(env.bridge.queue); got != 0 {
		t.Errorf("malformed records queued: %d", got)
	}
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.QueueSize = 2
	env := newTestEnv(t, cfg)

	var raws [][]byte
	for i := range 3 {
		raws = append(raws, siteRecord(t, records.Message{UID: "u", Text: "x", T: int64(i + 1)}))
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, raw := range raws {
			env.bridge.HandleStoreRecord(store.Record{Key: "k", Value: raw})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleStoreRecord blocked on a full queue")
	}

	st := env.bridge.Status(context.Background())
	if st.Dropped != 1 || st.QueueDepth != 2 || st.QueueCapacity != 2 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestPumpSurvivesFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	env.chat.panicOn = "[WEB] **N**: boom"

	for i, text := range []string{"boom", "after"} {
		raw := siteRecord(t, records.Message{UID: "u", Name: "N", Text: text, T: int64(10 + i)})
		env.bridge.HandleStoreRecord(store.Record{Key: text, Value: raw})
	}
	env.runPump(t)

	sent := env.chat.waitSent(t, 1)
	if sent[0].Text != "[WEB] **N**: after" {
		t.Errorf("got %q after a panicking send", sent[0].Text)
	}
}

func TestPumpContinuesAfterResolveError(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	chat := newFakeChat()
	cfg := testConfig()
	b := New(cfg, mem, store.NewPaths("", "t"), failingLinks{err: errStoreDown}, chat, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.HandleStoreRecord(store.Record{Key: "a", Value: siteRecord(t, records.Message{UID: "u", Text: "x", T: 1})})
	done := make(chan struct{})
	go func() {
		b.RunPump(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(b.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on cancel")
	}
	if got := len(chat.Sent()); got != 0 {
		t.Errorf("event with failed lookup was sent: %d", got)
	}
}

func TestStartSkipsHistoryAndPersistsCursor(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := records.Message{UID: "u", Name: "Old", Text: "history", T: testNow.UnixMilli() - 60_000}
	if _, err := store.AppendJSON(ctx, env.mem, env.paths.Chat(), old); err != nil {
		t.Fatal(err)
	}
	cs := dedup.NewCursorStore(env.mem, env.paths.Cursor(), zerolog.Nop())
	env.bridge.SetCursorStore(cs)
	if err := env.bridge.Start(ctx, true); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fresh := records.Message{UID: "u", Name: "New", Text: "live", T: testNow.UnixMilli() + 1}
	if _, err := store.AppendJSON(ctx, env.mem, env.paths.Chat(), fresh); err != nil {
		t.Fatal(err)
	}
	sent := env.chat.waitSent(t, 1)
	if sent[0].Text != "[WEB] **New**: live" {
		t.Errorf("got %q, history should have been skipped", sent[0].Text)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := cs.Load(ctx); got == fresh.T {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("cursor not persisted as %d", fresh.T)
}

func TestNoLoopback(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := env.bridge.Start(ctx, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	env.bridge.HandleChatMessage(ctx, ChatMessage{
		ID:        "p1",
		ChannelID: primaryChannel,
		Sender:    ChatUser{ID: "777", DisplayName: "Bob"},
		Text:      "hello",
	})
	// The site answers afterwards; once that is relayed, the bridge's own
	// record has already passed through the watch.
	reply := records.Message{UID: "site_1", Name: "Web", Text: "hi bob", T: testNow.UnixMilli() + 10}
	if _, err := store.AppendJSON(ctx, env.mem, env.paths.Chat(), reply); err != nil {
		t.Fatal(err)
	}

	env.chat.waitSent(t, 1)
	time.Sleep(20 * time.Millisecond)
	sent := env.chat.Sent()
	if len(sent) != 1 || sent[0].Text != "[WEB] **Web**: hi bob" {
		t.Errorf("unexpected sends: %+v", sent)
	}
}

func TestFormatStoreMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		msg    records.Message
		linked bool
		want   string
	}{
		{"linked", records.Message{Name: "Alice", Text: "hi"}, true, "🎨 **Alice**: hi"},
		{"unlinked", records.Message{Name: "Visitor", Text: "hi"}, false, "[WEB] **Visitor**: hi"},
		{"guest", records.Message{Text: "hi"}, false, "[WEB] **Guest**: hi"},
		{"escaped", records.Message{Name: "a*b", Text: "**x**"}, false, `[WEB] **a\*b**: **x**`},
	}
	for _, tt := range tests {
		if got := formatStoreMessage(&tt.msg, tt.linked); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParseFlag(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		`true`:    true,
		`false`:   false,
		`"true"`:  true,
		`"1"`:     true,
		`"nope"`:  false,
		`1`:       true,
		`0`:       false,
		`null`:    false,
		`{"a":1}`: false,
		``:        false,
	}
	for raw, want := range tests {
		if got := parseFlag([]byte(raw)); got != want {
			t.Errorf("parseFlag(%q) = %v, want %v", raw, got, want)
		}
	}
}
