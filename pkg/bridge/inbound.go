// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aiku/roombridge/pkg/dedup"
	"github.com/aiku/roombridge/pkg/metrics"
	"github.com/aiku/roombridge/pkg/records"
	"github.com/aiku/roombridge/pkg/store"
)

// HandleStoreRecord is the store watch callback for the chat stream. It runs
// on the store's goroutine and never blocks: it decodes the record, drops
// anything the bridge wrote itself, and queues the rest for the pump.
func (b *Bridge) HandleStoreRecord(rec store.Record) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("key", rec.Key).Msg("Panic in store watch callback")
		}
	}()
	metrics.StoreEventsReceived.Inc()

	msg, err := records.DecodeMessage(rec.Value)
	if err != nil {
		metrics.StoreEventsDropped.WithLabelValues("invalid").Inc()
		b.log.Warn().Err(err).Str("key", rec.Key).Msg("Skipping malformed chat record")
		return
	}
	if dedup.IsBridgeOrigin(msg) {
		metrics.StoreEventsDropped.WithLabelValues("bridge_origin").Inc()
		return
	}

	select {
	case b.queue <- queued{key: rec.Key, msg: msg}:
		metrics.QueueDepth.Set(float64(len(b.queue)))
	default:
		b.dropped.Add(1)
		metrics.StoreEventsDropped.WithLabelValues("queue_full").Inc()
		b.log.Warn().
			Str("key", rec.Key).
			Int64("t", msg.T).
			Msg("Delivery queue full, dropping store event")
	}
}

// RunPump consumes the delivery queue until ctx is canceled. It must be the
// only consumer: the dedup cursor is advanced here and nowhere else.
func (b *Bridge) RunPump(ctx context.Context) {
	b.log.Debug().Msg("Delivery pump started")
	defer b.log.Debug().Msg("Delivery pump stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			metrics.QueueDepth.Set(float64(len(b.queue)))
			if err := b.processQueued(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.PumpErrors.Inc()
				b.log.Error().Err(err).
					Str("key", ev.key).
					Int64("t", ev.msg.T).
					Dur("backoff", b.cfg.ErrorBackoff).
					Msg("Failed to process store event")
				select {
				case <-ctx.Done():
					return
				case <-time.After(b.cfg.ErrorBackoff):
				}
			}
		}
	}
}

func (b *Bridge) processQueued(ctx context.Context, ev queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !b.guard.Admit(ev.msg.T, ev.key) {
		metrics.StoreEventsDropped.WithLabelValues("replay").Inc()
		b.log.Debug().Str("key", ev.key).Int64("t", ev.msg.T).Msg("Skipping already relayed store event")
		return nil
	}
	metrics.DedupCursor.Set(float64(b.guard.Cursor()))
	if b.cursor != nil {
		if err := b.cursor.Save(ctx, b.guard.Cursor()); err != nil {
			b.log.Warn().Err(err).Msg("Failed to persist dedup cursor")
		}
	}

	link, err := b.links.ResolveBySiteID(ctx, ev.msg.UID)
	if err != nil {
		return fmt.Errorf("failed to resolve sender: %w", err)
	}
	text := formatStoreMessage(ev.msg, link != nil)

	start := time.Now()
	d := b.deliver(ctx, text)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())

	log := b.log.With().Str("key", ev.key).Str("uid", ev.msg.UID).Int64("t", ev.msg.T).Logger()
	if d.Primary != nil {
		log.Error().Err(d.Primary).Msg("Failed to relay store message to chat")
	} else {
		log.Debug().Bool("mirrored", d.Mirrored).Msg("Relayed store message to chat")
	}
	if d.Mirror != nil {
		log.Warn().Err(d.Mirror).Msg("Failed to copy store message to mirror channel")
	}
	return nil
}

// Delivery is the outcome of relaying one store event. Only Primary is a
// delivery failure; Mirror is a best-effort copy and never fails the event.
type Delivery struct {
	Primary  error
	Mirror   error
	Mirrored bool
}

// OK reports whether the primary channel received the message.
func (d Delivery) OK() bool { return d.Primary == nil }

func (b *Bridge) deliver(ctx context.Context, text string) Delivery {
	var d Delivery
	d.Primary = b.send(ctx, b.cfg.PrimaryChannel, text)
	metrics.Deliveries.WithLabelValues("primary", result(d.Primary)).Inc()

	if b.cfg.MirrorChannel == "" || b.cfg.MirrorChannel == b.cfg.PrimaryChannel || !b.mirrorActive(ctx) {
		return d
	}
	d.Mirror = b.send(ctx, b.cfg.MirrorChannel, text)
	d.Mirrored = d.Mirror == nil
	metrics.Deliveries.WithLabelValues("mirror", result(d.Mirror)).Inc()
	return d
}

func (b *Bridge) send(ctx context.Context, channelID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()
	return b.chat.SendMessage(ctx, channelID, text)
}

// mirrorActive reads the site-owned mirror flag. A missing or unreadable flag
// counts as off.
func (b *Bridge) mirrorActive(ctx context.Context) bool {
	raw, err := b.st.Get(ctx, b.paths.MirrorFlag())
	if errors.Is(err, store.ErrNotFound) {
		return false
	} else if err != nil {
		b.log.Warn().Err(err).Msg("Failed to read mirror flag")
		return false
	}
	return parseFlag(raw)
}

// parseFlag accepts a JSON boolean, or a string or number the site may have
// written instead.
func parseFlag(raw []byte) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		on, _ := strconv.ParseBool(val)
		return on
	case float64:
		return val != 0
	default:
		return false
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
