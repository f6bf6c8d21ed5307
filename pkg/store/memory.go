// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-process Store. Watchers get their own delivery goroutine,
// so callbacks never run on the writer's goroutine.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	streams  map[string][]Record
	watchers map[string][]*memWatcher
	closed   bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		streams:  make(map[string][]Record),
		watchers: make(map[string][]*memWatcher),
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := collection + "/"
	var out []Record
	for k, v := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		child := k[len(prefix):]
		if strings.Contains(child, "/") {
			continue
		}
		out = append(out, Record{Key: child, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Append(_ context.Context, collection string, value []byte) (string, error) {
	id := ulid.Make().String()
	rec := Record{Key: id, Value: append([]byte(nil), value...)}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[collection+"/"+id] = rec.Value
	m.streams[collection] = append(m.streams[collection], rec)
	for _, w := range m.watchers[collection] {
		w.push(rec)
	}
	return id, nil
}

func (m *Memory) Watch(ctx context.Context, collection string, fn WatchFunc) error {
	w := newMemWatcher(fn)

	m.mu.Lock()
	for _, rec := range m.streams[collection] {
		w.push(rec)
	}
	m.watchers[collection] = append(m.watchers[collection], w)
	m.mu.Unlock()

	go w.run()
	go func() {
		<-ctx.Done()
		m.removeWatcher(collection, w)
		w.stop()
	}()
	return nil
}

// Records returns the records appended to collection, in write order.
func (m *Memory) Records(collection string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.streams[collection]...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ws := range m.watchers {
		for _, w := range ws {
			w.stop()
		}
	}
	m.watchers = make(map[string][]*memWatcher)
	return nil
}

func (m *Memory) removeWatcher(collection string, target *memWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.watchers[collection]
	for i, w := range ws {
		if w == target {
			m.watchers[collection] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// memWatcher queues records without bound so writers never wait on a slow
// callback.
type memWatcher struct {
	fn      WatchFunc
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Record
	stopped bool
}

func newMemWatcher(fn WatchFunc) *memWatcher {
	w := &memWatcher{fn: fn}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *memWatcher) push(rec Record) {
	w.mu.Lock()
	w.pending = append(w.pending, rec)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *memWatcher) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *memWatcher) run() {
	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		rec := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()
		w.fn(rec)
	}
}
