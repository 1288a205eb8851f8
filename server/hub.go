package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/live-ingest/event"
)

// DefaultSubscriberBuffer is how many encoded events a subscriber may lag by
// before it starts losing them.
const DefaultSubscriberBuffer = 64

// Hub fans canonical events out to SSE subscribers. OnCanonicalEvent never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[chan []byte]struct{}

	dropped atomic.Uint64
}

// NewHub returns a Hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[chan []byte]struct{})}
}

// OnCanonicalEvent implements event.Sink.
func (h *Hub) OnCanonicalEvent(e event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return
	}
	b, err := event.Marshal(e)
	if err != nil {
		slog.Warn("failed to encode event for subscribers", slog.String("kind", e.Kind().String()), slog.Any("err", err), slog.String("component", "http"))
		return
	}
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned func unregisters it and
// closes the channel.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
