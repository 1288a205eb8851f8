// Package queue implements the bounded hand-off between network goroutines
// (producers) and the tick goroutine (single consumer).
//
// Enqueue never blocks: once the queue is full the oldest entry is discarded
// to make room, so fresh data always wins over completeness.
package queue

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity is the hard cap on buffered messages.
	DefaultCapacity = 200
	// DefaultDrain is the per-tick drain cap.
	DefaultDrain = 20
)

// RawMessage is an opaque provider payload plus its receipt time.
type RawMessage struct {
	Payload    []byte
	ReceivedAt time.Time
}

// Queue is a mutex-guarded ring buffer. The lock is held only for slot
// bookkeeping, never across I/O.
type Queue struct {
	mu      sync.Mutex
	buf     []RawMessage
	head    int
	n       int
	dropped uint64
	total   uint64
}

// New returns a queue holding at most capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]RawMessage, capacity)}
}

// Enqueue appends payload, dropping the oldest message if the queue is full.
// It reports whether a message was dropped.
func (q *Queue) Enqueue(payload []byte, at time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := false
	if q.n == len(q.buf) {
		q.buf[q.head] = RawMessage{}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
		dropped = true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = RawMessage{Payload: payload, ReceivedAt: at}
	q.n++
	q.total++
	return dropped
}

// Drain removes and returns up to max messages in FIFO order.
func (q *Queue) Drain(max int) []RawMessage {
	if max <= 0 {
		max = DefaultDrain
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	k := min(max, q.n)
	if k == 0 {
		return nil
	}
	out := make([]RawMessage, k)
	for i := 0; i < k; i++ {
		out[i] = q.buf[q.head]
		q.buf[q.head] = RawMessage{}
		q.head = (q.head + 1) % len(q.buf)
	}
	q.n -= k
	return out
}

// Clear discards everything buffered.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.buf {
		q.buf[i] = RawMessage{}
	}
	q.head, q.n = 0, 0
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the hard capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Stats returns the lifetime enqueue and drop counts.
func (q *Queue) Stats() (enqueued, dropped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total, q.dropped
}
