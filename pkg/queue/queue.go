// Package queue provides the bounded FIFO buffer that decouples detection
// from delivery. Overflow policy: drop-oldest with a dropped-event counter,
// so Enqueue never blocks producers.
package queue

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// DefaultMaxAttempts is how many failed deliveries an event survives
// before it is dropped and the expired counter incremented.
const DefaultMaxAttempts = 3

// Queue is a concurrency-safe bounded FIFO of events. Many producers
// (collector cycles and push collectors), one consumer (the uploader).
type Queue struct {
	mu          sync.Mutex
	items       []models.Event
	capacity    int
	maxAttempts int
	logger      *zap.Logger

	dropped atomic.Uint64
	expired atomic.Uint64
}

// New creates a queue with the given capacity (maxStorageSize). A
// capacity below one is clamped to one so Enqueue always has room to
// drop into.
func New(capacity int, logger *zap.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		capacity:    capacity,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
	}
}

// Enqueue appends an event. When the queue is full the oldest event is
// dropped to make room and the dropped counter incremented once.
func (q *Queue) Enqueue(ev models.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped.Inc()
		q.logger.Debug("event queue full, dropped oldest event",
			zap.Uint64("dropped_total", q.dropped.Load()))
	}
	q.items = append(q.items, ev)
}

// DrainBatch removes and returns up to maxN events from the head of the
// queue in temporal order. Events are considered delivered only once the
// uploader reports success; on failure they must be handed back through
// RequeueFront.
func (q *Queue) DrainBatch(maxN int) []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if maxN <= 0 || len(q.items) == 0 {
		return nil
	}
	n := maxN
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]models.Event, n)
	copy(batch, q.items[:n])
	q.items = append([]models.Event(nil), q.items[n:]...)
	return batch
}

// RequeueFront puts a failed batch back at the head of the queue in its
// original order. Each event's attempt counter is incremented; events
// that exceed the retry limit are dropped and counted as expired. Events
// that no longer fit because producers filled the queue in the meantime
// are dropped from the tail of the requeued batch.
func (q *Queue) RequeueFront(batch []models.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keep := make([]models.Event, 0, len(batch))
	for _, ev := range batch {
		ev.Attempts++
		if ev.Attempts >= q.maxAttempts {
			q.expired.Inc()
			q.logger.Warn("event exceeded delivery retry limit, dropping",
				zap.String("category", string(ev.Category)),
				zap.String("dedup_key", ev.DedupKey))
			continue
		}
		keep = append(keep, ev)
	}

	room := q.capacity - len(q.items)
	if room < len(keep) {
		q.dropped.Add(uint64(len(keep) - room))
		keep = keep[:room]
	}
	q.items = append(keep, q.items...)
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many events were lost to overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Expired returns how many events were dropped after exhausting retries.
func (q *Queue) Expired() uint64 { return q.expired.Load() }
