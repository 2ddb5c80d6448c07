// Package ordering serializes asynchronous enrichment of incoming remote
// events so they reach the reconciliation engine in non-decreasing
// timestamp order, regardless of how long each enrichment takes.
package ordering

import (
	"context"
	"sort"
	"sync"

	"chatview/pkg/logger"
	"chatview/pkg/metrics"
	"chatview/pkg/models"
)

// EnrichFunc prepares an event for application, e.g. resolving the sender
// profile. It may block. Failures are logged and the event proceeds
// unenriched; enrichment is best-effort, reconciliation is not.
type EnrichFunc func(ctx context.Context, ev *models.RemoteEvent) error

// ApplyFunc hands a fully enriched event to the reconciliation engine.
type ApplyFunc func(ev *models.RemoteEvent)

// Queue buffers events sorted by CreatedAt and drains them with a
// single-flight loop: one enrichment at a time, earliest timestamp first.
// Arrivals during an enrichment are inserted at their sorted position, so a
// slow lookup for an older event never lets a newer event apply first.
type Queue struct {
	enrich EnrichFunc
	apply  ApplyFunc

	mu      sync.Mutex
	buf     []*models.RemoteEvent
	running bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	idle    chan struct{} // closed when the drain loop parks; recreated on start
}

// New returns a Queue feeding apply through enrich.
func New(enrich EnrichFunc, apply ApplyFunc) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{enrich: enrich, apply: apply, ctx: ctx, cancel: cancel}
	q.idle = make(chan struct{})
	close(q.idle)
	return q
}

// Enqueue inserts ev into the buffer at its sorted position and starts the
// drain loop if it is parked. Events enqueued after Close are dropped.
func (q *Queue) Enqueue(ev *models.RemoteEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	at := sort.Search(len(q.buf), func(i int) bool {
		return q.buf[i].CreatedAt > ev.CreatedAt
	})
	q.buf = append(q.buf, nil)
	copy(q.buf[at+1:], q.buf[at:])
	q.buf[at] = ev
	metrics.QueueDepth.Set(float64(len(q.buf)))
	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	q.mu.Unlock()
}

// Depth returns the number of buffered events.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Wait blocks until the queue has drained and the loop is parked. Intended
// for tests and shutdown.
func (q *Queue) Wait() {
	q.mu.Lock()
	ch := q.idle
	q.mu.Unlock()
	<-ch
}

// Close drops buffered events and stops any in-flight enrichment's context.
// The queue accepts no further events.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	metrics.QueueDepth.Set(0)
	q.mu.Unlock()
	q.cancel()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.buf) == 0 {
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		ev := q.buf[0]
		q.buf = q.buf[1:]
		metrics.QueueDepth.Set(float64(len(q.buf)))
		q.mu.Unlock()

		if err := q.enrich(q.ctx, ev); err != nil {
			metrics.EnrichFailures.Inc()
			logger.Warn("event_enrich_failed", "event", ev.ID, "error", err)
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			continue
		}
		q.apply(ev)
	}
}
