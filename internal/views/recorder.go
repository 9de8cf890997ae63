// Package views records content impressions off the request path.
package views

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultQueueSize is used when NewRecorder is given a non-positive size.
const DefaultQueueSize = 1000

const writeTimeout = 5 * time.Second

// Counter is the persistence the recorder writes through.
type Counter interface {
	AddViews(ctx context.Context, contentID, variantID string, n int64) error
}

// Event is one impression of a variant. An empty VariantID counts the
// default content.
type Event struct {
	ContentID string
	VariantID string
}

// Recorder queues view events and writes them from a single worker.
type Recorder struct {
	counter Counter
	log     zerolog.Logger
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool

	// OnDrop is called for every event discarded because the queue was full.
	OnDrop func()
}

func NewRecorder(counter Counter, size int, log zerolog.Logger) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Recorder{
		counter: counter,
		log:     log,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
}

// Start launches the worker.
func (r *Recorder) Start() {
	go r.worker()
}

// Record queues e without blocking. Events are dropped when the queue is
// full or the recorder is closed.
func (r *Recorder) Record(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "closed")
		return
	}
	select {
	case r.queue <- e:
	default:
		r.drop(e, "queue full")
	}
}

// Dropped returns the number of discarded events.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting events and waits until queued events are written.
// The recorder must have been started.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *Recorder) drop(e Event, reason string) {
	r.dropped.Add(1)
	if r.OnDrop != nil {
		r.OnDrop()
	}
	r.log.Warn().Str("content_id", e.ContentID).Str("variant_id", e.VariantID).
		Str("reason", reason).Msg("view event dropped")
}

// worker coalesces whatever is already queued into one write per variant.
func (r *Recorder) worker() {
	defer close(r.done)

	for e := range r.queue {
		batch := map[Event]int64{e: 1}
	drain:
		for {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break drain
				}
				batch[next]++
			default:
				break drain
			}
		}
		r.flush(batch)
	}
}

func (r *Recorder) flush(batch map[Event]int64) {
	for e, n := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.counter.AddViews(ctx, e.ContentID, e.VariantID, n)
		cancel()
		if err != nil {
			r.log.Error().Err(err).Str("content_id", e.ContentID).Str("variant_id", e.VariantID).
				Int64("views", n).Msg("failed to record views")
		}
	}
}
