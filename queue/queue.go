// Package queue provides named dispatch queues: each queue runs its events one at a time
// on its own goroutine, in enqueue order. A Group holds a fixed set of queues and hands
// them out round robin or by index.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/tomb.v2"
)

// DefaultSize is the event buffer size used when none is configured.
const DefaultSize = 1024

// Queue serializes events onto a single dispatcher goroutine. Events may be enqueued
// before dispatch starts; they run once StartDispatch is called.
type Queue struct {
	events chan func()
	size   int
	logger *slog.Logger

	mu          sync.Mutex
	name        string
	t           *tomb.Tomb
	dispatching bool
	destroyed   bool
	held        func() // taken off events by a dispatcher that was stopping

	enqueued   int64
	dispatched int64
	dropped    int64

	metrics *queueMetrics
}

type queueMetrics struct {
	depth      prometheus.Gauge
	dispatched prometheus.Counter
	dropped    prometheus.Counter
}

type config struct {
	size   int
	logger *slog.Logger
}

// Option configures a Queue or the queues of a Group.
type Option func(*config)

// WithSize sets the event buffer size.
func WithSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithLogger sets the logger used to report event panics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConfig(opts []Option) config {
	c := config{size: DefaultSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// New creates a queue that is not yet dispatching.
func New(name string, opts ...Option) *Queue {
	c := newConfig(opts)
	return &Queue{
		name:   name,
		size:   c.size,
		events: make(chan func(), c.size),
		logger: c.logger,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.name
}

// SetName renames the queue.
func (q *Queue) SetName(name string) {
	q.mu.Lock()
	q.name = name
	q.mu.Unlock()
}

// Enqueue schedules fn to run on the dispatcher. It never blocks: a full buffer returns
// ErrQueueFull.
func (q *Queue) Enqueue(fn func()) error {
	if fn == nil {
		return ErrNilEvent
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return ErrQueueDestroyed
	}

	select {
	case q.events <- fn:
		atomic.AddInt64(&q.enqueued, 1)
		if q.metrics != nil {
			q.metrics.depth.Set(float64(len(q.events)))
		}
		return nil
	default:
		atomic.AddInt64(&q.dropped, 1)
		if q.metrics != nil {
			q.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// StartDispatch starts the dispatcher goroutine. Starting a dispatching queue is a no-op.
func (q *Queue) StartDispatch() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return ErrQueueDestroyed
	}
	if q.dispatching {
		return nil
	}
	t := &tomb.Tomb{}
	t.Go(func() error { return q.dispatch(t) })
	q.t = t
	q.dispatching = true
	return nil
}

// StopDispatch stops the dispatcher and waits for the running event, if any, to finish.
// No event runs after it returns. Pending events stay queued.
//
// StopDispatch must not be called from an event running on this queue.
func (q *Queue) StopDispatch() {
	q.mu.Lock()
	t := q.t
	q.t = nil
	q.dispatching = false
	q.mu.Unlock()

	if t == nil {
		return
	}
	t.Kill(nil)
	_ = t.Wait()
}

// IsDispatching reports whether the dispatcher is running.
func (q *Queue) IsDispatching() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dispatching
}

// Destroy stops dispatch and discards pending events. It returns the number discarded.
// Destroying twice is harmless.
func (q *Queue) Destroy() int {
	q.StopDispatch()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return 0
	}
	q.destroyed = true

	discarded := 0
	if q.held != nil {
		q.held = nil
		discarded++
	}
	for {
		select {
		case <-q.events:
			discarded++
		default:
			if q.metrics != nil {
				q.metrics.depth.Set(0)
			}
			return discarded
		}
	}
}

func (q *Queue) dispatch(t *tomb.Tomb) error {
	q.mu.Lock()
	held := q.held
	q.held = nil
	q.mu.Unlock()
	if held != nil {
		q.run(held)
	}

	for {
		select {
		case <-t.Dying():
			return nil
		case fn := <-q.events:
			// Kill may race with a ready event; honour the stop first.
			select {
			case <-t.Dying():
				q.mu.Lock()
				q.held = fn
				q.mu.Unlock()
				return nil
			default:
			}
			q.run(fn)
		}
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Queue event panicked", "queue", q.Name(), "panic", fmt.Sprint(r))
		}
		atomic.AddInt64(&q.dispatched, 1)
		if q.metrics != nil {
			q.metrics.dispatched.Inc()
			q.metrics.depth.Set(float64(len(q.events)))
		}
	}()
	fn()
}

// Depth returns the number of events waiting to run.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.events)
	if q.held != nil {
		n++
	}
	return n
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Name        string `json:"name"`
	Size        int    `json:"size"`
	Depth       int    `json:"depth"`
	Enqueued    int64  `json:"enqueued"`
	Dispatched  int64  `json:"dispatched"`
	Dropped     int64  `json:"dropped"`
	Dispatching bool   `json:"dispatching"`
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	name, dispatching := q.name, q.dispatching
	q.mu.Unlock()
	return Stats{
		Name:        name,
		Size:        q.size,
		Depth:       q.Depth(),
		Enqueued:    atomic.LoadInt64(&q.enqueued),
		Dispatched:  atomic.LoadInt64(&q.dispatched),
		Dropped:     atomic.LoadInt64(&q.dropped),
		Dispatching: dispatching,
	}
}
