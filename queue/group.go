package queue

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/c360/mamastreams/metric"
)

// Group is a fixed set of queues.
type Group struct {
	queues []*Queue
	logger *slog.Logger

	mu   sync.Mutex
	next int

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// GroupOption configures a Group.
type GroupOption func(*groupConfig)

type groupConfig struct {
	namePrefix      string
	queueOpts       []Option
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// WithNamePrefix names the queues <prefix>_0, <prefix>_1, and so on. Defaults to "queue".
func WithNamePrefix(prefix string) GroupOption {
	return func(c *groupConfig) {
		if prefix != "" {
			c.namePrefix = prefix
		}
	}
}

// WithQueueOptions applies opts to every queue in the group.
func WithQueueOptions(opts ...Option) GroupOption {
	return func(c *groupConfig) { c.queueOpts = append(c.queueOpts, opts...) }
}

// WithMetricsRegistry registers per-queue depth, dispatched and dropped metrics under
// prefix.
func WithMetricsRegistry(registry *metric.MetricsRegistry, prefix string) GroupOption {
	return func(c *groupConfig) {
		c.metricsRegistry = registry
		c.metricsPrefix = prefix
	}
}

// NewGroup creates n queues. n below 1 is treated as 1.
func NewGroup(n int, opts ...GroupOption) *Group {
	if n < 1 {
		n = 1
	}
	c := groupConfig{namePrefix: "queue"}
	for _, opt := range opts {
		opt(&c)
	}
	qc := newConfig(c.queueOpts)

	g := &Group{
		queues: make([]*Queue, n),
		logger: qc.logger,
	}
	for i := range g.queues {
		g.queues[i] = New(fmt.Sprintf("%s_%d", c.namePrefix, i), c.queueOpts...)
	}
	if c.metricsRegistry != nil && c.metricsPrefix != "" {
		g.initializeMetrics(c.metricsRegistry, c.metricsPrefix)
	}
	return g
}

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func (g *Group) initializeMetrics(registry *metric.MetricsRegistry, prefix string) {
	prefix = invalidMetricChars.ReplaceAllString(prefix, "_")

	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Events waiting on a dispatch queue",
	}, []string{"queue"})
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_dispatched_total",
		Help: "Events run by a dispatch queue",
	}, []string{"queue"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_dropped_total",
		Help: "Events rejected because a dispatch queue was full",
	}, []string{"queue"})

	const component = "queue_group"
	if err := registry.RegisterGaugeVec(component, prefix+"_queue_depth", depth); err != nil {
		g.logger.Warn("Queue metrics disabled", "prefix", prefix, "error", err)
		return
	}
	if err := registry.RegisterCounterVec(component, prefix+"_dispatched_total", dispatched); err != nil {
		g.logger.Warn("Queue metrics disabled", "prefix", prefix, "error", err)
		registry.Unregister(component, prefix+"_queue_depth")
		return
	}
	if err := registry.RegisterCounterVec(component, prefix+"_dropped_total", dropped); err != nil {
		g.logger.Warn("Queue metrics disabled", "prefix", prefix, "error", err)
		registry.Unregister(component, prefix+"_queue_depth")
		registry.Unregister(component, prefix+"_dispatched_total")
		return
	}

	g.metricsRegistry = registry
	g.metricsPrefix = prefix
	for _, q := range g.queues {
		q.metrics = &queueMetrics{
			depth:      depth.WithLabelValues(q.name),
			dispatched: dispatched.WithLabelValues(q.name),
			dropped:    dropped.WithLabelValues(q.name),
		}
	}
}

// Len returns the number of queues.
func (g *Group) Len() int { return len(g.queues) }

// Next returns queues in round-robin order.
func (g *Group) Next() *Queue {
	g.mu.Lock()
	defer g.mu.Unlock()
	q := g.queues[g.next]
	g.next = (g.next + 1) % len(g.queues)
	return q
}

// Queue returns the queue at index i.
func (g *Group) Queue(i int) (*Queue, error) {
	if i < 0 || i >= len(g.queues) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrNoSuchQueue, i, len(g.queues))
	}
	return g.queues[i], nil
}

// StartDispatch starts every queue.
func (g *Group) StartDispatch() error {
	for _, q := range g.queues {
		if err := q.StartDispatch(); err != nil {
			return fmt.Errorf("start %s: %w", q.Name(), err)
		}
	}
	return nil
}

// StopDispatch stops every queue and waits for running events to finish.
func (g *Group) StopDispatch() {
	var eg errgroup.Group
	for _, q := range g.queues {
		eg.Go(func() error {
			q.StopDispatch()
			return nil
		})
	}
	_ = eg.Wait()
}

// DestroyWait stops and destroys every queue, waiting up to timeout for running events.
// On timeout the queues are left to finish in the background and ErrStopTimeout is
// returned.
func (g *Group) DestroyWait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		var eg errgroup.Group
		for _, q := range g.queues {
			eg.Go(func() error {
				if n := q.Destroy(); n > 0 {
					g.logger.Debug("Discarded pending events", "queue", q.Name(), "count", n)
				}
				return nil
			})
		}
		_ = eg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return ErrStopTimeout
	}

	if g.metricsRegistry != nil {
		const component = "queue_group"
		g.metricsRegistry.Unregister(component, g.metricsPrefix+"_queue_depth")
		g.metricsRegistry.Unregister(component, g.metricsPrefix+"_dispatched_total")
		g.metricsRegistry.Unregister(component, g.metricsPrefix+"_dropped_total")
		g.metricsRegistry = nil
	}
	return nil
}

// Stats returns a snapshot of every queue.
func (g *Group) Stats() []Stats {
	out := make([]Stats, len(g.queues))
	for i, q := range g.queues {
		out[i] = q.Stats()
	}
	return out
}
