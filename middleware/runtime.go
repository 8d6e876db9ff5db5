package middleware

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/c360/mamastreams/config"
	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/health"
	"github.com/c360/mamastreams/metric"
)

// DefaultOutboundThrottle is the initial request rate, per second, of a transport with no
// outbound_throttle setting.
const DefaultOutboundThrottle = 500.0

// Runtime holds the bridges loaded for a process. It replaces a process-wide singleton:
// callers create one and share it between resource pools.
type Runtime struct {
	mu      sync.Mutex
	props   *config.Properties
	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor
	bridges map[string]Bridge
	opens   int
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics enables message and bridge metrics.
func WithMetrics(m *metric.Metrics) RuntimeOption {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// NewRuntime creates a runtime reading bridge settings from props.
func NewRuntime(props *config.Properties, opts ...RuntimeOption) *Runtime {
	if props == nil {
		props = config.NewProperties(nil)
	}
	r := &Runtime{
		props:   props,
		logger:  slog.Default(),
		health:  health.NewMonitor(),
		bridges: make(map[string]Bridge),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Properties returns the configuration the runtime was created with.
func (r *Runtime) Properties() *config.Properties {
	return r.props
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// Metrics returns the runtime metrics, or nil when disabled.
func (r *Runtime) Metrics() *metric.Metrics {
	return r.metrics
}

// Health returns the monitor tracking every transport created through the runtime.
func (r *Runtime) Health() *health.Monitor {
	return r.health
}

// LoadBridge returns the named bridge, creating it from its registered factory on first
// use. A bridge loaded while the runtime is open is opened immediately.
func (r *Runtime) LoadBridge(name string) (Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bridges[name]; ok {
		return b, nil
	}
	factory, ok := lookupFactory(name)
	if !ok {
		return nil, errors.WrapFatal(errors.ErrNoBridge, "Runtime", "LoadBridge",
			fmt.Sprintf("no bridge registered as %q", name))
	}
	b, err := factory(Env{
		Props:   r.props,
		Logger:  r.logger.With("bridge", name),
		Metrics: r.metrics,
		Health:  r.health,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "LoadBridge", fmt.Sprintf("create bridge %q", name))
	}
	if r.opens > 0 {
		if err := b.Open(); err != nil {
			return nil, errors.Wrap(err, "Runtime", "LoadBridge", fmt.Sprintf("open bridge %q", name))
		}
	}
	r.bridges[name] = b
	r.logger.Debug("Loaded bridge", "bridge", name)
	return b, nil
}

// Bridge returns a previously loaded bridge.
func (r *Runtime) Bridge(name string) (Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[name]
	return b, ok
}

// Open opens the runtime. Calls are reference counted; the first opens every loaded
// bridge.
func (r *Runtime) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opens == 0 {
		for _, name := range r.sortedNames() {
			if err := r.bridges[name].Open(); err != nil {
				return errors.Wrap(err, "Runtime", "Open", fmt.Sprintf("open bridge %q", name))
			}
		}
	}
	r.opens++
	return nil
}

// Close releases one Open. The last Close closes every bridge and forgets them.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opens == 0 {
		return errors.WrapInvalid(errors.ErrNotOpen, "Runtime", "Close", "close without open")
	}
	r.opens--
	if r.opens > 0 {
		return nil
	}

	var firstErr error
	for _, name := range r.sortedNames() {
		if err := r.bridges[name].Close(); err != nil {
			r.logger.Warn("Failed to close bridge", "bridge", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.bridges = make(map[string]Bridge)
	return firstErr
}

// IsOpen reports whether Open has been called more often than Close.
func (r *Runtime) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens > 0
}

// NewTransport creates a named transport on a loaded bridge. The runtime must be open.
func (r *Runtime) NewTransport(name string, bridge Bridge) (*Transport, error) {
	if name == "" || bridge == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Runtime", "NewTransport", "transport name and bridge required")
	}
	if !r.IsOpen() {
		return nil, errors.WrapInvalid(errors.ErrNotOpen, "Runtime", "NewTransport", "runtime not open")
	}
	impl, err := bridge.NewTransport(name)
	if err != nil {
		return nil, errors.Wrap(err, "Runtime", "NewTransport", fmt.Sprintf("create transport %q", name))
	}
	key := HealthKey(bridge.Name(), name)
	if _, ok := r.health.Get(key); !ok {
		r.health.UpdateHealthy(key, "transport created")
	}
	return &Transport{
		name:      name,
		bridge:    bridge,
		impl:      impl,
		logger:    r.logger.With("transport", name, "bridge", bridge.Name()),
		metrics:   r.metrics,
		health:    r.health,
		healthKey: key,
		throttle:  r.outboundThrottle(bridge.Name(), name),
	}, nil
}

// outboundThrottle reads mama.<bridge>.transport.<name>.outbound_throttle. A rate of 0 or
// below disables throttling.
func (r *Runtime) outboundThrottle(bridge, transport string) *rate.Limiter {
	perSec := r.props.GetFloat(fmt.Sprintf("mama.%s.transport.%s.outbound_throttle", bridge, transport),
		DefaultOutboundThrottle)
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

func (r *Runtime) sortedNames() []string {
	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
