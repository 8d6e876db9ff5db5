package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/health"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/metric"
)

// Transport is a named connection created through a bridge.
type Transport struct {
	name    string
	bridge  Bridge
	impl    TransportImpl
	logger  *slog.Logger
	metrics *metric.Metrics

	health    *health.Monitor
	healthKey string

	// throttle paces initial value requests; nil means unthrottled.
	throttle *rate.Limiter

	mu        sync.Mutex
	destroyed bool
}

// Name returns the transport name.
func (t *Transport) Name() string { return t.name }

// Bridge returns the bridge the transport was created on.
func (t *Transport) Bridge() Bridge { return t.bridge }

// Publish sends msg on subject.
func (t *Transport) Publish(subject string, msg *message.Msg) error {
	if msg == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Transport", "Publish", "nil message")
	}
	if t.isDestroyed() {
		return errors.WrapFatal(errors.ErrAlreadyDestroyed, "Transport", "Publish", t.name)
	}
	if err := t.impl.Publish(subject, msg); err != nil {
		return errors.Wrap(err, "Transport", "Publish", fmt.Sprintf("publish %s", subject))
	}
	return nil
}

// Destroy closes the transport. Later calls are no-ops.
func (t *Transport) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return nil
	}
	t.destroyed = true
	t.mu.Unlock()

	if t.health != nil {
		defer t.health.Remove(t.healthKey)
	}
	if err := t.impl.Close(); err != nil {
		return errors.Wrap(err, "Transport", "Destroy", t.name)
	}
	t.logger.Debug("Transport destroyed")
	return nil
}

// Health returns the transport's latest status from the runtime monitor.
func (t *Transport) Health() health.Status {
	if t.isDestroyed() {
		return health.NewUnhealthy(t.healthKey, "transport destroyed")
	}
	if t.health != nil {
		if status, ok := t.health.Get(t.healthKey); ok {
			return status
		}
	}
	return health.NewHealthy(t.healthKey, "transport open")
}

// OutboundThrottle returns the initial request rate limit in requests per second, or 0
// when requests are not throttled.
func (t *Transport) OutboundThrottle() float64 {
	if t.throttle == nil {
		return 0
	}
	return float64(t.throttle.Limit())
}

func (t *Transport) waitThrottle(ctx context.Context) error {
	if t.throttle == nil {
		return nil
	}
	return t.throttle.Wait(ctx)
}

// HealthKey returns the name the transport is monitored under.
func (t *Transport) HealthKey() string { return t.healthKey }

func (t *Transport) isDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}

// Source binds a symbol namespace to a transport.
type Source struct {
	namespace string
	transport *Transport

	mu        sync.Mutex
	destroyed bool
}

// NewSource creates a source. An empty namespace means symbols are used unqualified.
func NewSource(namespace string, t *Transport) *Source {
	return &Source{namespace: namespace, transport: t}
}

// SymbolNamespace returns the namespace prefixed to every symbol.
func (s *Source) SymbolNamespace() string { return s.namespace }

// Transport returns the transport the source is bound to.
func (s *Source) Transport() *Transport { return s.transport }

// Destroy marks the source unusable for new subscriptions.
func (s *Source) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
}

// IsDestroyed reports whether Destroy was called.
func (s *Source) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Publisher sends messages to one subject.
type Publisher struct {
	transport *Transport
	source    string
	subject   string
}

// NewPublisher creates a publisher for topic under the source namespace.
func NewPublisher(t *Transport, source, topic string) (*Publisher, error) {
	if t == nil || topic == "" {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "Publisher", "NewPublisher", "transport and topic required")
	}
	return &Publisher{transport: t, source: source, subject: Subject(source, topic)}, nil
}

// Subject returns the subject messages are sent on.
func (p *Publisher) Subject() string { return p.subject }

// Send publishes msg.
func (p *Publisher) Send(msg *message.Msg) error {
	if err := p.transport.Publish(p.subject, msg); err != nil {
		return err
	}
	if m := p.transport.metrics; m != nil {
		m.RecordMessagePublished(p.source)
	}
	return nil
}
