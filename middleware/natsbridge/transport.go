package natsbridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/health"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
)

// Transport is one NATS connection.
type Transport struct {
	name    string
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor
	onClose func(*Transport)

	mu         sync.Mutex
	closed     bool
	last       map[string][]byte
	responders map[string]*nats.Subscription
}

// Dial connects a transport with the given settings. env supplies the logger, metrics and
// health monitor; its Props are not read.
func Dial(name string, s Settings, env middleware.Env) (*Transport, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		name:       name,
		logger:     logger.With("transport", name),
		metrics:    env.Metrics,
		health:     env.Health,
		last:       make(map[string][]byte),
		responders: make(map[string]*nats.Subscription),
	}

	conn, err := nats.Connect(s.URL,
		nats.Name(s.ClientName),
		nats.MaxReconnects(s.MaxReconnects),
		nats.ReconnectWait(s.ReconnectWait),
		nats.Timeout(s.Timeout),
		nats.DisconnectErrHandler(t.handleDisconnect),
		nats.ReconnectHandler(t.handleReconnect),
		nats.ClosedHandler(t.handleClosed),
		nats.ErrorHandler(t.handleError),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsbridge", "Dial", fmt.Sprintf("connect %s to %s", name, s.URL))
	}
	t.conn = conn
	t.recordStatus(true, nil)
	t.logger.Info("Connected to NATS", "url", conn.ConnectedUrl())
	return t, nil
}

// Subscribe decodes every message on subject and hands it to h. Messages that fail to
// decode are logged and dropped.
func (t *Transport) Subscribe(subject string, h middleware.Handler) (middleware.Unsubscriber, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "natsbridge", "Subscribe", "nil handler")
	}
	sub, err := t.conn.Subscribe(subject, func(m *nats.Msg) {
		msg, err := message.Unmarshal(m.Data)
		if err != nil {
			t.logger.Warn("Dropping undecodable message", "subject", m.Subject, "error", err)
			return
		}
		h(msg)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsbridge", "Subscribe", fmt.Sprintf("subscribe %s", subject))
	}
	return sub, nil
}

// Publish encodes and sends msg, and remembers it as the subject's initial image.
func (t *Transport) Publish(subject string, msg *message.Msg) error {
	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.serveInitial(subject, data); err != nil {
		return err
	}
	if err := t.conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natsbridge", "Publish", fmt.Sprintf("publish %s", subject))
	}
	return nil
}

func (t *Transport) serveInitial(subject string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.WrapFatal(errors.ErrAlreadyDestroyed, "natsbridge", "Publish", t.name)
	}
	t.last[subject] = data
	if _, ok := t.responders[subject]; ok {
		return nil
	}
	sub, err := t.conn.Subscribe(InitialPrefix+subject, func(m *nats.Msg) {
		t.mu.Lock()
		img := t.last[subject]
		t.mu.Unlock()
		if err := m.Respond(img); err != nil {
			t.logger.Debug("Failed to answer initial request", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "natsbridge", "Publish", fmt.Sprintf("serve initial for %s", subject))
	}
	t.responders[subject] = sub
	return nil
}

// RequestInitial asks the publisher of subject for its current image.
func (t *Transport) RequestInitial(ctx context.Context, subject string) (*message.Msg, error) {
	reply, err := t.conn.RequestWithContext(ctx, InitialPrefix+subject, nil)
	switch {
	case err == nil:
		return message.Unmarshal(reply.Data)
	case stderrors.Is(err, nats.ErrNoResponders):
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrNotFound, err),
			"natsbridge", "RequestInitial", fmt.Sprintf("no publisher for %s", subject))
	case stderrors.Is(err, nats.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrRequestTimeout, err),
			"natsbridge", "RequestInitial", subject)
	default:
		return nil, errors.WrapTransient(err, "natsbridge", "RequestInitial", subject)
	}
}

// Close drains the connection. Later calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.responders = make(map[string]*nats.Subscription)
	t.mu.Unlock()

	if t.onClose != nil {
		t.onClose(t)
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return errors.Wrap(err, "natsbridge", "Close", t.name)
	}
	return nil
}

func (t *Transport) handleDisconnect(_ *nats.Conn, err error) {
	t.recordStatus(false, err)
	if err != nil {
		t.logger.Warn("Disconnected from NATS", "error", err)
	}
}

func (t *Transport) handleReconnect(c *nats.Conn) {
	t.recordStatus(true, nil)
	if t.metrics != nil {
		t.metrics.RecordNATSReconnect(t.name)
	}
	t.logger.Info("Reconnected to NATS", "url", c.ConnectedUrl())
}

func (t *Transport) handleClosed(c *nats.Conn) {
	if t.metrics != nil {
		t.metrics.RecordNATSStatus(t.name, false)
	}
	t.mu.Lock()
	expected := t.closed
	t.mu.Unlock()
	if expected {
		t.logger.Debug("NATS connection closed")
		return
	}
	if t.health != nil {
		t.health.UpdateUnhealthy(t.healthKey(), "connection closed")
	}
	t.logger.Error("NATS connection closed unexpectedly", "error", c.LastError())
}

func (t *Transport) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	t.logger.Error("NATS error", "subject", subject, "error", err)
	if t.metrics != nil {
		t.metrics.RecordError("natsbridge", errors.Classify(err).String())
	}
}

func (t *Transport) healthKey() string {
	return middleware.HealthKey(Name, t.name)
}

// recordStatus updates the connection gauge and the health monitor. A lost connection
// is degraded rather than unhealthy while the client reconnects.
func (t *Transport) recordStatus(connected bool, err error) {
	if t.metrics != nil {
		t.metrics.RecordNATSStatus(t.name, connected)
	}
	if t.health == nil {
		return
	}
	if connected {
		t.health.UpdateHealthy(t.healthKey(), "connected")
		return
	}
	t.health.Update(t.healthKey(), health.FromError(t.healthKey(), health.StateDegraded, err))
}
