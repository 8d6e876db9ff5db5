// Package natsbridge carries messages over NATS. Each transport owns one connection,
// configured from mama.nats.transport.<name>.*:
//
//	mama.nats.transport.sub.url=nats://localhost:4222
//	mama.nats.transport.sub.name=listener
//	mama.nats.transport.sub.max_reconnects=-1
//	mama.nats.transport.sub.reconnect_wait=2s
//	mama.nats.transport.sub.timeout=5s
//
// Messages use the message package's JSON encoding. A transport that publishes a subject
// also answers initial-value requests for it on "_INITIAL.<subject>" with the last
// message it sent.
package natsbridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/mamastreams/config"
	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/health"
	"github.com/c360/mamastreams/metric"
	"github.com/c360/mamastreams/middleware"
)

// Name is the bridge name used in configuration and URIs.
const Name = "nats"

// InitialPrefix prefixes the subject on which initial images are requested.
const InitialPrefix = "_INITIAL."

func init() {
	middleware.Register(Name, New)
}

// Settings are the connection settings of one transport.
type Settings struct {
	URL           string
	ClientName    string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// SettingsFor reads the settings of transport name from props.
func SettingsFor(props *config.Properties, name string) Settings {
	prefix := fmt.Sprintf("mama.%s.transport.%s.", Name, name)
	return Settings{
		URL:           props.GetDefault(prefix+"url", nats.DefaultURL),
		ClientName:    props.GetDefault(prefix+"name", "mamastreams-"+name),
		MaxReconnects: props.GetInt(prefix+"max_reconnects", -1),
		ReconnectWait: duration(props, prefix+"reconnect_wait", 2*time.Second),
		Timeout:       duration(props, prefix+"timeout", 5*time.Second),
	}
}

func duration(props *config.Properties, key string, def time.Duration) time.Duration {
	v, ok := props.Get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Bridge is the NATS bridge.
type Bridge struct {
	props   *config.Properties
	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor

	mu         sync.Mutex
	open       bool
	transports map[*Transport]struct{}
}

// New creates a NATS bridge.
func New(env middleware.Env) (middleware.Bridge, error) {
	props := env.Props
	if props == nil {
		props = config.NewProperties(nil)
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		props:      props,
		logger:     logger,
		metrics:    env.Metrics,
		health:     env.Health,
		transports: make(map[*Transport]struct{}),
	}, nil
}

// Name implements middleware.Bridge.
func (b *Bridge) Name() string { return Name }

// Open implements middleware.Bridge.
func (b *Bridge) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = true
	return nil
}

// Close closes every transport still connected.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.open = false
	transports := make([]*Transport, 0, len(b.transports))
	for t := range b.transports {
		transports = append(transports, t)
	}
	b.mu.Unlock()

	var firstErr error
	for _, t := range transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewTransport connects the named transport.
func (b *Bridge) NewTransport(name string) (middleware.TransportImpl, error) {
	b.mu.Lock()
	open := b.open
	b.mu.Unlock()
	if !open {
		return nil, errors.WrapInvalid(errors.ErrNotOpen, "natsbridge", "NewTransport", "bridge not open")
	}

	t, err := Dial(name, SettingsFor(b.props, name), middleware.Env{
		Logger:  b.logger,
		Metrics: b.metrics,
		Health:  b.health,
	})
	if err != nil {
		return nil, err
	}
	t.onClose = b.forget

	b.mu.Lock()
	b.transports[t] = struct{}{}
	b.mu.Unlock()
	return t, nil
}

func (b *Bridge) forget(t *Transport) {
	b.mu.Lock()
	delete(b.transports, t)
	b.mu.Unlock()
}
