// Package loopback is an in-process bridge. Transports with the same name share one
// message bus, and the bus keeps the last message per subject to answer initial-value
// requests.
package loopback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/middleware"
)

// Name is the bridge name used in configuration and URIs.
const Name = "loopback"

func init() {
	middleware.Register(Name, New)
}

// Bridge is the loopback bridge.
type Bridge struct {
	logger *slog.Logger

	mu    sync.Mutex
	open  bool
	buses map[string]*bus
}

// New creates a loopback bridge.
func New(env middleware.Env) (middleware.Bridge, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{logger: logger, buses: make(map[string]*bus)}, nil
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

// Close drops every bus.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.buses = make(map[string]*bus)
	return nil
}

// NewTransport returns a transport attached to the named bus.
func (b *Bridge) NewTransport(name string) (middleware.TransportImpl, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil, errors.WrapInvalid(errors.ErrNotOpen, "loopback", "NewTransport", "bridge not open")
	}
	bs, ok := b.buses[name]
	if !ok {
		bs = newBus()
		b.buses[name] = bs
	}
	b.logger.Debug("Created loopback transport", "transport", name)
	return &Transport{name: name, bus: bs, subs: make(map[*subscription]struct{})}, nil
}

type bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]middleware.Handler
	last   map[string]*message.Msg
}

func newBus() *bus {
	return &bus{
		subs: make(map[string]map[uint64]middleware.Handler),
		last: make(map[string]*message.Msg),
	}
}

// Transport is a loopback transport.
type Transport struct {
	name string
	bus  *bus

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

type subscription struct {
	t       *Transport
	subject string
	id      uint64
	once    sync.Once
}

// Unsubscribe removes the handler from the bus.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.bus.mu.Lock()
		if handlers, ok := s.t.bus.subs[s.subject]; ok {
			delete(handlers, s.id)
			if len(handlers) == 0 {
				delete(s.t.bus.subs, s.subject)
			}
		}
		s.t.bus.mu.Unlock()

		s.t.mu.Lock()
		delete(s.t.subs, s)
		s.t.mu.Unlock()
	})
	return nil
}

// Subscribe registers h for subject. Handlers are called on the publisher's goroutine.
func (t *Transport) Subscribe(subject string, h middleware.Handler) (middleware.Unsubscriber, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrNullArg, "loopback", "Subscribe", "nil handler")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.WrapFatal(errors.ErrAlreadyDestroyed, "loopback", "Subscribe", t.name)
	}

	t.bus.mu.Lock()
	t.bus.nextID++
	id := t.bus.nextID
	handlers, ok := t.bus.subs[subject]
	if !ok {
		handlers = make(map[uint64]middleware.Handler)
		t.bus.subs[subject] = handlers
	}
	handlers[id] = h
	t.bus.mu.Unlock()

	s := &subscription{t: t, subject: subject, id: id}
	t.subs[s] = struct{}{}
	return s, nil
}

// Publish records msg as the subject's last value and hands it to every subscriber.
// Subscribers share the message and must not modify it.
func (t *Transport) Publish(subject string, msg *message.Msg) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.WrapFatal(errors.ErrAlreadyDestroyed, "loopback", "Publish", t.name)
	}

	t.bus.mu.Lock()
	t.bus.last[subject] = msg
	handlers := make([]middleware.Handler, 0, len(t.bus.subs[subject]))
	for _, h := range t.bus.subs[subject] {
		handlers = append(handlers, h)
	}
	t.bus.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// RequestInitial returns the last message published on subject.
func (t *Transport) RequestInitial(ctx context.Context, subject string) (*message.Msg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.bus.mu.RLock()
	msg, ok := t.bus.last[subject]
	t.bus.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "loopback", "RequestInitial",
			fmt.Sprintf("no value published on %s", subject))
	}
	return msg, nil
}

// Close removes the transport's subscriptions from the bus.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := make([]*subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}
