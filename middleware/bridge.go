package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/mamastreams/config"
	"github.com/c360/mamastreams/health"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/metric"
)

// Bridge is a loaded middleware implementation. A bridge creates the transports that
// carry messages; it is opened and closed by the Runtime that loaded it.
type Bridge interface {
	Name() string
	Open() error
	Close() error
	// NewTransport connects a named transport. Bridge-specific settings are read from
	// mama.<bridge>.transport.<name>.* in the bridge's properties.
	NewTransport(name string) (TransportImpl, error)
}

// Handler receives messages delivered by a transport. It runs on a transport-owned
// goroutine and must not block.
type Handler func(msg *message.Msg)

// TransportImpl is the bridge side of a transport.
type TransportImpl interface {
	Subscribe(subject string, h Handler) (Unsubscriber, error)
	Publish(subject string, msg *message.Msg) error
	Close() error
}

// Unsubscriber cancels a transport-level subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// InitialRequester is implemented by transports that can answer a request for the
// current image of a subject.
type InitialRequester interface {
	RequestInitial(ctx context.Context, subject string) (*message.Msg, error)
}

// Env is what a bridge factory receives from the runtime.
type Env struct {
	Props   *config.Properties
	Logger  *slog.Logger
	Metrics *metric.Metrics
	// Health receives connection state keyed by HealthKey. May be nil.
	Health  *health.Monitor
}

// HealthKey names a transport in the runtime's health monitor.
func HealthKey(bridge, transport string) string {
	return bridge + "/" + transport
}

// Factory builds a bridge.
type Factory func(env Env) (Bridge, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a bridge available by name. Bridge packages call it from init.
// It panics if the name is registered twice or the factory is nil.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("middleware: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("middleware: Register called twice for bridge %q", name))
	}
	factories[name] = f
}

// Bridges returns the registered bridge names in sorted order.
func Bridges() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}
