package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/mamastreams/errors"
	"github.com/c360/mamastreams/message"
	"github.com/c360/mamastreams/pkg/retry"
	"github.com/c360/mamastreams/queue"
)

// Callbacks are invoked on the subscription's queue. OnMsg is required.
type Callbacks struct {
	OnCreate  func(sub *Subscription)
	OnError   func(sub *Subscription, err error)
	OnMsg     func(sub *Subscription, msg *message.Msg)
	OnDestroy func(sub *Subscription)
}

type subState int

const (
	subCreated subState = iota
	subActive
	subDestroyed
)

// Subscription delivers the messages of one subject to its callbacks, serialized on a
// queue.
type Subscription struct {
	id     uuid.UUID
	opts   SubscriptionOptions
	logger *slog.Logger

	mu        sync.Mutex
	state     subState
	queue     *queue.Queue
	source    *Source
	symbol    string
	subject   string
	callbacks Callbacks
	closure   any
	handle    Unsubscriber
	cancel    context.CancelFunc

	// Updates that arrive while the initial image is outstanding are held here and
	// delivered after it.
	awaitingInitial bool
	pending         []*message.Msg
}

// NewSubscription creates an unattached subscription. A nil logger uses slog.Default.
func NewSubscription(opts SubscriptionOptions, logger *slog.Logger) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Subscription{
		id:     id,
		opts:   opts,
		logger: logger.With("subscription", id.String()),
	}
}

// Setup attaches the subscription to a transport subject and starts delivery on q.
// OnCreate is queued before any message. When the options require an initial image,
// the transport can serve one and the type is not BASIC, the image is requested in the
// background and delivered through OnMsg ahead of any update.
func (s *Subscription) Setup(q *queue.Queue, src *Source, symbol string, cb Callbacks, closure any) error {
	if q == nil || src == nil || src.Transport() == nil || symbol == "" || cb.OnMsg == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "Subscription", "Setup",
			"queue, source with transport, symbol and OnMsg callback required")
	}
	if src.IsDestroyed() {
		return errors.WrapFatal(errors.ErrAlreadyDestroyed, "Subscription", "Setup", "source destroyed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != subCreated {
		return errors.WrapInvalid(errors.ErrInvalidArg, "Subscription", "Setup", "subscription already set up")
	}

	s.queue = q
	s.source = src
	s.symbol = symbol
	s.subject = Subject(src.SymbolNamespace(), symbol)
	s.callbacks = cb
	s.closure = closure
	s.logger = s.logger.With("subject", s.subject)

	requester, canRequest := src.Transport().impl.(InitialRequester)
	wantInitial := s.opts.RequiresInitial && s.opts.Type != SubscriptionBasic && canRequest

	if err := q.Enqueue(s.created); err != nil {
		return errors.WrapTransient(err, "Subscription", "Setup", "queue OnCreate")
	}

	s.state = subActive
	s.awaitingInitial = wantInitial
	handle, err := src.Transport().impl.Subscribe(s.subject, s.deliver)
	if err != nil {
		s.state = subDestroyed
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err),
			"Subscription", "Setup", fmt.Sprintf("subscribe %s", s.subject))
	}
	s.handle = handle

	if wantInitial {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.requestInitial(ctx, requester)
	}

	logAt(context.Background(), s.logger, s.opts.DebugLevel, LogFine, "Subscription created",
		"queue", q.Name(), "initial", wantInitial)
	return nil
}

func (s *Subscription) created() {
	if !s.IsActive() {
		return
	}
	if s.callbacks.OnCreate != nil {
		s.callbacks.OnCreate(s)
	}
}

// deliver is the transport handler.
func (s *Subscription) deliver(msg *message.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != subActive {
		return
	}
	if s.awaitingInitial {
		s.pending = append(s.pending, msg)
		return
	}
	s.enqueueLocked(msg)
}

func (s *Subscription) enqueueLocked(msg *message.Msg) {
	err := s.queue.Enqueue(func() { s.dispatch(msg) })
	if err == nil {
		return
	}
	s.logger.Warn("Dropping message", "queue", s.queue.Name(), "error", err)
	if m := s.source.Transport().metrics; m != nil {
		m.RecordError("subscription", errors.Classify(err).String())
	}
}

func (s *Subscription) dispatch(msg *message.Msg) {
	if !s.IsActive() {
		return
	}
	if m := s.source.Transport().metrics; m != nil {
		m.RecordMessageReceived(s.source.SymbolNamespace())
	}
	logAt(context.Background(), s.logger, s.opts.DebugLevel, LogFine, "Delivering message",
		"fields", msg.NumFields())
	s.callbacks.OnMsg(s, msg)
}

func (s *Subscription) requestInitial(ctx context.Context, requester InitialRequester) {
	policy := retry.ForRequest(s.opts.Timeout, s.opts.Retries)
	img, err := retry.DoWithResult(ctx, policy, func(ctx context.Context) (*message.Msg, error) {
		if err := s.source.Transport().waitThrottle(ctx); err != nil {
			return nil, err
		}
		return requester.RequestInitial(ctx, s.subject)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != subActive {
		return
	}
	pending := s.pending
	s.pending = nil
	s.awaitingInitial = false

	if err != nil {
		logAt(ctx, s.logger, s.opts.DebugLevel, LogWarn, "Initial request failed", "error", err)
		if qErr := s.queue.Enqueue(func() { s.failed(err) }); qErr != nil {
			s.logger.Warn("Dropping initial failure", "error", qErr)
		}
	} else {
		s.enqueueLocked(img)
	}
	for _, msg := range pending {
		s.enqueueLocked(msg)
	}
}

func (s *Subscription) failed(err error) {
	if !s.IsActive() {
		return
	}
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(s, err)
	}
}

// Destroy stops delivery and calls OnDestroy on the calling goroutine. Messages already
// queued are discarded when they reach the front of the queue. Later calls are no-ops.
func (s *Subscription) Destroy() error {
	s.mu.Lock()
	if s.state == subDestroyed {
		s.mu.Unlock()
		return nil
	}
	wasActive := s.state == subActive
	s.state = subDestroyed
	handle, cancel := s.handle, s.cancel
	s.handle, s.cancel, s.pending = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if handle != nil {
		if uerr := handle.Unsubscribe(); uerr != nil {
			err = errors.Wrap(uerr, "Subscription", "Destroy", fmt.Sprintf("unsubscribe %s", s.subject))
		}
	}
	if wasActive && s.callbacks.OnDestroy != nil {
		s.callbacks.OnDestroy(s)
	}
	return err
}

// IsActive reports whether the subscription is set up and not destroyed.
func (s *Subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == subActive
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Options returns the options the subscription was created with.
func (s *Subscription) Options() SubscriptionOptions { return s.opts }

// Source returns the source, or nil before Setup.
func (s *Subscription) Source() *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Symbol returns the topic within the source namespace.
func (s *Subscription) Symbol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbol
}

// Subject returns the transport subject.
func (s *Subscription) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// Transport returns the source's transport, or nil before Setup.
func (s *Subscription) Transport() *Transport {
	src := s.Source()
	if src == nil {
		return nil
	}
	return src.Transport()
}

// Queue returns the delivery queue.
func (s *Subscription) Queue() *queue.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// Closure returns the value passed to Setup.
func (s *Subscription) Closure() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closure
}

func (s *Subscription) String() string {
	return fmt.Sprintf("Subscription(%s, %s)", s.id, s.Subject())
}
