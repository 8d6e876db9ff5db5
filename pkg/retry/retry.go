package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/c360/mamastreams/errors"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Policy describes how a request is retried.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// AttemptTimeout bounds each attempt. Zero leaves the attempt bounded only by the
	// caller's context.
	AttemptTimeout time.Duration
	// Backoff is the pause before the first retry. It doubles on each retry up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Jitter adds up to 25% random delay to each pause.
	Jitter bool
}

// ForRequest returns the policy used for subscription initial-value requests: a fixed
// per-attempt timeout with a short pause between attempts.
func ForRequest(timeout time.Duration, retries int) Policy {
	return Policy{
		Retries:        retries,
		AttemptTimeout: timeout,
		Backoff:        50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Jitter:         true,
	}
}

// Do runs fn until it succeeds, the retries are exhausted, ctx ends, or fn returns an
// error classified as invalid or fatal. Each attempt receives a context limited by
// AttemptTimeout.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.WrapInvalid(errors.ErrNullArg, "retry", "Do", "nil function")
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = 50 * time.Millisecond
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}

	attempts := p.Retries + 1
	delay := p.Backoff
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = runAttempt(ctx, p.AttemptTimeout, fn)
		if lastErr == nil {
			return nil
		}
		if errors.IsInvalid(lastErr) || errors.IsFatal(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == attempts {
			break
		}

		pause := delay
		if p.Jitter && delay >= 4 {
			randMu.Lock()
			pause += time.Duration(randSource.Int63n(int64(delay / 4)))
			randMu.Unlock()
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > p.MaxBackoff {
			delay = p.MaxBackoff
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}
