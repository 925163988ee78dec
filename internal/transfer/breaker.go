package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/soulmesh/soulmesh/internal/shared"
)

// BreakerState enumerates the circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// DefaultFailureThreshold opens the circuit after this many consecutive failures.
const DefaultFailureThreshold = 5

// DefaultCooldown is the open-state wait before a half-open probe.
const DefaultCooldown = 30 * time.Second

// Breaker wraps a Client with a circuit breaker: after a run of consecutive
// failures the circuit opens and calls fail fast with
// [shared.ErrCircuitOpen]; once the cooldown elapses a single probe call is
// let through (half-open) and its outcome closes or re-opens the circuit.
type Breaker struct {
	client Client

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	logger    *log.Logger
}

// BreakerOpts contains configuration options for creating a Breaker.
type BreakerOpts struct {
	FailureThreshold int
	Cooldown         time.Duration
	Logger           *log.Logger
}

// NewBreaker wraps client with a circuit breaker.
func NewBreaker(client Client, opts BreakerOpts) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Breaker{
		client:    client,
		state:     BreakerClosed,
		threshold: opts.FailureThreshold,
		cooldown:  opts.Cooldown,
		logger:    opts.Logger,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// StartTransfer delegates to the wrapped client under the breaker.
func (b *Breaker) StartTransfer(ctx context.Context, source Source, destination string, progress ProgressFunc) error {
	return b.call(func() error {
		return b.client.StartTransfer(ctx, source, destination, progress)
	})
}

// CancelTransfer delegates to the wrapped client under the breaker.
func (b *Breaker) CancelTransfer(ctx context.Context, source Source) error {
	return b.call(func() error {
		return b.client.CancelTransfer(ctx, source)
	})
}

// Ping delegates to the wrapped client under the breaker.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.call(func() error {
		return b.client.Ping(ctx)
	})
}

// call guards one downstream invocation.
func (b *Breaker) call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// allow decides whether a call may proceed. In the open state, calls fail
// fast until the cooldown elapses; the first call after that transitions to
// half-open and proceeds as the probe, while concurrent calls keep failing
// fast until the probe resolves.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		return fmt.Errorf("%w: probe in flight", shared.ErrCircuitOpen)
	default: // open
		if time.Since(b.openedAt) < b.cooldown {
			return fmt.Errorf("%w: cooling down", shared.ErrCircuitOpen)
		}
		b.state = BreakerHalfOpen
		b.logger.Info("circuit breaker half-open, probing downstream")
		return nil
	}
}

// record books the outcome of a permitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != BreakerClosed {
			b.logger.Info("circuit breaker closed")
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		if b.state != BreakerOpen {
			b.logger.Warn("circuit breaker opened", "consecutive_failures", b.failures)
		}
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
}
