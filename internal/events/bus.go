package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, ev Event) error

// Bus delivers events to in-process handlers. It keeps nothing in memory:
// events reach it through the outbox relay, and a failure is returned to the
// relay so the row is offered again on the next poll.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	log      *zap.Logger

	Attempts int
	Initial  time.Duration
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		handlers: map[Type][]Handler{},
		log:      log,
		Attempts: 3,
		Initial:  100 * time.Millisecond,
	}
}

func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish runs the handlers for ev before returning.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Dispatch(ctx, ev)
}

// Dispatch runs every handler for ev synchronously and joins their failures.
func (b *Bus) Dispatch(ctx context.Context, ev Event) error {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Type]...)
	b.mu.RUnlock()

	var errs []error
	for i, h := range hs {
		if err := b.deliver(ctx, ev, h); err != nil {
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, ev Event, h Handler) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.Initial
	exp.MaxElapsedTime = 0
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(func() error { return h(ctx, ev) }, policy, func(err error, wait time.Duration) {
		b.log.Warn("events.dispatch.retry", zap.Error(err),
			zap.String("event_type", string(ev.Type)), zap.Duration("wait", wait))
	})
}
