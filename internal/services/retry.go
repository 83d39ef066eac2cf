package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"storefront/internal/repos"
)

// Retrier reruns a unit of work that failed on a store-level concurrency
// conflict. Every other error is returned on the first attempt.
type Retrier struct {
	Attempts int
	Initial  time.Duration
	Log      *zap.Logger
}

func (r Retrier) Do(ctx context.Context, action string, fn func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if r.Initial > 0 {
		exp.InitialInterval = r.Initial
	}
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	op := func() error {
		err := fn()
		if err == nil || repos.IsConflict(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		if r.Log != nil {
			r.Log.Warn(action+".retry", zap.Error(err), zap.Duration("wait", wait))
		}
	}
	return backoff.RetryNotify(op, b, notify)
}
