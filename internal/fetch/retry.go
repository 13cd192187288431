package fetch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"wind-curtailment-monitor/internal/store"
)

// RetryPolicy governs re-attempts of staging writes that failed because the
// database was locked by a concurrent writer. Only busy errors are retried;
// anything else surfaces immediately.
type RetryPolicy struct {
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Do runs fn, retrying up to MaxRetries times when it reports a busy staging
// database. Each retry sleeps a uniformly random duration between BackoffMin
// and BackoffMax to spread competing writers apart.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, op string, fn func() error) error {
	err := fn()
	for attempt := 1; attempt <= p.MaxRetries && errors.Is(err, store.ErrBusy); attempt++ {
		wait := p.backoff()
		logger.Warn().Str("op", op).Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("staging database busy, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		err = fn()
	}
	return err
}

func (p RetryPolicy) backoff() time.Duration {
	min, max := p.BackoffMin, p.BackoffMax
	if min <= 0 {
		min = time.Second
	}
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
