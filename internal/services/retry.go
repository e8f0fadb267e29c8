package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prudhvinik1/tablesync/internal/syncerr"
)

// Retry is the bounded exponential backoff policy applied to transient I/O
// faults. Structural errors are returned immediately.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do runs fn up to MaxAttempts times, doubling the delay between attempts.
// Returns the last error once attempts are exhausted.
func (r Retry) Do(ctx context.Context, log *zap.Logger, op string, fn func(ctx context.Context) error) error {
	delay := r.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !syncerr.Retryable(err) || attempt >= r.MaxAttempts {
			return err
		}
		log.Warn("transient failure, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
