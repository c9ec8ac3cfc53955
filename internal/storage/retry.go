package storage

import (
	"context"
	"time"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 100 * time.Millisecond
)

// RetryPolicy retries lock contention with exponential backoff. Any other
// failure is returned as is on the first attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, InitialBackoff: DefaultInitialBackoff}
}

// Do runs fn until it succeeds, fails with a non-lock error, or the attempt
// budget is spent. The backoff doubles after every contended attempt,
// including the last one, before ErrTxExhausted is reported.
func (p RetryPolicy) Do(ctx context.Context, log *logger.Logger, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = DefaultInitialBackoff
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsLockError(err) {
			return err
		}
		lastErr = err
		log.Warn("database locked, backing off",
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return &ExhaustedError{Attempts: attempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
