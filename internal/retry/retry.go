// Package retry runs an operation a bounded number of times with a fixed delay
// between attempts. It is used to establish backing-store connections.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config bounds the attempts.
type Config struct {
	// MaxAttempts counts the first try; values < 1 are treated as 1.
	MaxAttempts int
	Delay       time.Duration
}

// DefaultConfig is three attempts two seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls operation until it succeeds, returns a permanent error, the
// attempts run out, or ctx is done. The last error is returned.
func Do(ctx context.Context, logger *zap.Logger, operationName string, operation func(attempt int) error, cfg Config) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		return operation(attempt)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("attempt failed, retrying",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("next_attempt_in", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("%s failed after %d attempt(s): %w", operationName, attempt, err)
	}
	return nil
}
