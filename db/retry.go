package db

import (
	"context"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tracelight/kgraph/errors"
)

// RetryPolicy bounds transparent retries of serialization/lock failures.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches the config package defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 25 * time.Millisecond}

// WithRetry runs op, retrying SQLITE_BUSY-class failures up to
// MaxAttempts with linear backoff. Tenant isolation, cycle detection, and
// validation errors are surfaced immediately; they are programming or
// configuration errors, not transient contention.
func WithRetry(ctx context.Context, policy RetryPolicy, logger *zap.SugaredLogger, op func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if logger != nil {
			logger.Debugw("Retrying after serialization failure",
				"attempt", attempt,
				"max_attempts", attempts,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCancelled, ctx.Err().Error())
		case <-time.After(policy.Backoff * time.Duration(attempt)):
		}
	}
	return errors.Wrapf(err, "gave up after %d attempts", attempts)
}

// isRetryable reports whether err is a transient SQLite contention failure.
func isRetryable(err error) bool {
	if errors.IsTenantIsolationError(err) ||
		errors.IsCycleDetectedError(err) ||
		errors.IsValidationError(err) {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	// The driver sometimes surfaces contention as a plain error string.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
