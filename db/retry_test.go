package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelight/kgraph/errors"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: time.Millisecond}
}

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesBusyErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), nil, func() error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(2), nil, func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
}

func TestWithRetry_NeverRetriesIsolationOrCycleErrors(t *testing.T) {
	for _, fatal := range []error{
		errors.NewTenantIsolationError("missing tenant"),
		errors.Wrap(errors.ErrCycleDetected, "edge would close cycle"),
		errors.NewValidationError("empty subject"),
	} {
		calls := 0
		err := WithRetry(context.Background(), fastPolicy(5), nil, func() error {
			calls++
			return fatal
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "fatal error kinds must not be retried: %v", fatal)
	}
}

func TestWithRetry_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, RetryPolicy{MaxAttempts: 3, Backoff: time.Hour}, nil, func() error {
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
}

func TestWithRetry_DriverLockedMessage(t *testing.T) {
	// Exercise the string-matching fallback through a mocked driver whose
	// errors are not sqlite3.Error values.
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO triples").WillReturnError(errors.New("database is locked"))
	mock.ExpectExec("INSERT INTO triples").WillReturnResult(sqlmock.NewResult(1, 1))

	calls := 0
	err = WithRetry(context.Background(), fastPolicy(3), nil, func() error {
		calls++
		_, execErr := mockDB.Exec("INSERT INTO triples (id) VALUES (1)")
		return execErr
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
