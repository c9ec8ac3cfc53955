package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
)

func TestIsLockError(t *testing.T) {
	assert.True(t, IsLockError(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsLockError(fmt.Errorf("begin: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, IsLockError(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsLockError(errors.New("database is locked")))
	assert.False(t, IsLockError(nil))
}

func TestRetryRecoversFromTransientLock(t *testing.T) {
	rec := &recordingSleep{}
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	err := policy.Do(context.Background(), logger.Nop(), func() error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestRetryExhaustsAfterBudget(t *testing.T) {
	rec := &recordingSleep{}
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, Sleep: rec.sleep}

	calls := 0
	err := policy.Do(context.Background(), logger.Nop(), func() error {
		calls++
		return sqlite3.Error{Code: sqlite3.ErrLocked}
	})
	require.ErrorIs(t, err, ErrTxExhausted)
	assert.False(t, IsLockError(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	rec := &recordingSleep{}
	policy := RetryPolicy{Sleep: rec.sleep}
	boom := errors.New("boom")

	calls := 0
	err := policy.Do(context.Background(), logger.Nop(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Hour}.Do(ctx, logger.Nop(), func() error {
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	require.ErrorIs(t, err, context.Canceled)
}
