package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
)

func countUsers(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	return n
}

func TestWithTxCommits(t *testing.T) {
	db := openTestDB(t)
	tm := NewTxManager(db, DefaultRetryPolicy(), time.Second, logger.Nop())

	err := tm.Write(context.Background(), func(tx *Tx) error {
		assert.True(t, tx.Writable())
		_, err := tx.ExecContext(context.Background(), `INSERT INTO users (username) VALUES ('alice')`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countUsers(t, db))

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	tm := NewTxManager(db, DefaultRetryPolicy(), time.Second, logger.Nop())
	boom := errors.New("boom")

	err := tm.Write(context.Background(), func(tx *Tx) error {
		if _, err := tx.ExecContext(context.Background(), `INSERT INTO users (username) VALUES ('alice')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countUsers(t, db))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)
	tm := NewTxManager(db, DefaultRetryPolicy(), time.Second, logger.Nop())

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = tm.Write(context.Background(), func(tx *Tx) error {
			if _, err := tx.ExecContext(context.Background(), `INSERT INTO users (username) VALUES ('alice')`); err != nil {
				return err
			}
			panic("kaboom")
		})
	})
	assert.Equal(t, 0, countUsers(t, db))

	// the write lock was released
	require.NoError(t, tm.Write(context.Background(), func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(), `INSERT INTO users (username) VALUES ('bob')`)
		return err
	}))
	assert.Equal(t, 1, countUsers(t, db))
}

func TestReadTxIsNotWritable(t *testing.T) {
	db := openTestDB(t)
	tm := NewTxManager(db, DefaultRetryPolicy(), time.Second, logger.Nop())

	require.NoError(t, tm.Read(context.Background(), func(tx *Tx) error {
		assert.False(t, tx.Writable())
		var n int
		return tx.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM users`).Scan(&n)
	}))
}

func TestWriteExhaustsUnderHeldLock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec := &recordingSleep{}
	tm := NewTxManager(db, RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, Sleep: rec.sleep},
		10*time.Millisecond, logger.Nop())

	// switch the file to WAL before another connection takes the lock
	require.NoError(t, tm.Write(ctx, func(tx *Tx) error { return nil }))

	holder, err := db.Conn(ctx)
	require.NoError(t, err)
	_, err = holder.ExecContext(ctx, `BEGIN IMMEDIATE`)
	require.NoError(t, err)

	calls := 0
	err = tm.Write(ctx, func(tx *Tx) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrTxExhausted)
	assert.False(t, IsLockError(err))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Zero(t, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)

	_, err = holder.ExecContext(ctx, `ROLLBACK`)
	require.NoError(t, err)
	require.NoError(t, holder.Close())

	require.NoError(t, tm.Write(ctx, func(tx *Tx) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestReadDoesNotWaitBehindQueuedWriter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tm := NewTxManager(db, DefaultRetryPolicy(), 5*time.Second, logger.Nop())
	require.NoError(t, tm.Write(ctx, func(tx *Tx) error { return nil }))

	holding := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- tm.Write(ctx, func(tx *Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- tm.Write(ctx, func(tx *Tx) error { return nil })
	}()
	// let the second writer reach BEGIN and start waiting on the lock
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	err := tm.Read(ctx, func(tx *Tx) error {
		var n int
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	})
	waited := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, waited, time.Second)

	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
}

func TestAbortDiscardsConnectionWhenRollbackFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	tm := NewTxManager(db, DefaultRetryPolicy(), time.Second, log)
	boom := errors.New("boom")

	err := tm.Write(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (username) VALUES ('alice')`); err != nil {
			return err
		}
		// ending the transaction here makes both of abort's ROLLBACKs fail
		if _, err := tx.ExecContext(ctx, `ROLLBACK`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, logs.FilterMessage("rollback failed, retrying").Len())
	assert.Equal(t, 1, logs.FilterMessage("second rollback failed, discarding connection").Len())
	assert.Equal(t, 0, countUsers(t, db))
	assert.Equal(t, 0, db.Stats().InUse)

	require.NoError(t, tm.Write(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO users (username) VALUES ('bob')`)
		return err
	}))
	assert.Equal(t, 1, countUsers(t, db))
}
