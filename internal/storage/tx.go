package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
)

// DefaultLockTimeout bounds how long BEGIN waits on the engine write lock.
const DefaultLockTimeout = 30 * time.Second

type Isolation int

const (
	// Serializable takes the write lock at BEGIN; used by every mutation.
	Serializable Isolation = iota
	// ReadUncommitted is for pure read paths. Under WAL it reads the last
	// committed snapshot and does not wait on the write lock.
	ReadUncommitted
)

func (i Isolation) String() string {
	switch i {
	case Serializable:
		return "serializable"
	case ReadUncommitted:
		return "read_uncommitted"
	default:
		return "unknown"
	}
}

type TxOptions struct {
	Isolation Isolation
}

// Tx is an explicit transaction pinned to one connection. Operations that
// accept a *Tx join it instead of opening their own.
type Tx struct {
	conn      *sql.Conn
	isolation Isolation
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.conn.ExecContext(ctx, query, args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.conn.QueryContext(ctx, query, args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.conn.QueryRowContext(ctx, query, args...)
}

// Writable reports whether the transaction holds the write lock.
func (tx *Tx) Writable() bool {
	return tx.isolation == Serializable
}

// TxManager owns the database handle and hands out configured transactions.
type TxManager struct {
	db          *sql.DB
	log         *logger.Logger
	retry       RetryPolicy
	lockTimeout time.Duration

	// setup serializes connection setup within the process. The blocking
	// BEGIN runs after it is released.
	setup sync.Mutex
}

func NewTxManager(db *sql.DB, retry RetryPolicy, lockTimeout time.Duration, log *logger.Logger) *TxManager {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &TxManager{
		db:          db,
		log:         log,
		retry:       retry,
		lockTimeout: lockTimeout,
	}
}

// DB exposes the underlying handle.
func (m *TxManager) DB() *sql.DB {
	return m.db
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. Lock contention is retried per the RetryPolicy.
func (m *TxManager) WithTx(ctx context.Context, opts TxOptions, fn func(tx *Tx) error) error {
	return m.retry.Do(ctx, m.log, func() error {
		return m.run(ctx, opts, fn)
	})
}

// Write is WithTx under serializable isolation.
func (m *TxManager) Write(ctx context.Context, fn func(tx *Tx) error) error {
	return m.WithTx(ctx, TxOptions{Isolation: Serializable}, fn)
}

// Read is WithTx under read-uncommitted isolation.
func (m *TxManager) Read(ctx context.Context, fn func(tx *Tx) error) error {
	return m.WithTx(ctx, TxOptions{Isolation: ReadUncommitted}, fn)
}

func (m *TxManager) run(ctx context.Context, opts TxOptions, fn func(tx *Tx) error) (err error) {
	tx, err := m.begin(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			m.abort(tx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		m.abort(tx)
		return err
	}
	if _, err = tx.conn.ExecContext(context.WithoutCancel(ctx), "COMMIT"); err != nil {
		m.abort(tx)
		return fmt.Errorf("commit: %w", err)
	}
	m.release(tx)
	return nil
}

func (m *TxManager) begin(ctx context.Context, opts TxOptions) (*Tx, error) {
	conn, err := m.connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	// BEGIN may wait up to busy_timeout for the write lock, so it runs
	// outside setup and never holds up readers.
	beginStmt := "BEGIN IMMEDIATE"
	if opts.Isolation == ReadUncommitted {
		beginStmt = "BEGIN DEFERRED"
	}
	if _, err := conn.ExecContext(ctx, beginStmt); err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin %s: %w", opts.Isolation, err)
	}
	return &Tx{conn: conn, isolation: opts.Isolation}, nil
}

// connect pins a connection and applies the per-connection settings.
func (m *TxManager) connect(ctx context.Context, opts TxOptions) (*sql.Conn, error) {
	m.setup.Lock()
	defer m.setup.Unlock()

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	// read_uncommitted only applies in shared-cache mode, which the store
	// does not enable; readers therefore see a WAL snapshot, never dirty rows.
	readUncommitted := 0
	if opts.Isolation == ReadUncommitted {
		readUncommitted = 1
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", m.lockTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA read_uncommitted = %d", readUncommitted),
	}
	for _, stmt := range pragmas {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("configure connection: %w", err)
		}
	}
	return conn, nil
}

// abort rolls back, tries once more if that fails, and always gives the
// connection up. A connection whose rollback failed twice is discarded
// rather than returned to the pool.
func (m *TxManager) abort(tx *Tx) {
	ctx := context.Background()
	_, err := tx.conn.ExecContext(ctx, "ROLLBACK")
	if err != nil {
		m.log.Warn("rollback failed, retrying", "error", err)
		if _, err = tx.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
			m.log.Error("second rollback failed, discarding connection", "error", err)
			_ = tx.conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}
	m.release(tx)
}

func (m *TxManager) release(tx *Tx) {
	if err := tx.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		m.log.Warn("close connection", "error", err)
	}
}
