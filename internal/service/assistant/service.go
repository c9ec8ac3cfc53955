package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

// logContentLimit caps how much message content is copied into audit rows.
const logContentLimit = 50

// Service implements the data access operations on top of the TxManager.
// Every operation takes an optional *storage.Tx: nil opens and owns a new
// transaction, non-nil joins the caller's.
type Service struct {
	tm    *storage.TxManager
	clock *storage.Clock
	log   *logger.Logger

	// withTx opens owned transactions; the TxManager may run fn more than
	// once when it retries lock contention.
	withTx func(ctx context.Context, opts storage.TxOptions, fn func(*storage.Tx) error) error
}

// NewService builds a new assistant service.
func NewService(tm *storage.TxManager, log *logger.Logger) *Service {
	return &Service{
		tm:     tm,
		clock:  storage.NewClock(),
		log:    log,
		withTx: tm.WithTx,
	}
}

func (s *Service) write(ctx context.Context, tx *storage.Tx, op string, fn func(*storage.Tx) error) error {
	return s.run(ctx, tx, storage.TxOptions{Isolation: storage.Serializable}, op, fn)
}

func (s *Service) read(ctx context.Context, tx *storage.Tx, op string, fn func(*storage.Tx) error) error {
	return s.run(ctx, tx, storage.TxOptions{Isolation: storage.ReadUncommitted}, op, fn)
}

func (s *Service) run(ctx context.Context, tx *storage.Tx, opts storage.TxOptions, op string, fn func(*storage.Tx) error) error {
	start := time.Now()
	var err error
	switch {
	case tx == nil:
		err = s.withTx(ctx, opts, fn)
	case opts.Isolation == storage.Serializable && !tx.Writable():
		err = storage.ErrReadOnlyTx
	default:
		err = fn(tx)
	}
	s.observe(op, start, tx != nil, err)
	return err
}

func (s *Service) observe(op string, start time.Time, joined bool, err error) {
	kv := []interface{}{"op", op, "duration", time.Since(start), "joined_tx", joined}
	if err != nil {
		kv = append(kv, "outcome", "error", "error", err)
		if errors.Is(err, storage.ErrValidation) || errors.Is(err, storage.ErrNotFound) {
			s.log.Info("store operation rejected", kv...)
			return
		}
		s.log.Error("store operation failed", kv...)
		return
	}
	s.log.Debug("store operation", append(kv, "outcome", "ok")...)
}

func requireID(field string, id int64) error {
	if id <= 0 {
		return &storage.ValidationError{Field: field, Reason: "must be a positive integer"}
	}
	return nil
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &storage.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

// requireRow checks that a referenced row exists inside tx. Under the
// engine's single-writer lock this holds the row stable until commit.
func requireRow(ctx context.Context, tx *storage.Tx, entity, table, column string, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ?`, table, column), id,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.ReferenceError{Entity: entity, ID: id}
	}
	if err != nil {
		return fmt.Errorf("verify %s: %w", entity, err)
	}
	return nil
}

func insertedID(res sql.Result, what string) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s id: %w", what, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%s id: %w", what, storage.ErrNoRowID)
	}
	return id, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// InTx runs fn in one write transaction with retry on lock contention. The
// operations called inside fn should be passed the tx so they join it.
func (s *Service) InTx(ctx context.Context, fn func(tx *storage.Tx) error) error {
	return s.tm.Write(ctx, fn)
}
