package assistant

import (
	"context"
	"fmt"

	"github.com/angelfsepulveda/customchatfree/internal/models"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

// Audit action names.
const (
	ActionUserCreated             = "User created"
	ActionRoleCreated             = "Role created"
	ActionRoleAssigned            = "Role assigned"
	ActionConversationStarted     = "Conversation started"
	ActionConversationWithMessage = "Conversation started with message"
	ActionMessageAdded            = "Message added"
	ActionNewChatStarted          = "New chat started"
)

const defaultLogLimit = 100

// LogAction appends an audit row, inside tx when one is supplied.
func (s *Service) LogAction(ctx context.Context, tx *storage.Tx, action, details string) (int64, error) {
	if err := requireText("action", action); err != nil {
		return 0, err
	}
	var logID int64
	err := s.write(ctx, tx, "log_action", func(tx *storage.Tx) error {
		var err error
		logID, err = s.insertLog(ctx, tx, action, details)
		return err
	})
	if err != nil {
		return 0, err
	}
	return logID, nil
}

func (s *Service) insertLog(ctx context.Context, tx *storage.Tx, action, details string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO logs (timestamp, action, details) VALUES (?, ?, ?)`,
		storage.FormatTime(s.clock.Now()), action, details,
	)
	if err != nil {
		return 0, fmt.Errorf("insert log: %w", err)
	}
	return insertedID(res, "log")
}

// ListLogs returns the most recent audit rows, newest first.
func (s *Service) ListLogs(ctx context.Context, tx *storage.Tx, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	var entries []models.LogEntry
	err := s.read(ctx, tx, "list_logs", func(tx *storage.Tx) error {
		entries = entries[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT log_id, timestamp, action, COALESCE(details, '') FROM logs ORDER BY timestamp DESC, log_id DESC LIMIT ?`,
			limit,
		)
		if err != nil {
			return fmt.Errorf("list logs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				entry models.LogEntry
				ts    string
			)
			if err := rows.Scan(&entry.ID, &ts, &entry.Action, &entry.Details); err != nil {
				return fmt.Errorf("scan log: %w", err)
			}
			if entry.Timestamp, err = storage.ParseTime(ts); err != nil {
				return fmt.Errorf("parse log timestamp: %w", err)
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
