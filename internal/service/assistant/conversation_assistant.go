package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/angelfsepulveda/customchatfree/internal/models"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

// CreateConversation starts a roleless conversation for an existing user.
func (s *Service) CreateConversation(ctx context.Context, tx *storage.Tx, userID int64) (int64, error) {
	if err := requireID("user_id", userID); err != nil {
		return 0, err
	}
	var conversationID int64
	err := s.write(ctx, tx, "create_conversation", func(tx *storage.Tx) error {
		if err := requireRow(ctx, tx, "user", "users", "user_id", userID); err != nil {
			return err
		}
		var err error
		if conversationID, err = s.insertConversation(ctx, tx, userID); err != nil {
			return err
		}
		_, err = s.insertLog(ctx, tx, ActionConversationStarted,
			fmt.Sprintf("User ID: %d, Conversation ID: %d", userID, conversationID))
		return err
	})
	if err != nil {
		return 0, err
	}
	return conversationID, nil
}

// CreateConversationWithMessage creates a conversation together with its
// first message and one combined audit row, as a single atomic unit.
func (s *Service) CreateConversationWithMessage(ctx context.Context, tx *storage.Tx, userID int64, role models.MessageRole, content, model string) (int64, int64, error) {
	if err := requireID("user_id", userID); err != nil {
		return 0, 0, err
	}
	if err := validateMessage(role, content, model); err != nil {
		return 0, 0, err
	}
	var conversationID, messageID int64
	err := s.write(ctx, tx, "create_conversation_with_message", func(tx *storage.Tx) error {
		if err := requireRow(ctx, tx, "user", "users", "user_id", userID); err != nil {
			return err
		}
		var err error
		if conversationID, err = s.insertConversation(ctx, tx, userID); err != nil {
			return err
		}
		if messageID, err = s.insertMessage(ctx, tx, conversationID, role, content, model); err != nil {
			return err
		}
		_, err = s.insertLog(ctx, tx, ActionConversationWithMessage,
			fmt.Sprintf("User ID: %d, Conversation ID: %d, Message ID: %d, Role: %s, Model: %s, Content: %s...",
				userID, conversationID, messageID, role, model, truncate(content, logContentLimit)))
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return conversationID, messageID, nil
}

// StartConversation is the "new chat" action: it creates a conversation,
// assigns roleID when non-zero, and records the chat start, all in one
// transaction shared by the underlying operations.
func (s *Service) StartConversation(ctx context.Context, userID, roleID int64) (int64, error) {
	if err := requireID("user_id", userID); err != nil {
		return 0, err
	}
	if roleID < 0 {
		return 0, &storage.ValidationError{Field: "role_id", Reason: "must be a positive integer"}
	}
	var conversationID int64
	err := s.write(ctx, nil, "start_conversation", func(tx *storage.Tx) error {
		var err error
		if conversationID, err = s.CreateConversation(ctx, tx, userID); err != nil {
			return err
		}
		if roleID > 0 {
			if err := s.AssignRoleToConversation(ctx, tx, conversationID, roleID); err != nil {
				return err
			}
		}
		_, err = s.LogAction(ctx, tx, ActionNewChatStarted,
			fmt.Sprintf("User ID: %d, Conversation ID: %d, Role ID: %s", userID, conversationID, optionalID(roleID)))
		return err
	})
	if err != nil {
		return 0, err
	}
	return conversationID, nil
}

// GetConversation returns one conversation or an error wrapping storage.ErrNotFound.
func (s *Service) GetConversation(ctx context.Context, tx *storage.Tx, conversationID int64) (*models.Conversation, error) {
	if err := requireID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	var conv *models.Conversation
	err := s.read(ctx, tx, "get_conversation", func(tx *storage.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT conversation_id, user_id, start_time, role_id FROM conversations WHERE conversation_id = ?`,
			conversationID,
		)
		var err error
		conv, err = scanConversation(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &storage.ReferenceError{Entity: "conversation", ID: conversationID}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversationsByUser lists a user's conversations, newest first.
func (s *Service) GetConversationsByUser(ctx context.Context, tx *storage.Tx, userID int64) ([]models.Conversation, error) {
	if err := requireID("user_id", userID); err != nil {
		return nil, err
	}
	var conversations []models.Conversation
	err := s.read(ctx, tx, "get_conversations_by_user", func(tx *storage.Tx) error {
		conversations = conversations[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT conversation_id, user_id, start_time, role_id FROM conversations
			 WHERE user_id = ? ORDER BY start_time DESC, conversation_id DESC`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			conv, err := scanConversation(rows)
			if err != nil {
				return err
			}
			conversations = append(conversations, *conv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (s *Service) insertConversation(ctx context.Context, tx *storage.Tx, userID int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (user_id, start_time) VALUES (?, ?)`,
		userID, storage.FormatTime(s.clock.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}
	return insertedID(res, "conversation")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv   models.Conversation
		start  string
		roleID sql.NullInt64
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &start, &roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	t, err := storage.ParseTime(start)
	if err != nil {
		return nil, fmt.Errorf("parse conversation start time: %w", err)
	}
	conv.StartTime = t
	if roleID.Valid {
		id := roleID.Int64
		conv.RoleID = &id
	}
	return &conv, nil
}

func optionalID(id int64) string {
	if id <= 0 {
		return "none"
	}
	return fmt.Sprintf("%d", id)
}
