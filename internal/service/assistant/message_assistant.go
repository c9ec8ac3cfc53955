package assistant

import (
	"context"
	"fmt"

	"github.com/angelfsepulveda/customchatfree/internal/models"
	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

// AddMessage appends a message to an existing conversation.
func (s *Service) AddMessage(ctx context.Context, tx *storage.Tx, conversationID int64, role models.MessageRole, content, model string) (int64, error) {
	if err := requireID("conversation_id", conversationID); err != nil {
		return 0, err
	}
	if err := validateMessage(role, content, model); err != nil {
		return 0, err
	}
	var messageID int64
	err := s.write(ctx, tx, "add_message", func(tx *storage.Tx) error {
		if err := requireRow(ctx, tx, "conversation", "conversations", "conversation_id", conversationID); err != nil {
			return err
		}
		var err error
		if messageID, err = s.insertMessage(ctx, tx, conversationID, role, content, model); err != nil {
			return err
		}
		_, err = s.insertLog(ctx, tx, ActionMessageAdded,
			fmt.Sprintf("Conversation ID: %d, Role: %s, Model: %s, Content: %s...",
				conversationID, role, model, truncate(content, logContentLimit)))
		return err
	})
	if err != nil {
		return 0, err
	}
	return messageID, nil
}

// GetMessagesByConversation returns the conversation history, oldest first.
func (s *Service) GetMessagesByConversation(ctx context.Context, tx *storage.Tx, conversationID int64) ([]models.Message, error) {
	if err := requireID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	var messages []models.Message
	err := s.read(ctx, tx, "get_messages_by_conversation", func(tx *storage.Tx) error {
		messages = messages[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT message_id, conversation_id, role, content, model, timestamp FROM messages
			 WHERE conversation_id = ? ORDER BY timestamp ASC, message_id ASC`,
			conversationID,
		)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				m  models.Message
				ts string
			)
			if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Model, &ts); err != nil {
				return fmt.Errorf("scan message: %w", err)
			}
			if m.Timestamp, err = storage.ParseTime(ts); err != nil {
				return fmt.Errorf("parse message timestamp: %w", err)
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Service) insertMessage(ctx context.Context, tx *storage.Tx, conversationID int64, role models.MessageRole, content, model string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, model, timestamp) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(role), content, model, storage.FormatTime(s.clock.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return insertedID(res, "message")
}

func validateMessage(role models.MessageRole, content, model string) error {
	if err := requireText("role", string(role)); err != nil {
		return err
	}
	if err := requireText("content", content); err != nil {
		return err
	}
	return requireText("model", model)
}
