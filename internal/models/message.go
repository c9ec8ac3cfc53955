package models

import "time"

// MessageRole tags who produced a message turn. The store keeps it as free
// text; these are the values the chat flow writes.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ModelUserInput is the model tag recorded for user turns.
const ModelUserInput = "user_input"

// Message is one immutable turn in a conversation.
type Message struct {
	ID             int64       `json:"message_id"`
	ConversationID int64       `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Model          string      `json:"model"`
	Timestamp      time.Time   `json:"timestamp"`
}
