package models

import "time"

// Conversation groups the messages of one chat session.
type Conversation struct {
	ID        int64     `json:"conversation_id"`
	UserID    int64     `json:"user_id"`
	StartTime time.Time `json:"start_time"`
	RoleID    *int64    `json:"role_id"`
}
