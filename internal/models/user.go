package models

// User is the identity anchor for roles and conversations.
type User struct {
	ID       int64  `json:"user_id"`
	Username string `json:"username"`
}
