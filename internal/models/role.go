package models

// Role is a user-authored persona. Its description is sent verbatim as the
// system prompt of conversations it is assigned to.
type Role struct {
	ID          int64  `json:"role_id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
