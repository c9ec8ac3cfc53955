package models

import "time"

// LogEntry is an append-only audit record written with the mutation it
// describes.
type LogEntry struct {
	ID        int64     `json:"log_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}
