package job

import (
	"time"
)

// Job is a dead-lettered queue message kept for inspection and manual retry.
type Job struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	ObjectKey    string    `json:"object_key"`
	Payload      string    `json:"payload"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error"`
	ReceiveCount int       `json:"receive_count"`
	Retries      int       `json:"retries"`
	CreatedAt    time.Time `json:"created_at"`
}
