package store

import "time"

// Message roles as stored.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Message is one conversation line.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
