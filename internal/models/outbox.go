package models

import (
	"encoding/json"
	"time"
)

type OutboxMessage struct {
	ID        int             `db:"id"`
	MessageID string          `db:"message_id"` // UUID
	EventType string          `db:"event_type"` // versioned schema tag, see internal/events
	Payload   json.RawMessage `db:"payload"`    // JSON (stored as JSONB), immutable once written

	Status      string     `db:"status"` // pending, sent, failed
	RetryCount  int        `db:"retry_count"`
	CreatedAt   time.Time  `db:"created_at"`
	SentAt      *time.Time `db:"sent_at"`       // NULL until the broker confirmed delivery
	NextRetryAt *time.Time `db:"next_retry_at"` // NULL until the first failed publish attempt
	LastError   *string    `db:"last_error"`
}
