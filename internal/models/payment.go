package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment statuses. Forward-only: Failed and Refunded are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

type Payment struct {
	ID      uuid.UUID `db:"id" json:"id"`
	OrderID uuid.UUID `db:"order_id" json:"order_id"` // unique, idempotency anchor
	Amount  float64   `db:"amount" json:"amount"`
	Status  string    `db:"status" json:"status"`
	Notes   *string   `db:"notes" json:"notes,omitempty"` // NULL until compensation writes an audit note

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no further command may change the status.
func IsTerminal(status string) bool {
	return status == StatusFailed || status == StatusRefunded
}
