package kafka

import (
	"errors"

	"github.com/google/uuid"
)

// ErrUnprocessable marks a command that can never succeed (undecodable or
// missing required fields). The consumer routes these straight to the
// dead-letter queue instead of burning the retry ladder on them.
var ErrUnprocessable = errors.New("unprocessable command")

// Inbound saga commands. The topic identifies the command type; the payload
// carries the correlation id the orchestrator is awaiting a reply for.

type ProcessPaymentRequest struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	OrderID       uuid.UUID `json:"order_id"`
	Amount        float64   `json:"amount"`
}

type CompensatePayment struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	OrderID       uuid.UUID `json:"order_id"`
}
