package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Versioned schema tags. The tag is stored in outbox_messages.event_type and
// travels with the payload, so consumers never have to guess the schema from
// a runtime type name.
const (
	TypePaymentProcessed   = "payment.processed.v1"
	TypePaymentCompensated = "payment.compensated.v1"
)

// PaymentProcessed is the reply to a ProcessPaymentRequest command.
// Success=false is a valid business outcome (gateway declined), not an error.
type PaymentProcessed struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	OrderID       uuid.UUID `json:"order_id"`
	Success       bool      `json:"success"`
}

// PaymentCompensated is the reply to a CompensatePayment command.
type PaymentCompensated struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	OrderID       uuid.UUID `json:"order_id"`
	Success       bool      `json:"success"`
}

var decoders = map[string]func([]byte) (any, error){
	TypePaymentProcessed: func(b []byte) (any, error) {
		var e PaymentProcessed
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, err
		}
		return e, nil
	},
	TypePaymentCompensated: func(b []byte) (any, error) {
		var e PaymentCompensated
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, err
		}
		return e, nil
	},
}

// Marshal returns the schema tag and JSON payload for a known event value.
func Marshal(event any) (eventType string, payload []byte, err error) {
	switch event.(type) {
	case PaymentProcessed:
		eventType = TypePaymentProcessed
	case PaymentCompensated:
		eventType = TypePaymentCompensated
	default:
		return "", nil, fmt.Errorf("unknown event type %T", event)
	}

	payload, err = json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return eventType, payload, nil
}

// Unmarshal decodes a payload by its schema tag via the registry.
func Unmarshal(eventType string, payload []byte) (any, error) {
	decode, ok := decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	e, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", eventType, err)
	}
	return e, nil
}
