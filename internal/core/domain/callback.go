package domain

import "time"

// CallbackOutcome is the terminal result a gateway reported for a payment.
type CallbackOutcome string

const (
	CallbackOutcomeCompleted CallbackOutcome = "COMPLETED"
	CallbackOutcomeFailed    CallbackOutcome = "FAILED"
)

// CallbackRecord is the idempotency guard for gateway callbacks. A gateway
// reference is recorded at most once; duplicates are acknowledged without
// further mutation. Immutable after creation.
type CallbackRecord struct {
	GatewayReference  string          `json:"gateway_reference"`
	IntentID          string          `json:"intent_id"`
	ReceivedSignature string          `json:"received_signature"`
	Outcome           CallbackOutcome `json:"outcome"`
	ProcessedAt       time.Time       `json:"processed_at"`
}
