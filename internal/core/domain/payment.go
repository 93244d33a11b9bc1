package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod identifies an external payment provider.
type PaymentMethod string

const (
	MethodBankCard     PaymentMethod = "bank_card"
	MethodElsom        PaymentMethod = "elsom"
	MethodElcart       PaymentMethod = "elkart"
	MethodOMoney       PaymentMethod = "o_money"
	MethodMegaPay      PaymentMethod = "megapay"
	MethodCashTerminal PaymentMethod = "cash_terminal"
)

// FlowType distinguishes where the money comes from.
type FlowType string

const (
	// FlowTopup: funds arrive from outside, no reservation against wallet limits.
	FlowTopup FlowType = "TOPUP"
	// FlowDebit: wallet-funded payment, requires a limit reservation up front.
	FlowDebit FlowType = "DEBIT"
)

// PaymentStatus represents the lifecycle state of a payment intent.
type PaymentStatus string

const (
	PaymentStatusCreated   PaymentStatus = "CREATED"
	PaymentStatusSubmitted PaymentStatus = "SUBMITTED"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// Terminal failure reasons recorded on the intent.
const (
	ReasonReconciliationExhausted = "RECONCILIATION_EXHAUSTED"
	ReasonGatewayRejected         = "GATEWAY_REJECTED"
	ReasonLimitExceeded           = "LIMIT_EXCEEDED"
	ReasonWalletFrozen            = "WALLET_FROZEN"
)

// PaymentIntent tracks one attempted payment from creation to terminal outcome.
// Intents are never deleted, only archived.
type PaymentIntent struct {
	ID                string        `json:"id"`
	UserID            uuid.UUID     `json:"user_id"`
	Amount            int64         `json:"amount"` // In minor units (tyiyn)
	Commission        int64         `json:"commission"`
	Currency          string        `json:"currency"`
	Method            PaymentMethod `json:"method"`
	Flow              FlowType      `json:"flow"`
	Status            PaymentStatus `json:"status"`
	GatewayReference  *string       `json:"gateway_reference,omitempty"`
	RedirectURL       *string       `json:"redirect_url,omitempty"`
	ReservationID     *uuid.UUID    `json:"reservation_id,omitempty"`
	FailureReason     *string       `json:"failure_reason,omitempty"`
	ReconcileAttempts int           `json:"reconcile_attempts"`
	CreatedAt         time.Time     `json:"created_at"`
	ProcessedAt       *time.Time    `json:"processed_at,omitempty"`
}

// IsTerminal returns true if the intent is in a final state.
func (p *PaymentIntent) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted ||
		p.Status == PaymentStatusFailed ||
		p.Status == PaymentStatusCancelled
}

// CanTransitionTo enforces the monotonic state machine:
// CREATED -> SUBMITTED -> COMPLETED|FAILED|CANCELLED, no exit from terminal states.
func (p *PaymentIntent) CanTransitionTo(next PaymentStatus) bool {
	if p.IsTerminal() {
		return false
	}
	switch p.Status {
	case PaymentStatusCreated:
		return next == PaymentStatusSubmitted ||
			next == PaymentStatusFailed ||
			next == PaymentStatusCancelled
	case PaymentStatusSubmitted:
		return next == PaymentStatusCompleted ||
			next == PaymentStatusFailed ||
			next == PaymentStatusCancelled
	}
	return false
}

// NewIntentID generates a globally unique, non-predictable payment intent id:
// hex SHA-256 over user id, amount, creation time and 16 random bytes.
func NewIntentID(userID uuid.UUID, amount int64, now time.Time) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%x", userID, amount, now.UnixNano(), buf)))
	return hex.EncodeToString(h[:])
}
