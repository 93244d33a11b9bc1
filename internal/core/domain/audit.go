package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPaymentInitiated AuditAction = "PAYMENT_INITIATED"
	AuditActionPaymentCompleted AuditAction = "PAYMENT_COMPLETED"
	AuditActionPaymentFailed    AuditAction = "PAYMENT_FAILED"
	AuditActionPaymentCancelled AuditAction = "PAYMENT_CANCELLED"
	AuditActionCallbackRejected AuditAction = "CALLBACK_REJECTED"
	AuditActionWalletCredit     AuditAction = "WALLET_CREDIT"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
