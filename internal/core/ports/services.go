package ports

import (
	"context"
	"time"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureCodec signs and verifies canonicalized field maps.
// Canonical form: keys sorted lexicographically, joined as k=v pairs with '&',
// HMAC-SHA256 keyed by the gateway secret, lowercase hex digest.
type SignatureCodec interface {
	Sign(fields map[string]string, secret string) string
	// Verify recomputes the signature over fields (excluding the "signature"
	// key) and compares in constant time. Never panics; false on malformed input.
	Verify(fields map[string]string, signature string, secret string) bool
}

// GatewayConfig is the immutable per-provider configuration resolved from the
// registry. Amounts in minor units.
type GatewayConfig struct {
	Method      domain.PaymentMethod
	DisplayName string
	Endpoint    string
	MerchantID  string
	APIKey      string
	SecretKey   string
	MinAmount   int64
	MaxAmount   int64
	FeePercent  float64
}

// GatewayRegistry resolves provider configuration for payment methods.
type GatewayRegistry interface {
	Resolve(method domain.PaymentMethod) (GatewayConfig, error)
	// ListSupported returns the provider catalog ordered by method code.
	ListSupported() []GatewayConfig
}

// GatewayAck is the gateway's synchronous answer to a payment initiation.
type GatewayAck struct {
	Accepted         bool
	Transient        bool // true when the failure is transport-level and retryable
	GatewayReference string
	RedirectURL      string
	QRCode           string
	FailureReason    string
}

// GatewayStatus is the provider-reported state of a payment.
type GatewayStatus string

const (
	GatewayStatusPending    GatewayStatus = "pending"
	GatewayStatusProcessing GatewayStatus = "processing"
	GatewayStatusCompleted  GatewayStatus = "completed"
	GatewayStatusFailed     GatewayStatus = "failed"
	GatewayStatusUnknown    GatewayStatus = "unknown"
)

// GatewayClient performs signed outbound calls to a payment provider.
// Initiate never returns an error: transport failures surface as a
// non-accepted transient ack. Each call is a single attempt; retries belong
// to the orchestrator.
type GatewayClient interface {
	Initiate(ctx context.Context, intent *domain.PaymentIntent, cfg GatewayConfig) GatewayAck
	PollStatus(ctx context.Context, gatewayReference string, cfg GatewayConfig) GatewayStatus
}

// WalletLedger owns the authoritative balance and spend-limit counters.
// Every mutating operation is one short per-wallet critical section.
type WalletLedger interface {
	// CreateWallet provisions a wallet with default limits at registration.
	CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error)
	// Credit adds funds, idempotent per referenceID.
	Credit(ctx context.Context, userID uuid.UUID, amount int64, referenceID string) (*domain.WalletEntry, error)
	// Reserve places a hold against the spend limits and returns the token.
	Reserve(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Reservation, error)
	// Consume debits the balance for a completed payment and finalizes the hold.
	Consume(ctx context.Context, reservationID uuid.UUID) error
	// Release rolls back an unconsummated hold. No-op when already finalized.
	Release(ctx context.Context, reservationID uuid.UUID) error
	// Balance returns the wallet with counters normalized for the current date.
	Balance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
}

// InitiateRequest holds validated input for payment initiation.
type InitiateRequest struct {
	UserID   uuid.UUID
	Amount   int64
	Currency string
	Method   domain.PaymentMethod
	Flow     domain.FlowType
	ClientIP string
}

// CallbackAck is the orchestrator's answer to a gateway callback delivery.
type CallbackAck struct {
	IntentID         string
	Status           domain.PaymentStatus
	AlreadyProcessed bool
}

// PaymentOrchestrator drives the payment intent state machine.
type PaymentOrchestrator interface {
	Initiate(ctx context.Context, req InitiateRequest) (*domain.PaymentIntent, error)
	// HandleCallback verifies, deduplicates and applies an asynchronous
	// gateway callback. fields carries the raw callback key/value pairs
	// including the signature.
	HandleCallback(ctx context.Context, fields map[string]string, clientIP string) (*CallbackAck, error)
	// Reconcile polls the gateway for an intent whose callback never arrived.
	Reconcile(ctx context.Context, intent *domain.PaymentIntent) error
	Cancel(ctx context.Context, intentID string, userID uuid.UUID) (*domain.PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
}

// CallbackCache is the Redis-layer fast path for duplicate callback delivery.
type CallbackCache interface {
	Get(ctx context.Context, gatewayReference string) ([]byte, error) // nil when absent
	Set(ctx context.Context, gatewayReference string, ack []byte, ttl time.Duration) error
}

// AuditService records audit trail entries (fire-and-forget).
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
