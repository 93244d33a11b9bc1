package ports

import (
	"context"
	"errors"
	"time"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrDuplicateCallback indicates a callback record already exists for the
// gateway reference; the delivery must be acknowledged without mutation.
var ErrDuplicateCallback = errors.New("duplicate callback")

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	// Update persists balance, counters and reset markers within a transaction.
	Update(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
}

// WalletEntryRepository defines persistence for the credit/debit ledger lines.
type WalletEntryRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.WalletEntry) error
	GetByReference(ctx context.Context, walletID uuid.UUID, referenceID string) (*domain.WalletEntry, error)
}

// ReservationRepository defines persistence for spend-limit holds.
type ReservationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, r *domain.Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Reservation, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ReservationStatus) error
}

// IntentRepository defines persistence operations for payment intents.
type IntentRepository interface {
	Create(ctx context.Context, intent *domain.PaymentIntent) error
	GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error)
	// MarkSubmitted moves CREATED -> SUBMITTED recording the gateway handle.
	MarkSubmitted(ctx context.Context, id string, gatewayRef, redirectURL *string) error
	// UpdateStatus conditionally transitions an intent. Returns false without
	// error when the intent was already terminal (the transition is skipped).
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, reason *string) (bool, error)
	// ListSubmittedBefore returns SUBMITTED intents created before the cutoff,
	// oldest first, for reconciliation.
	ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error)
	// IncrementReconcileAttempts bumps the poll counter and returns the new value.
	IncrementReconcileAttempts(ctx context.Context, id string) (int, error)
}

// CallbackRepository defines persistence for callback idempotency records.
type CallbackRepository interface {
	// Create inserts the record; ErrDuplicateCallback if the gateway
	// reference was already recorded.
	Create(ctx context.Context, record *domain.CallbackRecord) error
	Get(ctx context.Context, gatewayReference string) (*domain.CallbackRecord, error)
}

// AuditRepository persists audit trail entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
