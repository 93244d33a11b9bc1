package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletEntry is one ledger line for a wallet credit or debit. The reference
// id is unique per wallet, which is what makes credits idempotent: a repeated
// credit for the same reference returns the original entry instead of
// mutating the balance again.
type WalletEntry struct {
	ID           uuid.UUID `json:"id"`
	WalletID     uuid.UUID `json:"wallet_id"`
	ReferenceID  string    `json:"reference_id"`
	Amount       int64     `json:"amount"` // Positive = credit, negative = debit
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}
