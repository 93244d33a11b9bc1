package domain

import (
	"time"

	"github.com/google/uuid"
)

// Default wallet limits in minor units (tyiyn): 50 000 / 500 000 / 100 000 KGS.
const (
	DefaultDailyLimit    int64 = 5_000_000
	DefaultMonthlyLimit  int64 = 50_000_000
	DefaultSingleTxLimit int64 = 10_000_000
)

// Names of the spend limits, used in LimitExceeded rejections.
const (
	LimitSingleTransaction = "Single transaction"
	LimitDaily             = "Daily"
	LimitMonthly           = "Monthly"
)

// Wallet holds a user's balance and spend-limit counters. One row per user,
// created at registration, mutated only through the wallet ledger.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Balance          int64     `json:"balance"` // Minor units, never negative
	Currency         string    `json:"currency"`
	DailyLimit       int64     `json:"daily_limit"`
	MonthlyLimit     int64     `json:"monthly_limit"`
	SingleTxLimit    int64     `json:"single_transaction_limit"`
	DailyUsed        int64     `json:"daily_used"`
	MonthlyUsed      int64     `json:"monthly_used"`
	LastDailyReset   time.Time `json:"last_daily_reset"`
	LastMonthlyReset time.Time `json:"last_monthly_reset"`
	IsFrozen         bool      `json:"is_frozen"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewWallet creates a wallet with default limits.
func NewWallet(userID uuid.UUID, currency string, now time.Time) *Wallet {
	return &Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		Currency:         currency,
		DailyLimit:       DefaultDailyLimit,
		MonthlyLimit:     DefaultMonthlyLimit,
		SingleTxLimit:    DefaultSingleTxLimit,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NormalizeResets lazily zeroes the spend counters when the calendar day or
// month has rolled over since the stored reset marker. There is no background
// scheduler; every wallet read normalizes first. Returns true if anything changed.
func (w *Wallet) NormalizeResets(now time.Time) bool {
	changed := false

	ny, nm, nd := now.UTC().Date()
	dy, dm, dd := w.LastDailyReset.UTC().Date()
	if ny != dy || nm != dm || nd != dd {
		w.DailyUsed = 0
		w.LastDailyReset = now
		changed = true
	}

	my, mm, _ := w.LastMonthlyReset.UTC().Date()
	if ny != my || nm != mm {
		w.MonthlyUsed = 0
		w.LastMonthlyReset = now
		changed = true
	}

	return changed
}

// ExceededLimit returns the name of the first limit a reservation of amount
// would violate, or "" when the reservation fits. Counters must already be
// normalized for the current time.
func (w *Wallet) ExceededLimit(amount int64) string {
	if amount > w.SingleTxLimit {
		return LimitSingleTransaction
	}
	if w.DailyUsed+amount > w.DailyLimit {
		return LimitDaily
	}
	if w.MonthlyUsed+amount > w.MonthlyLimit {
		return LimitMonthly
	}
	return ""
}
