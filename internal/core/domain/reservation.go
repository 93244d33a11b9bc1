package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the state of a spend-limit hold.
type ReservationStatus string

const (
	// ReservationHeld: counters incremented, payment outcome pending.
	ReservationHeld ReservationStatus = "HELD"
	// ReservationConsumed: payment completed, balance debited.
	ReservationConsumed ReservationStatus = "CONSUMED"
	// ReservationReleased: payment failed or cancelled, counters rolled back.
	ReservationReleased ReservationStatus = "RELEASED"
)

// Reservation is a provisional hold against a wallet's spending limits.
// Its ID serves as the acquisition token handed back to the orchestrator.
type Reservation struct {
	ID        uuid.UUID         `json:"id"`
	WalletID  uuid.UUID         `json:"wallet_id"`
	UserID    uuid.UUID         `json:"user_id"`
	Amount    int64             `json:"amount"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
