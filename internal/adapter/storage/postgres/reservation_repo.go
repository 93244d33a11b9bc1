package postgres

import (
	"context"
	"errors"
	"fmt"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reservationColumns = `id, wallet_id, user_id, amount, status, created_at, updated_at`

// ReservationRepo implements ports.ReservationRepository.
type ReservationRepo struct {
	pool Pool
}

// NewReservationRepo creates a new ReservationRepo.
func NewReservationRepo(pool Pool) *ReservationRepo {
	return &ReservationRepo{pool: pool}
}

// Create inserts a reservation within a transaction.
func (r *ReservationRepo) Create(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	query := `INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		res.ID, res.WalletID, res.UserID, res.Amount, res.Status, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetByID fetches a reservation (non-locking read).
func (r *ReservationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res := &domain.Reservation{}
	err := scanReservation(r.pool.QueryRow(ctx, query, id), res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation by id: %w", err)
	}
	return res, nil
}

// GetByIDForUpdate fetches a reservation with pessimistic locking.
// This MUST be called within a transaction.
func (r *ReservationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`

	res := &domain.Reservation{}
	err := scanReservation(tx.QueryRow(ctx, query, id), res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation for update: %w", err)
	}
	return res, nil
}

// UpdateStatus finalizes a reservation within a transaction.
func (r *ReservationRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ReservationStatus) error {
	query := `UPDATE reservations SET status = $2, updated_at = NOW() WHERE id = $1`

	_, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	return nil
}

func scanReservation(row pgx.Row, res *domain.Reservation) error {
	return row.Scan(
		&res.ID, &res.WalletID, &res.UserID, &res.Amount, &res.Status,
		&res.CreatedAt, &res.UpdatedAt,
	)
}
