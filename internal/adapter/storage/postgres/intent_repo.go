package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const intentColumns = `id, user_id, amount, commission, currency, method, flow, status,
		gateway_reference, redirect_url, reservation_id, failure_reason,
		reconcile_attempts, created_at, processed_at`

// IntentRepo implements ports.IntentRepository.
type IntentRepo struct {
	pool Pool
}

// NewIntentRepo creates a new IntentRepo.
func NewIntentRepo(pool Pool) *IntentRepo {
	return &IntentRepo{pool: pool}
}

// Create inserts a new payment intent.
func (r *IntentRepo) Create(ctx context.Context, p *domain.PaymentIntent) error {
	query := `INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Amount, p.Commission, p.Currency, p.Method, p.Flow, p.Status,
		p.GatewayReference, p.RedirectURL, p.ReservationID, p.FailureReason,
		p.ReconcileAttempts, p.CreatedAt, p.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

// GetByID fetches a payment intent by its ID.
func (r *IntentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`

	p := &domain.PaymentIntent{}
	err := scanIntent(r.pool.QueryRow(ctx, query, id), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment intent by id: %w", err)
	}
	return p, nil
}

// MarkSubmitted records the gateway's acceptance of a created intent.
func (r *IntentRepo) MarkSubmitted(ctx context.Context, id string, gatewayRef, redirectURL *string) error {
	query := `UPDATE payment_intents
		SET status = $2, gateway_reference = $3, redirect_url = $4
		WHERE id = $1 AND status = $5`

	_, err := r.pool.Exec(ctx, query,
		id, domain.PaymentStatusSubmitted, gatewayRef, redirectURL, domain.PaymentStatusCreated,
	)
	if err != nil {
		return fmt.Errorf("mark intent submitted: %w", err)
	}
	return nil
}

// UpdateStatus moves an intent to a terminal state. The WHERE clause only
// matches non-terminal rows, so a settled intent can never change again.
// Returns false when the guard rejected the transition.
func (r *IntentRepo) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, reason *string) (bool, error) {
	query := `UPDATE payment_intents
		SET status = $2, failure_reason = $3, processed_at = $4
		WHERE id = $1 AND status IN ($5, $6)`

	tag, err := r.pool.Exec(ctx, query,
		id, status, reason, time.Now().UTC(),
		domain.PaymentStatusCreated, domain.PaymentStatusSubmitted,
	)
	if err != nil {
		return false, fmt.Errorf("update intent status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListSubmittedBefore returns SUBMITTED intents created before cutoff,
// oldest first, for reconciliation.
func (r *IntentRepo) ListSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, domain.PaymentStatusSubmitted, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list submitted intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		var p domain.PaymentIntent
		if err := scanIntent(rows, &p); err != nil {
			return nil, fmt.Errorf("scan payment intent: %w", err)
		}
		intents = append(intents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment intents: %w", err)
	}
	return intents, nil
}

// IncrementReconcileAttempts bumps the poll counter and returns the new value.
func (r *IntentRepo) IncrementReconcileAttempts(ctx context.Context, id string) (int, error) {
	query := `UPDATE payment_intents
		SET reconcile_attempts = reconcile_attempts + 1
		WHERE id = $1
		RETURNING reconcile_attempts`

	var attempts int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("increment reconcile attempts: %w", err)
	}
	return attempts, nil
}

func scanIntent(row pgx.Row, p *domain.PaymentIntent) error {
	return row.Scan(
		&p.ID, &p.UserID, &p.Amount, &p.Commission, &p.Currency, &p.Method, &p.Flow, &p.Status,
		&p.GatewayReference, &p.RedirectURL, &p.ReservationID, &p.FailureReason,
		&p.ReconcileAttempts, &p.CreatedAt, &p.ProcessedAt,
	)
}
