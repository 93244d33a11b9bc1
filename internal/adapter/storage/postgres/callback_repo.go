package postgres

import (
	"context"
	"errors"
	"fmt"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint breach.
const uniqueViolation = "23505"

// CallbackRepo implements ports.CallbackRepository. The primary key on
// gateway_reference is the durable at-most-once guard for callbacks.
type CallbackRepo struct {
	pool Pool
}

// NewCallbackRepo creates a new CallbackRepo.
func NewCallbackRepo(pool Pool) *CallbackRepo {
	return &CallbackRepo{pool: pool}
}

// Create inserts a callback record. A second insert for the same gateway
// reference returns ports.ErrDuplicateCallback.
func (r *CallbackRepo) Create(ctx context.Context, rec *domain.CallbackRecord) error {
	query := `INSERT INTO callback_records (gateway_reference, intent_id, received_signature, outcome, processed_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query,
		rec.GatewayReference, rec.IntentID, rec.ReceivedSignature, rec.Outcome, rec.ProcessedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ports.ErrDuplicateCallback
		}
		return fmt.Errorf("insert callback record: %w", err)
	}
	return nil
}

// Get fetches the callback record for a gateway reference.
func (r *CallbackRepo) Get(ctx context.Context, gatewayReference string) (*domain.CallbackRecord, error) {
	query := `SELECT gateway_reference, intent_id, received_signature, outcome, processed_at
		FROM callback_records WHERE gateway_reference = $1`

	rec := &domain.CallbackRecord{}
	err := r.pool.QueryRow(ctx, query, gatewayReference).Scan(
		&rec.GatewayReference, &rec.IntentID, &rec.ReceivedSignature, &rec.Outcome, &rec.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get callback record: %w", err)
	}
	return rec, nil
}
