package postgres

import (
	"context"
	"errors"
	"fmt"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletEntryRepo implements ports.WalletEntryRepository. The table carries a
// UNIQUE (wallet_id, reference_id) constraint backing credit idempotency.
type WalletEntryRepo struct {
	pool Pool
}

// NewWalletEntryRepo creates a new WalletEntryRepo.
func NewWalletEntryRepo(pool Pool) *WalletEntryRepo {
	return &WalletEntryRepo{pool: pool}
}

// Create inserts a ledger entry within a transaction.
func (r *WalletEntryRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.WalletEntry) error {
	query := `INSERT INTO wallet_entries (id, wallet_id, reference_id, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.WalletID, e.ReferenceID, e.Amount, e.BalanceAfter, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet entry: %w", err)
	}
	return nil
}

// GetByReference fetches the entry for a wallet/reference pair.
func (r *WalletEntryRepo) GetByReference(ctx context.Context, walletID uuid.UUID, referenceID string) (*domain.WalletEntry, error) {
	query := `SELECT id, wallet_id, reference_id, amount, balance_after, created_at
		FROM wallet_entries WHERE wallet_id = $1 AND reference_id = $2`

	e := &domain.WalletEntry{}
	err := r.pool.QueryRow(ctx, query, walletID, referenceID).Scan(
		&e.ID, &e.WalletID, &e.ReferenceID, &e.Amount, &e.BalanceAfter, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet entry by reference: %w", err)
	}
	return e, nil
}
