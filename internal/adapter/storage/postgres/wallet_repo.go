package postgres

import (
	"context"
	"errors"
	"fmt"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, balance, currency, daily_limit, monthly_limit,
		single_transaction_limit, daily_used, monthly_used,
		last_daily_reset, last_monthly_reset, is_frozen, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet into the database.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.UserID, w.Balance, w.Currency, w.DailyLimit, w.MonthlyLimit,
		w.SingleTxLimit, w.DailyUsed, w.MonthlyUsed,
		w.LastDailyReset, w.LastMonthlyReset, w.IsFrozen, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByUserID fetches a wallet by user ID (non-locking read).
func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	w := &domain.Wallet{}
	err := scanWallet(r.pool.QueryRow(ctx, query, userID), w)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by user id: %w", err)
	}
	return w, nil
}

// GetByUserIDForUpdate fetches a wallet by user ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

	w := &domain.Wallet{}
	err := scanWallet(tx.QueryRow(ctx, query, userID), w)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet for update by user: %w", err)
	}
	return w, nil
}

// GetByIDForUpdate fetches a wallet by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`

	w := &domain.Wallet{}
	err := scanWallet(tx.QueryRow(ctx, query, id), w)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet for update: %w", err)
	}
	return w, nil
}

// Update persists balance, counters and reset markers within a transaction.
func (r *WalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `UPDATE wallets
		SET balance = $2, daily_used = $3, monthly_used = $4,
			last_daily_reset = $5, last_monthly_reset = $6, is_frozen = $7,
			updated_at = NOW()
		WHERE id = $1`

	_, err := tx.Exec(ctx, query,
		w.ID, w.Balance, w.DailyUsed, w.MonthlyUsed,
		w.LastDailyReset, w.LastMonthlyReset, w.IsFrozen,
	)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	return nil
}

func scanWallet(row pgx.Row, w *domain.Wallet) error {
	return row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.DailyLimit, &w.MonthlyLimit,
		&w.SingleTxLimit, &w.DailyUsed, &w.MonthlyUsed,
		&w.LastDailyReset, &w.LastMonthlyReset, &w.IsFrozen, &w.CreatedAt, &w.UpdatedAt,
	)
}
