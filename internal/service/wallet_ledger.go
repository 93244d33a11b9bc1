package service

import (
	"context"
	"fmt"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletLedgerImpl implements ports.WalletLedger. Every mutating operation
// runs inside one database transaction holding a row lock on the wallet, so
// concurrent operations on the same wallet serialize at the database.
type WalletLedgerImpl struct {
	transactor      ports.DBTransactor
	walletRepo      ports.WalletRepository
	entryRepo       ports.WalletEntryRepository
	reservationRepo ports.ReservationRepository
	log             zerolog.Logger
}

// NewWalletLedger creates a new wallet ledger service.
func NewWalletLedger(
	transactor ports.DBTransactor,
	walletRepo ports.WalletRepository,
	entryRepo ports.WalletEntryRepository,
	reservationRepo ports.ReservationRepository,
	log zerolog.Logger,
) *WalletLedgerImpl {
	return &WalletLedgerImpl{
		transactor:      transactor,
		walletRepo:      walletRepo,
		entryRepo:       entryRepo,
		reservationRepo: reservationRepo,
		log:             log,
	}
}

// CreateWallet provisions a wallet with default limits. Idempotent: an
// existing wallet for the user is returned as-is.
func (s *WalletLedgerImpl) CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	existing, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if existing != nil {
		return existing, nil
	}

	wallet := domain.NewWallet(userID, currency, time.Now().UTC())
	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("user_id", userID.String()).
		Msg("wallet created")

	return wallet, nil
}

// Credit adds funds to the wallet, idempotent per referenceID. A repeated
// credit for the same reference returns the original entry and changes
// nothing.
func (s *WalletLedgerImpl) Credit(ctx context.Context, userID uuid.UUID, amount int64, referenceID string) (*domain.WalletEntry, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, dbTx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if wallet.IsFrozen {
		return nil, apperror.ErrWalletFrozen()
	}

	// Idempotency: a prior entry for this reference wins.
	prior, err := s.entryRepo.GetByReference(ctx, wallet.ID, referenceID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check entry reference: %w", err))
	}
	if prior != nil {
		return prior, nil
	}

	now := time.Now().UTC()
	wallet.Balance += amount
	entry := &domain.WalletEntry{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		ReferenceID:  referenceID,
		Amount:       amount,
		BalanceAfter: wallet.Balance,
		CreatedAt:    now,
	}

	if err := s.entryRepo.Create(ctx, dbTx, entry); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create ledger entry: %w", err))
	}
	if err := s.walletRepo.Update(ctx, dbTx, wallet); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update wallet: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("reference_id", referenceID).
		Int64("amount", amount).
		Int64("balance", wallet.Balance).
		Msg("wallet credited")

	return entry, nil
}

// Reserve places a hold against the spend limits. Counters are normalized
// for calendar rollovers before the limit check, so a stale daily counter
// from yesterday never blocks today's spending.
func (s *WalletLedgerImpl) Reserve(ctx context.Context, userID uuid.UUID, amount int64) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, dbTx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}
	if wallet.IsFrozen {
		return nil, apperror.ErrWalletFrozen()
	}

	now := time.Now().UTC()
	wallet.NormalizeResets(now)

	if limit := wallet.ExceededLimit(amount); limit != "" {
		return nil, apperror.ErrLimitExceeded(limit)
	}

	wallet.DailyUsed += amount
	wallet.MonthlyUsed += amount

	reservation := &domain.Reservation{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		UserID:    userID,
		Amount:    amount,
		Status:    domain.ReservationHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.reservationRepo.Create(ctx, dbTx, reservation); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create reservation: %w", err))
	}
	if err := s.walletRepo.Update(ctx, dbTx, wallet); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update wallet: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("reservation_id", reservation.ID.String()).
		Int64("amount", amount).
		Msg("funds reserved")

	return reservation, nil
}

// Consume debits the wallet balance for a completed payment and finalizes
// the hold. The balance never goes below zero.
func (s *WalletLedgerImpl) Consume(ctx context.Context, reservationID uuid.UUID) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	reservation, err := s.reservationRepo.GetByIDForUpdate(ctx, dbTx, reservationID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock reservation: %w", err))
	}
	if reservation == nil {
		return apperror.ErrNotFound("reservation")
	}
	if reservation.Status != domain.ReservationHeld {
		// Already finalized, nothing to do.
		return nil
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, reservation.WalletID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return apperror.ErrNotFound("wallet")
	}
	if wallet.Balance < reservation.Amount {
		return apperror.ErrInsufficientFunds()
	}

	wallet.Balance -= reservation.Amount

	if err := s.reservationRepo.UpdateStatus(ctx, dbTx, reservation.ID, domain.ReservationConsumed); err != nil {
		return apperror.InternalError(fmt.Errorf("consume reservation: %w", err))
	}
	if err := s.walletRepo.Update(ctx, dbTx, wallet); err != nil {
		return apperror.InternalError(fmt.Errorf("update wallet: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("reservation_id", reservation.ID.String()).
		Int64("amount", reservation.Amount).
		Int64("balance", wallet.Balance).
		Msg("reservation consumed")

	return nil
}

// Release rolls back an unconsummated hold and returns its amount to the
// limit counters. No-op when the reservation was already finalized.
func (s *WalletLedgerImpl) Release(ctx context.Context, reservationID uuid.UUID) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	reservation, err := s.reservationRepo.GetByIDForUpdate(ctx, dbTx, reservationID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock reservation: %w", err))
	}
	if reservation == nil {
		return apperror.ErrNotFound("reservation")
	}
	if reservation.Status != domain.ReservationHeld {
		return nil
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, reservation.WalletID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return apperror.ErrNotFound("wallet")
	}

	// Counters may have been normalized past the reservation's day; never
	// decrement below zero.
	wallet.DailyUsed = max(0, wallet.DailyUsed-reservation.Amount)
	wallet.MonthlyUsed = max(0, wallet.MonthlyUsed-reservation.Amount)

	if err := s.reservationRepo.UpdateStatus(ctx, dbTx, reservation.ID, domain.ReservationReleased); err != nil {
		return apperror.InternalError(fmt.Errorf("release reservation: %w", err))
	}
	if err := s.walletRepo.Update(ctx, dbTx, wallet); err != nil {
		return apperror.InternalError(fmt.Errorf("update wallet: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("reservation_id", reservation.ID.String()).
		Int64("amount", reservation.Amount).
		Msg("reservation released")

	return nil
}

// Balance returns the wallet with limit counters normalized for the current
// date. The normalization is persisted only on the next mutating operation.
func (s *WalletLedgerImpl) Balance(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("wallet")
	}

	wallet.NormalizeResets(time.Now().UTC())
	return wallet, nil
}
