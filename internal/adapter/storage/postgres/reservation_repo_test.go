package postgres

import (
	"context"
	"testing"
	"time"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReservation() *domain.Reservation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Reservation{
		ID:        uuid.New(),
		WalletID:  uuid.New(),
		UserID:    uuid.New(),
		Amount:    150_00,
		Status:    domain.ReservationHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func reservationRow(res *domain.Reservation) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "wallet_id", "user_id", "amount", "status", "created_at", "updated_at",
	}).AddRow(res.ID, res.WalletID, res.UserID, res.Amount, res.Status, res.CreatedAt, res.UpdatedAt)
}

func TestReservationRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReservationRepo(mock)
	res := newTestReservation()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(res.ID, res.WalletID, res.UserID, res.Amount, res.Status, res.CreatedAt, res.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReservationRepo(mock)
	res := newTestReservation()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM reservations WHERE id .+ FOR UPDATE").
		WithArgs(res.ID).
		WillReturnRows(reservationRow(res))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByIDForUpdate(context.Background(), tx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.ReservationHeld, got.Status)
}

func TestReservationRepo_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReservationRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reservations").
		WithArgs(id, domain.ReservationConsumed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.UpdateStatus(context.Background(), tx, id, domain.ReservationConsumed))
	assert.NoError(t, mock.ExpectationsWereMet())
}
