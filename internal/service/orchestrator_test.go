package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/internal/core/ports/mocks"
	"loyalty-wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testMaxAttempts = 5

type orchestratorDeps struct {
	ctrl         *gomock.Controller
	intentRepo   *mocks.MockIntentRepository
	callbackRepo *mocks.MockCallbackRepository
	ledger       *mocks.MockWalletLedger
	registry     *mocks.MockGatewayRegistry
	gateway      *mocks.MockGatewayClient
	codec        *mocks.MockSignatureCodec
	ackCache     *mocks.MockCallbackCache
	audit        *mocks.MockAuditService
	orch         *OrchestratorImpl
}

func setupOrchestrator(t *testing.T) *orchestratorDeps {
	ctrl := gomock.NewController(t)
	d := &orchestratorDeps{
		ctrl:         ctrl,
		intentRepo:   mocks.NewMockIntentRepository(ctrl),
		callbackRepo: mocks.NewMockCallbackRepository(ctrl),
		ledger:       mocks.NewMockWalletLedger(ctrl),
		registry:     mocks.NewMockGatewayRegistry(ctrl),
		gateway:      mocks.NewMockGatewayClient(ctrl),
		codec:        mocks.NewMockSignatureCodec(ctrl),
		ackCache:     mocks.NewMockCallbackCache(ctrl),
		audit:        mocks.NewMockAuditService(ctrl),
	}
	d.orch = NewOrchestrator(
		d.intentRepo, d.callbackRepo, d.ledger, d.registry, d.gateway,
		d.codec, d.ackCache, d.audit, testMaxAttempts, testLogger(),
	)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).AnyTimes()
	return d
}

func elsomConfig() ports.GatewayConfig {
	return ports.GatewayConfig{
		Method:     domain.MethodElsom,
		MerchantID: "m-1",
		SecretKey:  "secret",
		MinAmount:  1_00,
		MaxAmount:  100_000_00,
	}
}

func submittedIntent(userID uuid.UUID) *domain.PaymentIntent {
	ref := "gw-ref-1"
	return &domain.PaymentIntent{
		ID:               "intent-1",
		UserID:           userID,
		Amount:           150_00,
		Currency:         "KGS",
		Method:           domain.MethodElsom,
		Flow:             domain.FlowTopup,
		Status:           domain.PaymentStatusSubmitted,
		GatewayReference: &ref,
		CreatedAt:        time.Now().UTC(),
	}
}

func callbackFields(intentID, status string) map[string]string {
	return map[string]string{
		"payment_id": intentID,
		"reference":  "gw-ref-1",
		"status":     status,
		"amount":     "15000",
		"signature":  "valid-sig",
	}
}

// ==================== Initiate ====================

func TestOrchestrator_Initiate_TopupSubmitted(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.gateway.EXPECT().Initiate(ctx, gomock.Any(), gomock.Any()).Return(ports.GatewayAck{
		Accepted:         true,
		GatewayReference: "gw-ref-1",
		RedirectURL:      "https://pay.example.kg/x",
	})
	d.intentRepo.EXPECT().MarkSubmitted(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	intent, err := d.orch.Initiate(ctx, ports.InitiateRequest{
		UserID: userID,
		Amount: 150_00,
		Method: domain.MethodElsom,
		Flow:   domain.FlowTopup,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSubmitted, intent.Status)
	assert.Equal(t, "gw-ref-1", *intent.GatewayReference)
	assert.Equal(t, "KGS", intent.Currency)
	assert.Nil(t, intent.ReservationID)
	assert.Len(t, intent.ID, 64)
}

func TestOrchestrator_Initiate_DebitReservesFirst(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	reservation := &domain.Reservation{ID: uuid.New(), UserID: userID, Amount: 150_00}

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.ledger.EXPECT().Reserve(ctx, userID, int64(150_00)).Return(reservation, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.gateway.EXPECT().Initiate(ctx, gomock.Any(), gomock.Any()).Return(ports.GatewayAck{
		Accepted:         true,
		GatewayReference: "gw-ref-1",
	})
	d.intentRepo.EXPECT().MarkSubmitted(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	intent, err := d.orch.Initiate(ctx, ports.InitiateRequest{
		UserID: userID,
		Amount: 150_00,
		Method: domain.MethodElsom,
		Flow:   domain.FlowDebit,
	})
	require.NoError(t, err)
	require.NotNil(t, intent.ReservationID)
	assert.Equal(t, reservation.ID, *intent.ReservationID)
}

func TestOrchestrator_Initiate_LimitExceededPropagates(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.ledger.EXPECT().Reserve(ctx, userID, int64(150_00)).Return(nil, apperror.ErrLimitExceeded(domain.LimitDaily))
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, intent *domain.PaymentIntent) error {
			assert.Equal(t, domain.PaymentStatusFailed, intent.Status)
			require.NotNil(t, intent.FailureReason)
			assert.Equal(t, domain.ReasonLimitExceeded, *intent.FailureReason)
			return nil
		})

	_, err := d.orch.Initiate(ctx, ports.InitiateRequest{
		UserID: userID,
		Amount: 150_00,
		Method: domain.MethodElsom,
		Flow:   domain.FlowDebit,
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "WAL_002", appErr.Code)
}

func TestOrchestrator_Initiate_FrozenWalletRecordsFailedIntent(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.ledger.EXPECT().Reserve(ctx, userID, int64(150_00)).Return(nil, apperror.ErrWalletFrozen())
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, intent *domain.PaymentIntent) error {
			require.NotNil(t, intent.FailureReason)
			assert.Equal(t, domain.ReasonWalletFrozen, *intent.FailureReason)
			require.NotNil(t, intent.ProcessedAt)
			return nil
		})

	_, err := d.orch.Initiate(ctx, ports.InitiateRequest{
		UserID: userID,
		Amount: 150_00,
		Method: domain.MethodElsom,
		Flow:   domain.FlowDebit,
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "WAL_001", appErr.Code)
}

func TestOrchestrator_Initiate_AmountOutOfBounds(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)

	_, err := d.orch.Initiate(context.Background(), ports.InitiateRequest{
		UserID: uuid.New(),
		Amount: 50, // below elsom min of 1_00
		Method: domain.MethodElsom,
		Flow:   domain.FlowTopup,
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_001", appErr.Code)
}

func TestOrchestrator_Initiate_UnsupportedMethod(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	method := domain.PaymentMethod("paypal")
	d.registry.EXPECT().Resolve(method).Return(ports.GatewayConfig{}, apperror.ErrUnsupportedMethod("paypal"))

	_, err := d.orch.Initiate(context.Background(), ports.InitiateRequest{
		UserID: uuid.New(),
		Amount: 150_00,
		Method: method,
		Flow:   domain.FlowTopup,
	})
	require.Error(t, err)
}

func TestOrchestrator_Initiate_GatewayRejectedFailsIntent(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	reservation := &domain.Reservation{ID: uuid.New(), UserID: userID, Amount: 150_00}

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.ledger.EXPECT().Reserve(ctx, userID, int64(150_00)).Return(reservation, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.gateway.EXPECT().Initiate(ctx, gomock.Any(), gomock.Any()).Return(ports.GatewayAck{
		FailureReason: "card blocked",
	})
	d.intentRepo.EXPECT().UpdateStatus(ctx, gomock.Any(), domain.PaymentStatusFailed, gomock.Any()).Return(true, nil)
	d.ledger.EXPECT().Release(ctx, reservation.ID).Return(nil)

	_, err := d.orch.Initiate(ctx, ports.InitiateRequest{
		UserID: userID,
		Amount: 150_00,
		Method: domain.MethodElsom,
		Flow:   domain.FlowDebit,
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "GTW_002", appErr.Code)
}

func TestOrchestrator_Initiate_TransientReleasesAndStaysCreated(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	reservation := &domain.Reservation{ID: uuid.New(), UserID: userID, Amount: 150_00}

	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.ledger.EXPECT().Reserve(ctx, userID, int64(150_00)).Return(reservation, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.gateway.EXPECT().Initiate(ctx, gomock.Any(), gomock.Any()).Return(ports.GatewayAck{
		Transient:     true,
		FailureReason: "timeout",
	})
	// No UpdateStatus: the intent stays CREATED for resubmission.
	d.ledger.EXPECT().Release(ctx, reservation.ID).Return(nil)

	_, err := d.orch.Initiate(ctx, ports.InitiateRequest{
		UserID: userID,
		Amount: 150_00,
		Method: domain.MethodElsom,
		Flow:   domain.FlowDebit,
	})
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "GTW_001", appErr.Code)
}

// ==================== HandleCallback ====================

func TestOrchestrator_HandleCallback_CompletedTopupCredits(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	fields := callbackFields(intent.ID, "completed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	// The conditional transition must win before any money moves.
	gomock.InOrder(
		d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(true, nil),
		d.ledger.EXPECT().Credit(ctx, userID, int64(150_00), intent.ID).Return(&domain.WalletEntry{}, nil),
		d.callbackRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil),
	)
	d.ackCache.EXPECT().Set(ctx, "gw-ref-1", gomock.Any(), callbackAckTTL).Return(nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, ack.IntentID)
	assert.Equal(t, domain.PaymentStatusCompleted, ack.Status)
	assert.False(t, ack.AlreadyProcessed)
}

func TestOrchestrator_HandleCallback_CompletedDebitConsumes(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.Flow = domain.FlowDebit
	intent.ReservationID = &reservationID
	fields := callbackFields(intent.ID, "completed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	// Consume only after the transition is claimed.
	gomock.InOrder(
		d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(true, nil),
		d.ledger.EXPECT().Consume(ctx, reservationID).Return(nil),
		d.callbackRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil),
	)
	d.ackCache.EXPECT().Set(ctx, "gw-ref-1", gomock.Any(), callbackAckTTL).Return(nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, ack.Status)
}

func TestOrchestrator_HandleCallback_DuplicateRecordAcknowledged(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	fields := callbackFields(intent.ID, "completed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(true, nil)
	// Credit is idempotent: replaying it before hitting the duplicate guard
	// changes nothing.
	d.ledger.EXPECT().Credit(ctx, userID, int64(150_00), intent.ID).Return(&domain.WalletEntry{}, nil)
	d.callbackRepo.EXPECT().Create(ctx, gomock.Any()).Return(ports.ErrDuplicateCallback)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ack.AlreadyProcessed)
	assert.Equal(t, domain.PaymentStatusCompleted, ack.Status)
}

func TestOrchestrator_HandleCallback_CachedAckFastPath(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	fields := callbackFields(intent.ID, "completed")

	cachedAck, _ := json.Marshal(ports.CallbackAck{IntentID: intent.ID, Status: domain.PaymentStatusCompleted})

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(cachedAck, nil)
	// No ledger, callback record or intent mutation.

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ack.AlreadyProcessed)
}

func TestOrchestrator_HandleCallback_SignatureMismatch(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	intent := submittedIntent(uuid.New())
	fields := callbackFields(intent.ID, "completed")
	fields["signature"] = "forged"

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "forged", "secret").Return(false)
	// Zero mutation past this point.

	_, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "SEC_001", appErr.Code)
}

func TestOrchestrator_HandleCallback_FailedReleasesReservation(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.Flow = domain.FlowDebit
	intent.ReservationID = &reservationID
	fields := callbackFields(intent.ID, "failed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	d.callbackRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusFailed, gomock.Any()).Return(true, nil)
	d.ledger.EXPECT().Release(ctx, reservationID).Return(nil)
	d.ackCache.EXPECT().Set(ctx, "gw-ref-1", gomock.Any(), callbackAckTTL).Return(nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, ack.Status)
}

func TestOrchestrator_HandleCallback_IntermediateStatusKeepsSubmitted(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	intent := submittedIntent(uuid.New())
	fields := callbackFields(intent.ID, "processing")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSubmitted, ack.Status)
	assert.False(t, ack.AlreadyProcessed)
}

func TestOrchestrator_HandleCallback_LateCallbackAfterCancel(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	intent := submittedIntent(uuid.New())
	intent.Status = domain.PaymentStatusCancelled
	fields := callbackFields(intent.ID, "completed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	// Acknowledged, but no credit and no transition.

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ack.AlreadyProcessed)
	assert.Equal(t, domain.PaymentStatusCancelled, ack.Status)
}

func TestOrchestrator_HandleCallback_CancelWinsClaimMovesNoMoney(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.Flow = domain.FlowDebit
	intent.ReservationID = &reservationID
	fields := callbackFields(intent.ID, "completed")

	cancelled := *intent
	cancelled.Status = domain.PaymentStatusCancelled

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	// A cancel landed first: the conditional update loses, the reservation
	// is never consumed and the ack reports the cancellation.
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(false, nil)
	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(&cancelled, nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ack.AlreadyProcessed)
	assert.Equal(t, domain.PaymentStatusCancelled, ack.Status)
}

func TestOrchestrator_HandleCallback_RedeliveryRepairsUnsettledCompleted(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	intent.Status = domain.PaymentStatusCompleted
	fields := callbackFields(intent.ID, "completed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	// A crash after the claim left the intent COMPLETED but unsettled;
	// redelivery replays the idempotent credit.
	d.ledger.EXPECT().Credit(ctx, userID, int64(150_00), intent.ID).Return(&domain.WalletEntry{}, nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ack.AlreadyProcessed)
	assert.Equal(t, domain.PaymentStatusCompleted, ack.Status)
}

func TestOrchestrator_HandleCallback_MissingFields(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	_, err := d.orch.HandleCallback(context.Background(), map[string]string{
		"payment_id": "x",
		"status":     "completed",
	}, "10.0.0.1")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_001", appErr.Code)
}

func TestOrchestrator_HandleCallback_UnknownIntent(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.intentRepo.EXPECT().GetByID(ctx, "ghost").Return(nil, nil)

	_, err := d.orch.HandleCallback(ctx, callbackFields("ghost", "completed"), "10.0.0.1")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_004", appErr.Code)
}

// ==================== Reconcile ====================

func TestOrchestrator_Reconcile_UnknownIncrementsUntilExhaustion(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)

	cfg := elsomConfig()
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(cfg, nil).Times(4)
	d.gateway.EXPECT().PollStatus(ctx, "gw-ref-1", cfg).Return(ports.GatewayStatusUnknown).Times(3)

	// Three unknown answers: counter climbs, state untouched.
	d.intentRepo.EXPECT().IncrementReconcileAttempts(ctx, intent.ID).Return(1, nil)
	require.NoError(t, d.orch.Reconcile(ctx, intent))
	d.intentRepo.EXPECT().IncrementReconcileAttempts(ctx, intent.ID).Return(2, nil)
	require.NoError(t, d.orch.Reconcile(ctx, intent))
	d.intentRepo.EXPECT().IncrementReconcileAttempts(ctx, intent.ID).Return(3, nil)
	require.NoError(t, d.orch.Reconcile(ctx, intent))

	// Fourth poll answers completed: the intent settles.
	d.gateway.EXPECT().PollStatus(ctx, "gw-ref-1", cfg).Return(ports.GatewayStatusCompleted)
	d.ledger.EXPECT().Credit(ctx, userID, int64(150_00), intent.ID).Return(&domain.WalletEntry{}, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(true, nil)
	require.NoError(t, d.orch.Reconcile(ctx, intent))
	assert.Equal(t, domain.PaymentStatusCompleted, intent.Status)
}

func TestOrchestrator_Reconcile_ExhaustionFailsIntent(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.Flow = domain.FlowDebit
	intent.ReservationID = &reservationID

	cfg := elsomConfig()
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(cfg, nil)
	d.gateway.EXPECT().PollStatus(ctx, "gw-ref-1", cfg).Return(ports.GatewayStatusUnknown)
	d.intentRepo.EXPECT().IncrementReconcileAttempts(ctx, intent.ID).Return(testMaxAttempts, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusFailed, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ domain.PaymentStatus, reason *string) (bool, error) {
			require.NotNil(t, reason)
			assert.Equal(t, domain.ReasonReconciliationExhausted, *reason)
			return true, nil
		})
	d.ledger.EXPECT().Release(ctx, reservationID).Return(nil)

	require.NoError(t, d.orch.Reconcile(ctx, intent))
	assert.Equal(t, domain.PaymentStatusFailed, intent.Status)
}

func TestOrchestrator_Reconcile_FailedReportReleases(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.Flow = domain.FlowDebit
	intent.ReservationID = &reservationID

	cfg := elsomConfig()
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(cfg, nil)
	d.gateway.EXPECT().PollStatus(ctx, "gw-ref-1", cfg).Return(ports.GatewayStatusFailed)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusFailed, gomock.Any()).Return(true, nil)
	d.ledger.EXPECT().Release(ctx, reservationID).Return(nil)

	require.NoError(t, d.orch.Reconcile(ctx, intent))
}

func TestOrchestrator_Reconcile_SkipsNonSubmitted(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	intent := submittedIntent(uuid.New())
	intent.Status = domain.PaymentStatusCompleted

	require.NoError(t, d.orch.Reconcile(context.Background(), intent))
}

func TestOrchestrator_Reconcile_LostClaimMovesNoMoney(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)

	cfg := elsomConfig()
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(cfg, nil)
	d.gateway.EXPECT().PollStatus(ctx, "gw-ref-1", cfg).Return(ports.GatewayStatusCompleted)
	// A cancel or callback finalized the intent first: no credit follows.
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(false, nil)

	require.NoError(t, d.orch.Reconcile(ctx, intent))
}

func TestOrchestrator_Reconcile_SettleFailureDoesNotLoop(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)

	cfg := elsomConfig()
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(cfg, nil)
	d.gateway.EXPECT().PollStatus(ctx, "gw-ref-1", cfg).Return(ports.GatewayStatusCompleted)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(true, nil)
	d.ledger.EXPECT().Credit(ctx, userID, int64(150_00), intent.ID).Return(nil, errors.New("wallet row gone"))

	require.Error(t, d.orch.Reconcile(ctx, intent))
	assert.Equal(t, domain.PaymentStatusCompleted, intent.Status)

	// The intent is terminal now: the next sweep skips it instead of
	// polling forever. A later signed callback replays the credit.
	require.NoError(t, d.orch.Reconcile(ctx, intent))
}

// ==================== Cancel ====================

func TestOrchestrator_Cancel_Success(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.ReservationID = &reservationID

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCancelled, nil).Return(true, nil)
	d.ledger.EXPECT().Release(ctx, reservationID).Return(nil)

	got, err := d.orch.Cancel(ctx, intent.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, got.Status)
}

func TestOrchestrator_Cancel_TerminalIntent(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	intent.Status = domain.PaymentStatusCompleted

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)

	_, err := d.orch.Cancel(ctx, intent.ID, userID)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_005", appErr.Code)
}

func TestOrchestrator_Cancel_WrongUserLooksLikeNotFound(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	intent := submittedIntent(uuid.New())

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)

	_, err := d.orch.Cancel(ctx, intent.ID, uuid.New())
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_004", appErr.Code)
}

func TestOrchestrator_Cancel_DuringSettlementWindowLoses(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)
	reservationID := uuid.New()
	intent.Flow = domain.FlowDebit
	intent.ReservationID = &reservationID
	fields := callbackFields(intent.ID, "completed")

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.registry.EXPECT().Resolve(domain.MethodElsom).Return(elsomConfig(), nil)
	d.codec.EXPECT().Verify(fields, "valid-sig", "secret").Return(true)
	d.ackCache.EXPECT().Get(ctx, "gw-ref-1").Return(nil, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCompleted, nil).Return(true, nil)
	// A cancel arriving between the claim and the consume finds the intent
	// already COMPLETED: it cannot strand the consumed reservation.
	d.ledger.EXPECT().Consume(ctx, reservationID).DoAndReturn(func(ctx context.Context, _ uuid.UUID) error {
		completed := *intent
		completed.Status = domain.PaymentStatusCompleted
		d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(&completed, nil)

		_, cancelErr := d.orch.Cancel(ctx, intent.ID, userID)
		var appErr *apperror.AppError
		require.True(t, errors.As(cancelErr, &appErr))
		assert.Equal(t, "PAY_005", appErr.Code)
		return nil
	})
	d.callbackRepo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.ackCache.EXPECT().Set(ctx, "gw-ref-1", gomock.Any(), callbackAckTTL).Return(nil)

	ack, err := d.orch.HandleCallback(ctx, fields, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, ack.Status)
}

func TestOrchestrator_Cancel_LosesRaceAgainstCallback(t *testing.T) {
	d := setupOrchestrator(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	userID := uuid.New()
	intent := submittedIntent(userID)

	d.intentRepo.EXPECT().GetByID(ctx, intent.ID).Return(intent, nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, intent.ID, domain.PaymentStatusCancelled, nil).Return(false, nil)

	_, err := d.orch.Cancel(ctx, intent.ID, userID)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "PAY_005", appErr.Code)
}
