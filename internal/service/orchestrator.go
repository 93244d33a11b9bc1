package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// callbackAckTTL bounds how long an acknowledged callback stays in the Redis
// fast path. The callback_records table remains the durable guard.
const callbackAckTTL = 24 * time.Hour

// Callback field names on the wire.
const (
	fieldPaymentID = "payment_id"
	fieldReference = "reference"
	fieldStatus    = "status"
	fieldSignature = "signature"
)

// OrchestratorImpl implements ports.PaymentOrchestrator. It owns the intent
// state machine; balance and limit mutations are delegated to the ledger.
type OrchestratorImpl struct {
	intentRepo   ports.IntentRepository
	callbackRepo ports.CallbackRepository
	ledger       ports.WalletLedger
	registry     ports.GatewayRegistry
	gateway      ports.GatewayClient
	codec        ports.SignatureCodec
	ackCache     ports.CallbackCache
	audit        ports.AuditService
	maxAttempts  int
	log          zerolog.Logger
}

// NewOrchestrator creates a payment orchestrator. maxAttempts caps
// reconciliation polls per intent before it is failed as unresolvable.
func NewOrchestrator(
	intentRepo ports.IntentRepository,
	callbackRepo ports.CallbackRepository,
	ledger ports.WalletLedger,
	registry ports.GatewayRegistry,
	gateway ports.GatewayClient,
	codec ports.SignatureCodec,
	ackCache ports.CallbackCache,
	audit ports.AuditService,
	maxAttempts int,
	log zerolog.Logger,
) *OrchestratorImpl {
	return &OrchestratorImpl{
		intentRepo:   intentRepo,
		callbackRepo: callbackRepo,
		ledger:       ledger,
		registry:     registry,
		gateway:      gateway,
		codec:        codec,
		ackCache:     ackCache,
		audit:        audit,
		maxAttempts:  maxAttempts,
		log:          log,
	}
}

// Initiate validates the request, reserves limits for wallet-funded flows
// and submits the payment to the provider. The gateway call happens after
// the intent is persisted and outside any wallet lock.
func (s *OrchestratorImpl) Initiate(ctx context.Context, req ports.InitiateRequest) (*domain.PaymentIntent, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	currency := req.Currency
	if currency == "" {
		currency = "KGS"
	}

	cfg, err := s.registry.Resolve(req.Method)
	if err != nil {
		return nil, err
	}
	if req.Amount < cfg.MinAmount || req.Amount > cfg.MaxAmount {
		return nil, apperror.ErrAmountOutOfBounds(cfg.MinAmount, cfg.MaxAmount)
	}

	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		ID:         domain.NewIntentID(req.UserID, req.Amount, now),
		UserID:     req.UserID,
		Amount:     req.Amount,
		Commission: commission(req.Amount, cfg.FeePercent),
		Currency:   currency,
		Method:     req.Method,
		Flow:       req.Flow,
		Status:     domain.PaymentStatusCreated,
		CreatedAt:  now,
	}

	if req.Flow == domain.FlowDebit {
		reservation, err := s.ledger.Reserve(ctx, req.UserID, req.Amount)
		if err != nil {
			// Business-rule rejections are still recorded as FAILED intents
			// so support can see why the payment never left the building.
			if reason := rejectionReason(err); reason != "" {
				intent.Status = domain.PaymentStatusFailed
				intent.FailureReason = &reason
				processedAt := now
				intent.ProcessedAt = &processedAt
				if createErr := s.intentRepo.Create(ctx, intent); createErr != nil {
					s.log.Error().Err(createErr).Str("intent_id", intent.ID).Msg("failed to record rejected intent")
				}
				s.auditPayment(ctx, intent, domain.AuditActionPaymentFailed, req.ClientIP)
			}
			return nil, err
		}
		intent.ReservationID = &reservation.ID
	}

	if err := s.intentRepo.Create(ctx, intent); err != nil {
		s.releaseIfHeld(ctx, intent)
		return nil, apperror.InternalError(fmt.Errorf("create intent: %w", err))
	}

	ack := s.gateway.Initiate(ctx, intent, cfg)
	switch {
	case ack.Accepted:
		var redirect *string
		if ack.RedirectURL != "" {
			redirect = &ack.RedirectURL
		}
		if err := s.intentRepo.MarkSubmitted(ctx, intent.ID, &ack.GatewayReference, redirect); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("mark submitted: %w", err))
		}
		intent.Status = domain.PaymentStatusSubmitted
		intent.GatewayReference = &ack.GatewayReference
		intent.RedirectURL = redirect

		s.auditPayment(ctx, intent, domain.AuditActionPaymentInitiated, req.ClientIP)
		s.log.Info().
			Str("intent_id", intent.ID).
			Str("method", string(intent.Method)).
			Int64("amount", intent.Amount).
			Msg("payment submitted to gateway")
		return intent, nil

	case ack.Transient:
		// Keep the intent in CREATED so the caller can resubmit; give the
		// reserved limits back in the meantime.
		s.releaseIfHeld(ctx, intent)
		return nil, apperror.ErrGatewayUnavailable(ack.FailureReason)

	default:
		reason := domain.ReasonGatewayRejected
		if _, err := s.intentRepo.UpdateStatus(ctx, intent.ID, domain.PaymentStatusFailed, &reason); err != nil {
			s.log.Error().Err(err).Str("intent_id", intent.ID).Msg("failed to fail rejected intent")
		}
		s.releaseIfHeld(ctx, intent)
		s.auditPayment(ctx, intent, domain.AuditActionPaymentFailed, req.ClientIP)
		return nil, apperror.ErrGatewayRejected(ack.FailureReason)
	}
}

// HandleCallback verifies, deduplicates and applies an asynchronous gateway
// callback. Signature verification is mandatory on every path: nothing is
// mutated, cached or acknowledged before the HMAC checks out.
func (s *OrchestratorImpl) HandleCallback(ctx context.Context, fields map[string]string, clientIP string) (*ports.CallbackAck, error) {
	paymentID := fields[fieldPaymentID]
	reference := fields[fieldReference]
	status := fields[fieldStatus]
	signature := fields[fieldSignature]
	if paymentID == "" || reference == "" || status == "" || signature == "" {
		return nil, apperror.Validation("callback requires payment_id, reference, status and signature")
	}

	intent, err := s.intentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get intent: %w", err))
	}
	if intent == nil {
		s.auditRejected(ctx, paymentID, clientIP, "unknown payment_id")
		return nil, apperror.ErrNotFound("payment")
	}

	cfg, err := s.registry.Resolve(intent.Method)
	if err != nil {
		return nil, err
	}
	if !s.codec.Verify(fields, signature, cfg.SecretKey) {
		s.auditRejected(ctx, intent.ID, clientIP, "signature mismatch")
		s.log.Warn().
			Str("intent_id", intent.ID).
			Str("client_ip", clientIP).
			Msg("callback signature mismatch")
		return nil, apperror.ErrSignatureMismatch()
	}

	// Fast path: this reference was already acknowledged recently.
	if cached, err := s.ackCache.Get(ctx, reference); err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("callback ack cache check failed, falling through to DB")
	} else if cached != nil {
		var ack ports.CallbackAck
		if err := json.Unmarshal(cached, &ack); err == nil {
			ack.AlreadyProcessed = true
			return &ack, nil
		}
	}

	// Late delivery for a settled intent: acknowledge, change nothing.
	// A COMPLETED intent re-runs settlement first: it is idempotent, and a
	// crash between the status claim and the money movement is repaired here
	// on the gateway's redelivery.
	if intent.IsTerminal() {
		if intent.Status == domain.PaymentStatusCompleted {
			if err := s.settle(ctx, intent); err != nil {
				return nil, err
			}
		}
		return &ports.CallbackAck{
			IntentID:         intent.ID,
			Status:           intent.Status,
			AlreadyProcessed: true,
		}, nil
	}

	var outcome domain.CallbackOutcome
	switch status {
	case "completed":
		outcome = domain.CallbackOutcomeCompleted
	case "failed":
		outcome = domain.CallbackOutcomeFailed
	default:
		// Intermediate notification: acknowledged, intent stays SUBMITTED.
		return &ports.CallbackAck{IntentID: intent.ID, Status: intent.Status}, nil
	}

	// Claim the terminal status before any money moves. The conditional
	// update elects a single winner, so a concurrent Cancel can no longer
	// slip in after settlement and strand a consumed reservation.
	var reason *string
	if outcome == domain.CallbackOutcomeFailed {
		r := "gateway reported failure"
		reason = &r
	}
	claimed, err := s.claimTerminal(ctx, intent, terminalStatusFor(outcome), reason, clientIP)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Another actor finalized the intent first; report its outcome.
		current, err := s.intentRepo.GetByID(ctx, intent.ID)
		if err != nil || current == nil {
			return nil, apperror.InternalError(fmt.Errorf("reload intent: %w", err))
		}
		return &ports.CallbackAck{
			IntentID:         intent.ID,
			Status:           current.Status,
			AlreadyProcessed: true,
		}, nil
	}

	if outcome == domain.CallbackOutcomeCompleted {
		// A failure here leaves the intent COMPLETED but unsettled; the
		// non-2xx response makes the gateway redeliver, and the terminal
		// path above replays settlement.
		if err := s.settle(ctx, intent); err != nil {
			return nil, err
		}
	} else {
		s.releaseIfHeld(ctx, intent)
	}

	record := &domain.CallbackRecord{
		GatewayReference:  reference,
		IntentID:          intent.ID,
		ReceivedSignature: signature,
		Outcome:           outcome,
		ProcessedAt:       time.Now().UTC(),
	}
	if err := s.callbackRepo.Create(ctx, record); err != nil {
		if errors.Is(err, ports.ErrDuplicateCallback) {
			return &ports.CallbackAck{
				IntentID:         intent.ID,
				Status:           intent.Status,
				AlreadyProcessed: true,
			}, nil
		}
		return nil, apperror.InternalError(fmt.Errorf("record callback: %w", err))
	}

	ack := &ports.CallbackAck{IntentID: intent.ID, Status: intent.Status}

	if data, err := json.Marshal(ack); err == nil {
		if err := s.ackCache.Set(ctx, reference, data, callbackAckTTL); err != nil {
			s.log.Warn().Err(err).Str("reference", reference).Msg("failed to cache callback ack")
		}
	}

	return ack, nil
}

// Reconcile polls the gateway for an intent whose callback never arrived and
// applies the provider's answer with the same rules as a callback.
func (s *OrchestratorImpl) Reconcile(ctx context.Context, intent *domain.PaymentIntent) error {
	if intent.Status != domain.PaymentStatusSubmitted || intent.GatewayReference == nil {
		return nil
	}

	cfg, err := s.registry.Resolve(intent.Method)
	if err != nil {
		return err
	}

	switch s.gateway.PollStatus(ctx, *intent.GatewayReference, cfg) {
	case ports.GatewayStatusCompleted:
		claimed, err := s.claimTerminal(ctx, intent, domain.PaymentStatusCompleted, nil, "")
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		if err := s.settle(ctx, intent); err != nil {
			// The intent is already COMPLETED; a later signed callback for
			// it replays settlement. Leave a loud trace in the meantime.
			s.log.Error().Err(err).Str("intent_id", intent.ID).Msg("reconciliation claimed intent but settlement failed")
			return err
		}
		s.log.Info().Str("intent_id", intent.ID).Msg("reconciliation completed intent")
		return nil

	case ports.GatewayStatusFailed:
		reason := "gateway reported failure"
		claimed, err := s.claimTerminal(ctx, intent, domain.PaymentStatusFailed, &reason, "")
		if err != nil {
			return err
		}
		if claimed {
			s.releaseIfHeld(ctx, intent)
		}
		s.log.Info().Str("intent_id", intent.ID).Msg("reconciliation failed intent")
		return nil

	default:
		attempts, err := s.intentRepo.IncrementReconcileAttempts(ctx, intent.ID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("increment reconcile attempts: %w", err))
		}
		if attempts < s.maxAttempts {
			return nil
		}
		reason := domain.ReasonReconciliationExhausted
		claimed, err := s.claimTerminal(ctx, intent, domain.PaymentStatusFailed, &reason, "")
		if err != nil {
			return err
		}
		if claimed {
			s.releaseIfHeld(ctx, intent)
		}
		s.log.Warn().
			Str("intent_id", intent.ID).
			Int("attempts", attempts).
			Msg("reconciliation exhausted, intent failed")
		return nil
	}
}

// Cancel moves a CREATED or SUBMITTED intent to CANCELLED and releases its
// hold. A callback arriving after cancellation is acknowledged and discarded.
func (s *OrchestratorImpl) Cancel(ctx context.Context, intentID string, userID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.intentRepo.GetByID(ctx, intentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get intent: %w", err))
	}
	if intent == nil || intent.UserID != userID {
		return nil, apperror.ErrNotFound("payment")
	}
	if intent.IsTerminal() {
		return nil, apperror.ErrIntentTerminal()
	}

	updated, err := s.intentRepo.UpdateStatus(ctx, intentID, domain.PaymentStatusCancelled, nil)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("cancel intent: %w", err))
	}
	if !updated {
		// Lost the race against a callback.
		return nil, apperror.ErrIntentTerminal()
	}

	intent.Status = domain.PaymentStatusCancelled
	s.releaseIfHeld(ctx, intent)
	s.auditPayment(ctx, intent, domain.AuditActionPaymentCancelled, "")
	s.log.Info().Str("intent_id", intent.ID).Msg("payment cancelled")
	return intent, nil
}

func (s *OrchestratorImpl) GetIntent(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	intent, err := s.intentRepo.GetByID(ctx, intentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get intent: %w", err))
	}
	if intent == nil {
		return nil, apperror.ErrNotFound("payment")
	}
	return intent, nil
}

// settle applies the money movement for a completed payment. Top-ups credit
// the wallet keyed by intent id; wallet-funded flows consume the reservation.
// Both are idempotent, so replays after a partial failure are safe.
func (s *OrchestratorImpl) settle(ctx context.Context, intent *domain.PaymentIntent) error {
	if intent.Flow == domain.FlowTopup {
		if _, err := s.ledger.Credit(ctx, intent.UserID, intent.Amount, intent.ID); err != nil {
			return err
		}
		return nil
	}
	if intent.ReservationID != nil {
		return s.ledger.Consume(ctx, *intent.ReservationID)
	}
	return nil
}

// claimTerminal performs the guarded move to a terminal status. Only the
// winner of the conditional update may move money afterwards; a false return
// means another actor finalized the intent first.
func (s *OrchestratorImpl) claimTerminal(ctx context.Context, intent *domain.PaymentIntent, status domain.PaymentStatus, reason *string, clientIP string) (bool, error) {
	updated, err := s.intentRepo.UpdateStatus(ctx, intent.ID, status, reason)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("intent status update: %w", err))
	}
	if !updated {
		return false, nil
	}
	intent.Status = status
	intent.FailureReason = reason

	action := domain.AuditActionPaymentCompleted
	if status == domain.PaymentStatusFailed {
		action = domain.AuditActionPaymentFailed
	}
	s.auditPayment(ctx, intent, action, clientIP)
	return true, nil
}

func (s *OrchestratorImpl) releaseIfHeld(ctx context.Context, intent *domain.PaymentIntent) {
	if intent.ReservationID == nil {
		return
	}
	if err := s.ledger.Release(ctx, *intent.ReservationID); err != nil {
		s.log.Error().Err(err).
			Str("intent_id", intent.ID).
			Str("reservation_id", intent.ReservationID.String()).
			Msg("failed to release reservation")
	}
}

func (s *OrchestratorImpl) auditPayment(ctx context.Context, intent *domain.PaymentIntent, action domain.AuditAction, clientIP string) {
	details, _ := json.Marshal(map[string]any{
		"amount": intent.Amount,
		"method": intent.Method,
		"flow":   intent.Flow,
		"status": intent.Status,
	})
	userID := intent.UserID
	s.audit.Log(ctx, &domain.AuditLog{
		UserID:       &userID,
		Action:       action,
		ResourceType: "payment_intent",
		ResourceID:   intent.ID,
		Details:      string(details),
		IPAddress:    clientIP,
	})
}

func (s *OrchestratorImpl) auditRejected(ctx context.Context, intentID, clientIP, reason string) {
	details, _ := json.Marshal(map[string]string{"reason": reason})
	s.audit.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionCallbackRejected,
		ResourceType: "payment_intent",
		ResourceID:   intentID,
		Details:      string(details),
		IPAddress:    clientIP,
	})
}

// rejectionReason maps wallet business-rule errors to the terminal failure
// reason recorded on the intent. Infrastructure errors map to "" and leave
// no intent behind.
func rejectionReason(err error) string {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	switch appErr.Code {
	case "WAL_001":
		return domain.ReasonWalletFrozen
	case "WAL_002":
		return domain.ReasonLimitExceeded
	}
	return ""
}

func terminalStatusFor(outcome domain.CallbackOutcome) domain.PaymentStatus {
	if outcome == domain.CallbackOutcomeCompleted {
		return domain.PaymentStatusCompleted
	}
	return domain.PaymentStatusFailed
}

// commission rounds half-up in the provider's favor.
func commission(amount int64, feePercent float64) int64 {
	return int64(float64(amount)*feePercent/100 + 0.5)
}
