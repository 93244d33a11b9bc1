package service

import (
	"context"
	"testing"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports/mocks"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"
)

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, testLogger())

	done := make(chan struct{})
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			if log.Action != domain.AuditActionPaymentInitiated {
				t.Errorf("expected PAYMENT_INITIATED, got %s", log.Action)
			}
			if log.ID == uuid.Nil {
				t.Error("expected an assigned audit log id")
			}
			close(done)
			return nil
		},
	)

	userID := uuid.New()
	svc.Log(context.Background(), &domain.AuditLog{
		UserID:       &userID,
		Action:       domain.AuditActionPaymentInitiated,
		ResourceType: "payment_intent",
		ResourceID:   "intent-1",
		IPAddress:    "127.0.0.1",
	})

	select {
	case <-done:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, testLogger())

	userID := uuid.New()
	// Should not panic
	svc.Log(context.Background(), &domain.AuditLog{
		UserID:       &userID,
		Action:       domain.AuditActionCallbackRejected,
		ResourceType: "payment_intent",
		IPAddress:    "127.0.0.1",
	})

	time.Sleep(50 * time.Millisecond)
}
