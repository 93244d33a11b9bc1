package handler

import (
	"time"

	"loyalty-wallet-service/internal/adapter/http/dto"
	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/pkg/apperror"
	"loyalty-wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles payment intent endpoints.
type PaymentHandler struct {
	orchestrator ports.PaymentOrchestrator
	registry     ports.GatewayRegistry
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(orchestrator ports.PaymentOrchestrator, registry ports.GatewayRegistry) *PaymentHandler {
	return &PaymentHandler{orchestrator: orchestrator, registry: registry}
}

// Initiate handles POST /api/v1/payments.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req dto.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid user_id"))
		return
	}

	intent, err := h.orchestrator.Initiate(c.Request.Context(), ports.InitiateRequest{
		UserID:   userID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Method:   domain.PaymentMethod(req.Method),
		Flow:     domain.FlowType(req.Flow),
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toIntentResponse(intent))
}

// GetIntent handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetIntent(c *gin.Context) {
	intent, err := h.orchestrator.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toIntentResponse(intent))
}

// Cancel handles POST /api/v1/payments/:id/cancel.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	var req dto.CancelPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid user_id"))
		return
	}

	intent, err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toIntentResponse(intent))
}

// ListMethods handles GET /api/v1/payments/methods.
func (h *PaymentHandler) ListMethods(c *gin.Context) {
	configs := h.registry.ListSupported()
	methods := make([]dto.PaymentMethodResponse, 0, len(configs))
	for _, cfg := range configs {
		methods = append(methods, dto.PaymentMethodResponse{
			Method:      string(cfg.Method),
			DisplayName: cfg.DisplayName,
			MinAmount:   cfg.MinAmount,
			MaxAmount:   cfg.MaxAmount,
			FeePercent:  cfg.FeePercent,
		})
	}

	response.OK(c, methods)
}

// toIntentResponse converts domain.PaymentIntent to DTO.
func toIntentResponse(intent *domain.PaymentIntent) dto.PaymentIntentResponse {
	resp := dto.PaymentIntentResponse{
		ID:            intent.ID,
		UserID:        intent.UserID.String(),
		Amount:        intent.Amount,
		Commission:    intent.Commission,
		Currency:      intent.Currency,
		Method:        string(intent.Method),
		Flow:          string(intent.Flow),
		Status:        string(intent.Status),
		RedirectURL:   intent.RedirectURL,
		FailureReason: intent.FailureReason,
		CreatedAt:     intent.CreatedAt.Format(time.RFC3339),
	}
	if intent.ProcessedAt != nil {
		s := intent.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &s
	}
	return resp
}
