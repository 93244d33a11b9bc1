package handler

import (
	"loyalty-wallet-service/internal/adapter/http/dto"
	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/pkg/apperror"
	"loyalty-wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	ledger ports.WalletLedger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.WalletLedger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// GetBalance handles GET /api/v1/wallets/:user_id.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid user_id"))
		return
	}

	wallet, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toWalletResponse(wallet))
}

// toWalletResponse converts domain.Wallet to DTO.
func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		ID:            w.ID.String(),
		UserID:        w.UserID.String(),
		Balance:       w.Balance,
		Currency:      w.Currency,
		DailyLimit:    w.DailyLimit,
		MonthlyLimit:  w.MonthlyLimit,
		SingleTxLimit: w.SingleTxLimit,
		DailyUsed:     w.DailyUsed,
		MonthlyUsed:   w.MonthlyUsed,
		IsFrozen:      w.IsFrozen,
	}
}
