package handler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"loyalty-wallet-service/internal/adapter/http/dto"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/pkg/apperror"
	"loyalty-wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// CallbackHandler handles asynchronous gateway callbacks.
type CallbackHandler struct {
	orchestrator ports.PaymentOrchestrator
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(orchestrator ports.PaymentOrchestrator) *CallbackHandler {
	return &CallbackHandler{orchestrator: orchestrator}
}

// Handle handles POST /payments/callback. The body is a flat JSON object;
// values are flattened to strings exactly as the gateway signed them, so
// numeric literals keep their original formatting (json.Number, not float64).
func (h *CallbackHandler) Handle(c *gin.Context) {
	fields, err := decodeCallbackFields(c)
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	ack, err := h.orchestrator.HandleCallback(c.Request.Context(), fields, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CallbackAckResponse{
		IntentID:         ack.IntentID,
		Status:           string(ack.Status),
		AlreadyProcessed: ack.AlreadyProcessed,
	})
}

// decodeCallbackFields decodes the callback body into a string map.
func decodeCallbackFields(c *gin.Context) (map[string]string, error) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case json.Number:
			fields[k] = t.String()
		case bool:
			fields[k] = strconv.FormatBool(t)
		case nil:
			fields[k] = ""
		default:
			// Nested objects and arrays are not part of any gateway contract.
			return nil, fmt.Errorf("callback field %q is not a scalar", k)
		}
	}
	return fields, nil
}
