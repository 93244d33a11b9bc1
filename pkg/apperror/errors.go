package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Security (SEC) ----

func ErrSignatureMismatch() *AppError {
	return New("SEC_001", "Callback signature verification failed", http.StatusUnauthorized)
}

// ---- Payment validation & lifecycle (PAY) ----

func ErrInvalidAmount() *AppError {
	return New("PAY_001", "Invalid amount", http.StatusBadRequest)
}

func ErrAmountOutOfBounds(min, max int64) *AppError {
	return New("PAY_001", fmt.Sprintf("Amount must be between %d and %d", min, max), http.StatusBadRequest)
}

func ErrUnsupportedMethod(method string) *AppError {
	return New("PAY_002", fmt.Sprintf("Payment method %q is not supported", method), http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrIntentTerminal() *AppError {
	return New("PAY_005", "Payment is already in a terminal state", http.StatusConflict)
}

// ---- Wallet business rules (WAL) ----

func ErrWalletFrozen() *AppError {
	return New("WAL_001", "Wallet is frozen", http.StatusForbidden)
}

func ErrLimitExceeded(limit string) *AppError {
	return New("WAL_002", fmt.Sprintf("%s limit exceeded", limit), http.StatusUnprocessableEntity)
}

func ErrInsufficientFunds() *AppError {
	return New("WAL_003", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

// ---- Gateway (GTW) ----

func ErrGatewayUnavailable(reason string) *AppError {
	return New("GTW_001", fmt.Sprintf("Payment gateway unavailable: %s", reason), http.StatusBadGateway)
}

func ErrGatewayRejected(reason string) *AppError {
	return New("GTW_002", fmt.Sprintf("Payment rejected by gateway: %s", reason), http.StatusUnprocessableEntity)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_001-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("PAY_001", message, http.StatusBadRequest)
}
