package dto

// InitiatePaymentRequest is the request body for payment initiation.
type InitiatePaymentRequest struct {
	UserID   string `json:"user_id" binding:"required,uuid"`
	Amount   int64  `json:"amount" binding:"required,gt=0"`
	Currency string `json:"currency" binding:"omitempty,len=3"`
	Method   string `json:"method" binding:"required,max=50"`
	Flow     string `json:"flow" binding:"required,oneof=TOPUP DEBIT"`
}

// CancelPaymentRequest is the request body for payment cancellation.
type CancelPaymentRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// PaymentIntentResponse is the response body for intent results.
type PaymentIntentResponse struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Amount        int64   `json:"amount"`
	Commission    int64   `json:"commission"`
	Currency      string  `json:"currency"`
	Method        string  `json:"method"`
	Flow          string  `json:"flow"`
	Status        string  `json:"status"`
	RedirectURL   *string `json:"redirect_url,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	ProcessedAt   *string `json:"processed_at,omitempty"`
}

// CallbackAckResponse is the response body for gateway callbacks.
type CallbackAckResponse struct {
	IntentID         string `json:"intent_id"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// PaymentMethodResponse describes one supported payment provider.
type PaymentMethodResponse struct {
	Method      string  `json:"method"`
	DisplayName string  `json:"display_name"`
	MinAmount   int64   `json:"min_amount"`
	MaxAmount   int64   `json:"max_amount"`
	FeePercent  float64 `json:"fee_percent"`
}

// WalletResponse is the response for balance queries. Counters are
// normalized for the current date before rendering.
type WalletResponse struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Balance       int64  `json:"balance"`
	Currency      string `json:"currency"`
	DailyLimit    int64  `json:"daily_limit"`
	MonthlyLimit  int64  `json:"monthly_limit"`
	SingleTxLimit int64  `json:"single_transaction_limit"`
	DailyUsed     int64  `json:"daily_used"`
	MonthlyUsed   int64  `json:"monthly_used"`
	IsFrozen      bool   `json:"is_frozen"`
}
