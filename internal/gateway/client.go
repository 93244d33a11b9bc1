package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// initiateResponse is the provider's answer to an initiation request.
type initiateResponse struct {
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
	QRCode      string `json:"qr_code"`
	Reason      string `json:"reason"`
}

// statusResponse is the provider's answer to a status query.
type statusResponse struct {
	Status string `json:"status"`
}

// client implements ports.GatewayClient with signed JSON requests.
// Every outbound body carries an HMAC signature over its fields so the
// provider can authenticate the merchant without a shared session.
type client struct {
	httpClient  HTTPClient
	codec       ports.SignatureCodec
	callbackURL string
	log         zerolog.Logger
}

// NewClient creates a gateway client. callbackURL is the absolute URL the
// provider should deliver asynchronous callbacks to.
func NewClient(httpClient HTTPClient, codec ports.SignatureCodec, callbackURL string, log zerolog.Logger) ports.GatewayClient {
	return &client{
		httpClient:  httpClient,
		codec:       codec,
		callbackURL: callbackURL,
		log:         log,
	}
}

// Initiate submits the payment to the provider. A single attempt: transport
// failures come back as a non-accepted transient ack, never an error.
func (c *client) Initiate(ctx context.Context, intent *domain.PaymentIntent, cfg ports.GatewayConfig) ports.GatewayAck {
	fields := map[string]string{
		"merchant_id":  cfg.MerchantID,
		"payment_id":   intent.ID,
		"amount":       strconv.FormatInt(intent.Amount, 10),
		"currency":     intent.Currency,
		"user_id":      intent.UserID.String(),
		"timestamp":    strconv.FormatInt(time.Now().Unix(), 10),
		"callback_url": c.callbackURL,
	}
	fields["signature"] = c.codec.Sign(fields, cfg.SecretKey)

	var out initiateResponse
	if err := c.post(ctx, cfg, cfg.Endpoint+"/payments/initiate", fields, &out); err != nil {
		c.log.Warn().Err(err).
			Str("payment_id", intent.ID).
			Str("method", string(intent.Method)).
			Msg("gateway: initiate request failed")
		return ports.GatewayAck{Transient: true, FailureReason: err.Error()}
	}

	if out.Status != "accepted" {
		return ports.GatewayAck{FailureReason: out.Reason}
	}
	return ports.GatewayAck{
		Accepted:         true,
		GatewayReference: out.Reference,
		RedirectURL:      out.RedirectURL,
		QRCode:           out.QRCode,
	}
}

// PollStatus asks the provider for the current state of a submitted payment.
// Any transport or parse problem maps to GatewayStatusUnknown.
func (c *client) PollStatus(ctx context.Context, gatewayReference string, cfg ports.GatewayConfig) ports.GatewayStatus {
	fields := map[string]string{
		"merchant_id": cfg.MerchantID,
		"reference":   gatewayReference,
		"timestamp":   strconv.FormatInt(time.Now().Unix(), 10),
	}
	fields["signature"] = c.codec.Sign(fields, cfg.SecretKey)

	var out statusResponse
	if err := c.post(ctx, cfg, cfg.Endpoint+"/payments/status", fields, &out); err != nil {
		c.log.Warn().Err(err).
			Str("reference", gatewayReference).
			Msg("gateway: status poll failed")
		return ports.GatewayStatusUnknown
	}

	switch ports.GatewayStatus(out.Status) {
	case ports.GatewayStatusPending, ports.GatewayStatusProcessing,
		ports.GatewayStatusCompleted, ports.GatewayStatusFailed:
		return ports.GatewayStatus(out.Status)
	default:
		return ports.GatewayStatusUnknown
	}
}

func (c *client) post(ctx context.Context, cfg ports.GatewayConfig, url string, fields map[string]string, out any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusCodeError{code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type statusCodeError struct {
	code int
}

func (e *statusCodeError) Error() string {
	return "gateway returned HTTP " + strconv.Itoa(e.code)
}
