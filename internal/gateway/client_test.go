package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"
	"loyalty-wallet-service/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testIntent() *domain.PaymentIntent {
	return &domain.PaymentIntent{
		ID:        "a1b2c3",
		UserID:    uuid.New(),
		Amount:    150_00,
		Currency:  "KGS",
		Method:    domain.MethodElsom,
		Flow:      domain.FlowTopup,
		Status:    domain.PaymentStatusCreated,
		CreatedAt: time.Now(),
	}
}

func TestClient_Initiate_Accepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments/initiate", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(initiateResponse{
			Status:      "accepted",
			Reference:   "gw-ref-42",
			RedirectURL: "https://pay.example.kg/redirect",
		})
	}))
	defer srv.Close()

	codec := mocks.NewMockSignatureCodec(ctrl)
	codec.EXPECT().Sign(gomock.Any(), "secret").Return("deadbeef")

	c := NewClient(srv.Client(), codec, "https://api.example.kg/payments/callback", newTestLogger())
	intent := testIntent()

	ack := c.Initiate(context.Background(), intent, ports.GatewayConfig{
		Endpoint:   srv.URL,
		MerchantID: "m-1",
		APIKey:     "key-1",
		SecretKey:  "secret",
	})

	assert.True(t, ack.Accepted)
	assert.False(t, ack.Transient)
	assert.Equal(t, "gw-ref-42", ack.GatewayReference)
	assert.Equal(t, "https://pay.example.kg/redirect", ack.RedirectURL)

	assert.Equal(t, "Bearer key-1", gotAuth)
	assert.Equal(t, "deadbeef", gotBody["signature"])
	assert.Equal(t, intent.ID, gotBody["payment_id"])
	assert.Equal(t, "15000", gotBody["amount"])
	assert.Equal(t, "https://api.example.kg/payments/callback", gotBody["callback_url"])
}

func TestClient_Initiate_Rejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(initiateResponse{Status: "rejected", Reason: "card blocked"})
	}))
	defer srv.Close()

	codec := mocks.NewMockSignatureCodec(ctrl)
	codec.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")

	c := NewClient(srv.Client(), codec, "http://cb", newTestLogger())
	ack := c.Initiate(context.Background(), testIntent(), ports.GatewayConfig{Endpoint: srv.URL})

	assert.False(t, ack.Accepted)
	assert.False(t, ack.Transient)
	assert.Equal(t, "card blocked", ack.FailureReason)
}

func TestClient_Initiate_TransportFailureIsTransient(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	codec := mocks.NewMockSignatureCodec(ctrl)
	codec.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")

	c := NewClient(http.DefaultClient, codec, "http://cb", newTestLogger())
	ack := c.Initiate(context.Background(), testIntent(), ports.GatewayConfig{Endpoint: srv.URL})

	assert.False(t, ack.Accepted)
	assert.True(t, ack.Transient)
	assert.NotEmpty(t, ack.FailureReason)
}

func TestClient_Initiate_ServerErrorIsTransient(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	codec := mocks.NewMockSignatureCodec(ctrl)
	codec.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")

	c := NewClient(srv.Client(), codec, "http://cb", newTestLogger())
	ack := c.Initiate(context.Background(), testIntent(), ports.GatewayConfig{Endpoint: srv.URL})

	assert.False(t, ack.Accepted)
	assert.True(t, ack.Transient)
}

func TestClient_PollStatus(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     ports.GatewayStatus
	}{
		{"completed", `{"status":"completed"}`, ports.GatewayStatusCompleted},
		{"pending", `{"status":"pending"}`, ports.GatewayStatusPending},
		{"failed", `{"status":"failed"}`, ports.GatewayStatusFailed},
		{"unrecognized status", `{"status":"weird"}`, ports.GatewayStatusUnknown},
		{"malformed body", `{not json`, ports.GatewayStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/payments/status", r.URL.Path)
				io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			codec := mocks.NewMockSignatureCodec(ctrl)
			codec.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")

			c := NewClient(srv.Client(), codec, "http://cb", newTestLogger())
			got := c.PollStatus(context.Background(), "gw-ref", ports.GatewayConfig{Endpoint: srv.URL})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_PollStatus_TransportFailureIsUnknown(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	codec := mocks.NewMockSignatureCodec(ctrl)
	codec.EXPECT().Sign(gomock.Any(), gomock.Any()).Return("sig")

	c := NewClient(http.DefaultClient, codec, "http://cb", newTestLogger())
	got := c.PollStatus(context.Background(), "gw-ref", ports.GatewayConfig{Endpoint: srv.URL})
	assert.Equal(t, ports.GatewayStatusUnknown, got)
}
