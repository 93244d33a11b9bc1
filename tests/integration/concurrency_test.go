package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"loyalty-wallet-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentReserves fires 10 concurrent wallet-funded initiations
// against a wallet with a tight daily limit. The reservation critical
// section must admit exactly as many as the limit allows, with no
// overshoot from interleaved reads.
func TestConcurrentReserves(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	userID := uuid.New()
	wallet, err := app.ledger.CreateWallet(context.Background(), userID, "KGS")
	require.NoError(t, err)
	_, err = app.ledger.Credit(context.Background(), userID, 10_000_00, "seed-topup")
	require.NoError(t, err)

	// Daily limit 1000.00 KGS, reservations of 150.00 each: 6 fit, 7 do not.
	app.store.mu.Lock()
	app.store.wallets[wallet.ID].DailyLimit = 1_000_00
	app.store.mu.Unlock()

	concurrency := 10
	amount := int64(150_00)

	var wg sync.WaitGroup
	var successCount, limitCount atomic.Int64

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			body, _ := json.Marshal(map[string]interface{}{
				"user_id": userID.String(),
				"amount":  amount,
				"method":  "elsom",
				"flow":    "DEBIT",
			})
			resp, err := http.Post(app.server.URL+"/api/v1/payments", "application/json", bytes.NewReader(body))
			if err != nil {
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				successCount.Add(1)
			case http.StatusUnprocessableEntity:
				limitCount.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(6), successCount.Load(), "exactly six reservations fit under the daily limit")
	assert.Equal(t, int64(4), limitCount.Load(), "the rest must be rejected with a limit error")

	// Counters reflect only the admitted reservations
	app.store.mu.Lock()
	used := app.store.wallets[wallet.ID].DailyUsed
	app.store.mu.Unlock()
	assert.Equal(t, int64(6*150_00), used)
}

// TestConcurrentDuplicateCallbacks delivers the same completed callback ten
// times in parallel. The wallet must be credited exactly once and all
// deliveries must be acknowledged.
func TestConcurrentDuplicateCallbacks(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	userID := uuid.New()
	_, err := app.ledger.CreateWallet(context.Background(), userID, "KGS")
	require.NoError(t, err)

	data, code := app.initiate(t, userID, 500_00, "TOPUP")
	require.Equal(t, http.StatusCreated, code)
	intentID := data["id"].(string)

	app.mu.Lock()
	reference := app.references[0]
	app.mu.Unlock()
	callback := app.signedCallback(intentID, reference, "completed")

	concurrency := 10
	var wg sync.WaitGroup
	var ackCount atomic.Int64

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(app.server.URL+"/payments/callback", "application/json", bytes.NewReader(callback))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ackCount.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(concurrency), ackCount.Load(), "every delivery must be acknowledged")
	assert.Equal(t, int64(500_00), app.balance(t, userID), "the wallet is credited exactly once")

	// Intent settled once
	app.store.mu.Lock()
	intent := app.store.intents[intentID]
	app.store.mu.Unlock()
	assert.Equal(t, domain.PaymentStatusCompleted, intent.Status)
}

// TestConcurrentCancelAndCallback races a user cancellation against the
// provider's completed callback for the same payment, repeatedly. Whichever
// claims the intent first wins outright: a CANCELLED intent never loses
// money and a COMPLETED one is debited exactly once.
func TestConcurrentCancelAndCallback(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	userID := uuid.New()
	_, err := app.ledger.CreateWallet(context.Background(), userID, "KGS")
	require.NoError(t, err)
	_, err = app.ledger.Credit(context.Background(), userID, 10_000_00, "seed-topup")
	require.NoError(t, err)

	const rounds = 10
	amount := int64(100_00)
	var completed int64

	for i := 0; i < rounds; i++ {
		data, code := app.initiate(t, userID, amount, "DEBIT")
		require.Equal(t, http.StatusCreated, code)
		intentID := data["id"].(string)

		app.mu.Lock()
		reference := app.references[len(app.references)-1]
		app.mu.Unlock()
		callback := app.signedCallback(intentID, reference, "completed")
		cancelBody, _ := json.Marshal(map[string]string{"user_id": userID.String()})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp, err := http.Post(app.server.URL+"/payments/callback", "application/json", bytes.NewReader(callback))
			if err == nil {
				resp.Body.Close()
			}
		}()
		go func() {
			defer wg.Done()
			resp, err := http.Post(app.server.URL+"/api/v1/payments/"+intentID+"/cancel", "application/json", bytes.NewReader(cancelBody))
			if err == nil {
				resp.Body.Close()
			}
		}()
		wg.Wait()

		app.store.mu.Lock()
		intent := app.store.intents[intentID]
		status := intent.Status
		require.NotNil(t, intent.ReservationID)
		resStatus := app.store.reservations[*intent.ReservationID].Status
		app.store.mu.Unlock()

		switch status {
		case domain.PaymentStatusCompleted:
			completed++
			assert.Equal(t, domain.ReservationConsumed, resStatus)
		case domain.PaymentStatusCancelled:
			assert.Equal(t, domain.ReservationReleased, resStatus)
		default:
			t.Fatalf("intent %s ended in non-terminal status %s", intentID, status)
		}
	}

	assert.Equal(t, 10_000_00-completed*amount, app.balance(t, userID),
		"balance reflects exactly the completed debits")
}
