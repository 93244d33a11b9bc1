package service

import (
	"context"
	"time"

	"loyalty-wallet-service/internal/core/ports"

	"github.com/rs/zerolog"
)

// reconcileBatchSize caps the intents picked up per sweep so one slow
// provider cannot stall the loop for long.
const reconcileBatchSize = 100

// Reconciler is the fallback path for payments whose callback never arrived.
// It periodically polls the gateway for SUBMITTED intents older than the
// grace period and lets the orchestrator apply the provider's answer.
type Reconciler struct {
	intentRepo  ports.IntentRepository
	orch        ports.PaymentOrchestrator
	interval    time.Duration
	gracePeriod time.Duration
	log         zerolog.Logger
}

// NewReconciler creates a reconciler. interval is the sweep period,
// gracePeriod how long a submitted intent may wait for its callback before
// polling starts.
func NewReconciler(
	intentRepo ports.IntentRepository,
	orch ports.PaymentOrchestrator,
	interval time.Duration,
	gracePeriod time.Duration,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		intentRepo:  intentRepo,
		orch:        orch,
		interval:    interval,
		gracePeriod: gracePeriod,
		log:         log,
	}
}

// Run sweeps until ctx is cancelled. Call it from its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.interval).
		Dur("grace_period", r.gracePeriod).
		Msg("reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.gracePeriod)
	intents, err := r.intentRepo.ListSubmittedBefore(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("reconciler: failed to list stale intents")
		return
	}
	if len(intents) == 0 {
		return
	}

	r.log.Info().Int("count", len(intents)).Msg("reconciler: sweeping stale intents")
	for i := range intents {
		if ctx.Err() != nil {
			return
		}
		if err := r.orch.Reconcile(ctx, &intents[i]); err != nil {
			r.log.Error().Err(err).
				Str("intent_id", intents[i].ID).
				Msg("reconciler: reconcile failed")
		}
	}
}
