package gateway

import (
	"context"
	"sync"
	"time"

	"loyalty-wallet-service/internal/core/domain"
	"loyalty-wallet-service/internal/core/ports"

	"github.com/rs/zerolog"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker decorates a GatewayClient with a circuit breaker. Open circuit
// short-circuits Initiate with a transient rejection so callers back off
// without waiting on a known-bad provider. PollStatus passes through even
// when the circuit is open (the reconciler already rate-limits itself), but
// its outcomes still feed the failure counter.
type Breaker struct {
	next      ports.GatewayClient
	threshold int
	cooldown  time.Duration
	log       zerolog.Logger

	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
}

// NewBreaker wraps next with failure counting. After threshold consecutive
// transient failures the circuit opens for cooldown, then admits one probe.
func NewBreaker(next ports.GatewayClient, threshold int, cooldown time.Duration, log zerolog.Logger) *Breaker {
	return &Breaker{
		next:      next,
		threshold: threshold,
		cooldown:  cooldown,
		log:       log,
	}
}

func (b *Breaker) Initiate(ctx context.Context, intent *domain.PaymentIntent, cfg ports.GatewayConfig) ports.GatewayAck {
	if !b.allow() {
		return ports.GatewayAck{Transient: true, FailureReason: "circuit open"}
	}

	ack := b.next.Initiate(ctx, intent, cfg)
	b.record(!ack.Accepted && ack.Transient)
	return ack
}

func (b *Breaker) PollStatus(ctx context.Context, gatewayReference string, cfg ports.GatewayConfig) ports.GatewayStatus {
	status := b.next.PollStatus(ctx, gatewayReference, cfg)
	b.record(status == ports.GatewayStatusUnknown)
	return status
}

// allow reports whether a call may proceed, moving open to half-open once
// the cool-down has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	default:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
}

func (b *Breaker) record(transientFailure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !transientFailure {
		if b.state != stateClosed {
			b.log.Info().Msg("gateway breaker: circuit closed")
		}
		b.state = stateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		if b.state != stateOpen {
			b.log.Warn().Int("failures", b.failures).Msg("gateway breaker: circuit opened")
		}
		b.state = stateOpen
	}
}
