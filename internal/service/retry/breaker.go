package retry

import (
	"sync"
	"time"

	"BarBridge/internal/domain/models"
)

// Breaker is the process-wide circuit breaker shared by all chunks against
// one gateway endpoint. It opens after threshold consecutive transient
// failures, rejects attempts for a cool-down, then admits a single
// half-open trial. Only this package mutates breaker state.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration

	consecutive   int
	open          bool
	openUntil     time.Time
	curCooldown   time.Duration
	trialInFlight bool
}

// NewBreaker creates a breaker. threshold <= 0 disables it.
func NewBreaker(threshold int, cooldown, maxCooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	if maxCooldown < cooldown {
		maxCooldown = 8 * cooldown
	}
	return &Breaker{
		threshold:   threshold,
		cooldown:    cooldown,
		maxCooldown: maxCooldown,
		curCooldown: cooldown,
	}
}

// Allow reports whether an attempt may proceed. While open it returns a
// CircuitOpenError; once the cool-down elapses exactly one caller is
// admitted as the half-open trial.
func (b *Breaker) Allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	now := time.Now()
	if now.Before(b.openUntil) {
		return &models.CircuitOpenError{RetryAfter: b.openUntil.Sub(now)}
	}
	if b.trialInFlight {
		return &models.CircuitOpenError{RetryAfter: b.curCooldown}
	}
	b.trialInFlight = true
	return nil
}

// OnSuccess closes the circuit and resets the consecutive-failure counter.
func (b *Breaker) OnSuccess() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	b.consecutive = 0
	b.open = false
	b.trialInFlight = false
	b.curCooldown = b.cooldown
	b.mu.Unlock()
}

// OnTransientFailure counts a transient failure; at the threshold the
// circuit opens. A failed half-open trial reopens with a larger cool-down.
func (b *Breaker) OnTransientFailure() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.open {
		if b.trialInFlight {
			b.trialInFlight = false
			b.curCooldown = 2 * b.curCooldown
			if b.curCooldown > b.maxCooldown {
				b.curCooldown = b.maxCooldown
			}
			b.openUntil = time.Now().Add(b.curCooldown)
		}
		return
	}
	if b.consecutive >= b.threshold {
		b.open = true
		b.trialInFlight = false
		b.openUntil = time.Now().Add(b.curCooldown)
	}
}

// IsOpen reports the breaker state for observers.
func (b *Breaker) IsOpen() bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
