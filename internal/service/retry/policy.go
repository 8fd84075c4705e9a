package retry

import (
	"errors"
	"net"
	"time"

	"BarBridge/internal/domain/models"
)

// Class partitions failures for retry purposes.
type Class int

const (
	// ClassTransient covers network timeouts, pacing rejections and
	// momentary disconnects. Worth retrying with backoff.
	ClassTransient Class = iota
	// ClassFatal covers gateway rejections (unknown symbol, bad
	// timeframe, entitlement) and exhausted reconnects. Never retried.
	ClassFatal
)

// Classify maps an error to its retry class.
func Classify(err error) Class {
	var rej *models.GatewayRejection
	if errors.As(err, &rej) {
		return ClassFatal
	}
	var conn *models.ConnectionError
	if errors.As(err, &conn) {
		// the connection manager already exhausted its reconnect cap
		return ClassFatal
	}
	var pacing *models.PacingRejection
	if errors.As(err, &pacing) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassTransient
}

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Retry bool
	Wait  time.Duration
	Class Class
}

// Policy is pure decision logic over failures plus the shared breaker.
type Policy struct {
	maxAttempts int
	backoff     Backoff
	breaker     *Breaker
}

// NewPolicy creates a retry policy. maxAttempts bounds attempts per chunk.
func NewPolicy(maxAttempts int, backoff Backoff, breaker *Breaker) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Policy{maxAttempts: maxAttempts, backoff: backoff, breaker: breaker}
}

// Allow consults the breaker before an attempt touches the gateway.
func (p *Policy) Allow() error { return p.breaker.Allow() }

// OnSuccess records a successful gateway call.
func (p *Policy) OnSuccess() { p.breaker.OnSuccess() }

// Decide records the failure with the breaker and returns whether the
// chunk should retry and after how long. attempt is 1-based.
func (p *Policy) Decide(attempt int, err error) Decision {
	class := Classify(err)
	if class == ClassTransient {
		p.breaker.OnTransientFailure()
	}
	if class == ClassFatal || attempt >= p.maxAttempts {
		return Decision{Retry: false, Class: class}
	}
	return Decision{Retry: true, Wait: p.backoff.Next(attempt), Class: class}
}

// MaxAttempts returns the per-chunk attempt bound.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// BreakerOpen reports breaker state for observers.
func (p *Policy) BreakerOpen() bool { return p.breaker.IsOpen() }
