package retry

import (
	"errors"
	"testing"
	"time"

	"BarBridge/internal/domain/models"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2.0, Jitter: 0}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		wait := b.Next(attempt)
		if wait < prev {
			t.Fatalf("attempt %d: wait %v decreased from %v", attempt, wait, prev)
		}
		if wait > b.Max {
			t.Fatalf("attempt %d: wait %v exceeds max %v", attempt, wait, b.Max)
		}
		prev = wait
	}
	if got := b.Next(8); got != b.Max {
		t.Fatalf("late attempt wait = %v, want capped at %v", got, b.Max)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2.0, Jitter: 0.2}
	base := 200 * time.Millisecond // attempt 2

	for i := 0; i < 50; i++ {
		wait := b.Next(2)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		if wait < lo || wait > hi {
			t.Fatalf("jittered wait %v outside [%v, %v]", wait, lo, hi)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"gateway rejection", &models.GatewayRejection{Code: "unknown_symbol"}, ClassFatal},
		{"exhausted connection", &models.ConnectionError{Reason: "connect attempts exhausted"}, ClassFatal},
		{"pacing rejection", &models.PacingRejection{}, ClassTransient},
		{"plain error", errors.New("read: connection reset"), ClassTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: class = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPolicyStopsAtMaxAttempts(t *testing.T) {
	p := NewPolicy(3, Backoff{Min: time.Millisecond, Jitter: 0}, NewBreaker(0, 0, 0))

	d := p.Decide(1, &models.PacingRejection{})
	if !d.Retry {
		t.Fatalf("attempt 1 should retry")
	}
	d = p.Decide(3, &models.PacingRejection{})
	if d.Retry {
		t.Fatalf("attempt at max should not retry")
	}
}

func TestPolicyFatalNeverRetries(t *testing.T) {
	p := NewPolicy(5, Backoff{Min: time.Millisecond, Jitter: 0}, NewBreaker(1, time.Minute, time.Hour))

	d := p.Decide(1, &models.GatewayRejection{Code: "unknown_symbol"})
	if d.Retry {
		t.Fatalf("fatal error retried")
	}
	if d.Class != ClassFatal {
		t.Fatalf("class = %v, want fatal", d.Class)
	}
	// fatal failures do not trip the breaker
	if p.BreakerOpen() {
		t.Fatalf("breaker opened on a fatal failure")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(5, 50*time.Millisecond, time.Second)

	for i := 0; i < 4; i++ {
		b.OnTransientFailure()
		if b.IsOpen() {
			t.Fatalf("breaker open after %d failures, threshold is 5", i+1)
		}
	}
	b.OnTransientFailure()
	if !b.IsOpen() {
		t.Fatalf("breaker closed after threshold failures")
	}

	err := b.Allow()
	var open *models.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("Allow while open = %v, want CircuitOpenError", err)
	}
	if open.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want positive", open.RetryAfter)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b := NewBreaker(1, 30*time.Millisecond, time.Second)
	b.OnTransientFailure()
	if !b.IsOpen() {
		t.Fatalf("breaker should be open")
	}

	time.Sleep(40 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("half-open trial rejected: %v", err)
	}
	// exactly one trial is admitted
	if err := b.Allow(); err == nil {
		t.Fatalf("second caller admitted during half-open trial")
	}

	b.OnSuccess()
	if b.IsOpen() {
		t.Fatalf("breaker open after successful trial")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after close: %v", err)
	}
}

func TestBreakerFailedTrialReopensLonger(t *testing.T) {
	b := NewBreaker(1, 30*time.Millisecond, time.Second)
	b.OnTransientFailure()
	time.Sleep(40 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("trial rejected: %v", err)
	}
	b.OnTransientFailure()

	if !b.IsOpen() {
		t.Fatalf("breaker closed after failed trial")
	}
	err := b.Allow()
	var open *models.CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("Allow after failed trial = %v, want CircuitOpenError", err)
	}
	if open.RetryAfter <= 30*time.Millisecond {
		t.Fatalf("reopened cool-down %v not longer than the first", open.RetryAfter)
	}
}

func TestDisabledBreakerAlwaysAllows(t *testing.T) {
	b := NewBreaker(0, 0, 0)
	for i := 0; i < 10; i++ {
		b.OnTransientFailure()
	}
	if b.IsOpen() {
		t.Fatalf("disabled breaker reported open")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("disabled breaker rejected: %v", err)
	}
}
