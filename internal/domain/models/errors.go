package models

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionError means the session could not be reached or maintained
// after internal reconnect attempts were exhausted.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway connection: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway connection: %s", e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PacingRejection is the gateway refusing a call for quota reasons. Transient.
type PacingRejection struct {
	Message string
}

func (e *PacingRejection) Error() string {
	return fmt.Sprintf("gateway pacing rejection: %s", e.Message)
}

// GatewayRejection is a fatal refusal (unknown symbol, bad timeframe,
// entitlement). Never retried.
type GatewayRejection struct {
	Code    string
	Message string
}

func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("gateway rejected request (%s): %s", e.Code, e.Message)
}

// CircuitOpenError rejects an attempt without touching the gateway.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter)
}

// TimeoutError is a request-level deadline expiry.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Elapsed)
}

// PartialFetchFailure reports the sub-ranges that exhausted retries.
// Bars outside the failed ranges are still attached to the result.
type PartialFetchFailure struct {
	Failed []FailedRange
}

func (e *PartialFetchFailure) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		parts = append(parts, fmt.Sprintf("[%s, %s)",
			r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339)))
	}
	return fmt.Sprintf("fetch incomplete, failed ranges: %s", strings.Join(parts, ", "))
}
