package models

import "time"

// ConnectionState is the lifecycle state of the single gateway session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
	StateShuttingDown ConnectionState = "shutting_down"
)

// GatewaySession identifies a live session. Owned exclusively by the
// connection manager; callers hold it as a capability token only.
type GatewaySession struct {
	SessionID       string
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
}

// ConnectionSnapshot is the read-only status record observers see.
type ConnectionSnapshot struct {
	State       ConnectionState
	SessionID   string
	ConnectedAt time.Time
	Halted      bool
	LastError   string
	ChangedAt   time.Time
}

// HealthStatus is the shared record the health monitor maintains.
type HealthStatus struct {
	Healthy     bool
	State       ConnectionState
	LastError   string
	LastProbeAt time.Time
}
