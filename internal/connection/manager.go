package connection

import (
	"context"
	"sync"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/service/retry"
	applogger "BarBridge/pkg/logger"
)

// Config tunes the connection manager.
type Config struct {
	Host                   string
	Port                   int
	MaxConnectAttempts     int
	ConnectBackoff         retry.Backoff
	HeartbeatMissThreshold int // K consecutive misses: Connected -> Degraded
}

// Manager exclusively owns the single gateway session and its state
// machine. All transitions happen under one mutex, so observers never see
// intermediate state. After the reconnect cap is exhausted the manager
// stays halted until an operator restart.
type Manager struct {
	client  drepo.GatewayClient
	logger  *applogger.Logger
	metrics drepo.Metrics
	cfg     Config

	mu          sync.Mutex
	state       models.ConnectionState
	session     *models.GatewaySession
	halted      bool
	lastErr     string
	changedAt   time.Time
	missed      int
	okStreak    int
	connecting  bool
	connectDone chan struct{}
}

// NewManager creates a manager in the Disconnected state.
func NewManager(client drepo.GatewayClient, logger *applogger.Logger, metrics drepo.Metrics, cfg Config) *Manager {
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = 5
	}
	if cfg.HeartbeatMissThreshold <= 0 {
		cfg.HeartbeatMissThreshold = 3
	}
	return &Manager{
		client:    client,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		state:     models.StateDisconnected,
		changedAt: time.Now(),
	}
}

// EnsureConnected returns the live session, connecting first if needed.
// Degraded still serves requests; callers read the warning off the
// snapshot. Blocks until Connected or the connect attempt cap is spent.
func (m *Manager) EnsureConnected(ctx context.Context) (*models.GatewaySession, error) {
	for {
		m.mu.Lock()
		switch {
		case m.state == models.StateConnected || m.state == models.StateDegraded:
			s := m.session
			m.mu.Unlock()
			return s, nil
		case m.state == models.StateShuttingDown:
			m.mu.Unlock()
			return nil, &models.ConnectionError{Reason: "shutting down"}
		case m.halted:
			m.mu.Unlock()
			return nil, &models.ConnectionError{Reason: "connect attempts exhausted, operator restart required"}
		case m.connecting:
			done := m.connectDone
			m.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			m.connecting = true
			m.connectDone = make(chan struct{})
			done := m.connectDone
			m.mu.Unlock()

			err := m.connectLoop(ctx)

			m.mu.Lock()
			m.connecting = false
			close(done)
			m.mu.Unlock()
			if err != nil {
				return nil, err
			}
		}
	}
}

// connectLoop drives Disconnected -> Connecting -> Connected with the
// transient backoff schedule, capped at MaxConnectAttempts.
func (m *Manager) connectLoop(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		m.mu.Lock()
		m.setStateLocked(models.StateConnecting)
		m.mu.Unlock()

		sess, err := m.client.Connect(ctx)
		if err == nil {
			m.mu.Lock()
			m.session = sess
			m.missed = 0
			m.okStreak = 0
			m.setStateLocked(models.StateConnected)
			m.mu.Unlock()
			m.logger.Info("gateway connected", applogger.String("session_id", sess.SessionID))
			return nil
		}

		m.logger.Warn("gateway connect failed",
			applogger.Int("attempt", attempt),
			applogger.Error(err),
		)
		m.metrics.RecordError("connect")

		m.mu.Lock()
		m.lastErr = err.Error()
		if attempt >= m.cfg.MaxConnectAttempts {
			m.halted = true
			m.setStateLocked(models.StateDisconnected)
			m.mu.Unlock()
			return &models.ConnectionError{Reason: "connect attempts exhausted", Err: err}
		}
		m.setStateLocked(models.StateDisconnected)
		m.mu.Unlock()

		wait := m.cfg.ConnectBackoff.Next(attempt)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect tears the session down. Idempotent; always succeeds.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.session = nil
	m.missed = 0
	m.okStreak = 0
	if m.state != models.StateShuttingDown {
		m.setStateLocked(models.StateDisconnected)
	}
	m.mu.Unlock()

	if err := m.client.Disconnect(); err != nil {
		m.logger.Warn("gateway disconnect error", applogger.Error(err))
	}
}

// Shutdown moves to ShuttingDown and closes the session. Terminal.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.setStateLocked(models.StateShuttingDown)
	m.mu.Unlock()
	m.Disconnect()
}

// Restart is the operator action clearing the halted state; it then
// attempts a fresh connect.
func (m *Manager) Restart(ctx context.Context) (models.ConnectionSnapshot, error) {
	m.mu.Lock()
	m.halted = false
	m.lastErr = ""
	m.mu.Unlock()

	_, err := m.EnsureConnected(ctx)
	return m.Snapshot(), err
}

// Probe pings the live session and feeds the heartbeat bookkeeping.
// Called by the health monitor only.
func (m *Manager) Probe(ctx context.Context) error {
	m.mu.Lock()
	probeable := m.state == models.StateConnected || m.state == models.StateDegraded
	m.mu.Unlock()
	if !probeable {
		return &models.ConnectionError{Reason: "no session to probe"}
	}

	err := m.client.Ping(ctx)
	m.reportProbe(err)
	return err
}

// reportProbe applies heartbeat results: K misses degrade, K further
// misses disconnect, K consecutive successes recover Degraded.
func (m *Manager) reportProbe(probeErr error) {
	k := m.cfg.HeartbeatMissThreshold

	m.mu.Lock()
	disconnect := false
	switch m.state {
	case models.StateConnected:
		if probeErr == nil {
			m.missed = 0
			if m.session != nil {
				m.session.LastHeartbeatAt = time.Now()
			}
		} else {
			m.missed++
			m.lastErr = probeErr.Error()
			if m.missed >= k {
				m.okStreak = 0
				m.setStateLocked(models.StateDegraded)
			}
		}
	case models.StateDegraded:
		if probeErr == nil {
			m.okStreak++
			if m.session != nil {
				m.session.LastHeartbeatAt = time.Now()
			}
			if m.okStreak >= k {
				m.missed = 0
				m.setStateLocked(models.StateConnected)
			}
		} else {
			m.missed++
			m.okStreak = 0
			m.lastErr = probeErr.Error()
			if m.missed >= 2*k {
				m.session = nil
				m.setStateLocked(models.StateDisconnected)
				disconnect = true
			}
		}
	}
	m.mu.Unlock()

	if disconnect {
		if err := m.client.Disconnect(); err != nil {
			m.logger.Warn("gateway disconnect error", applogger.Error(err))
		}
	}
}

// Snapshot returns the read-only status record observers consume.
func (m *Manager) Snapshot() models.ConnectionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := models.ConnectionSnapshot{
		State:     m.state,
		Halted:    m.halted,
		LastError: m.lastErr,
		ChangedAt: m.changedAt,
	}
	if m.session != nil {
		snap.SessionID = m.session.SessionID
		snap.ConnectedAt = m.session.ConnectedAt
	}
	return snap
}

// Host and Port expose the configured gateway endpoint for status reports.
func (m *Manager) Host() string { return m.cfg.Host }
func (m *Manager) Port() int    { return m.cfg.Port }

func (m *Manager) setStateLocked(to models.ConnectionState) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	m.changedAt = time.Now()
	m.metrics.RecordConnectionState(to)
	m.logger.Info("connection state changed",
		applogger.String("from", string(from)),
		applogger.String("to", string(to)),
	)
}
