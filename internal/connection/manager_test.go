package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/service/retry"
	applogger "BarBridge/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordFetch(string, string)                   {}
func (nopMetrics) RecordChunkAttempt(string)                    {}
func (nopMetrics) RecordRows(int)                               {}
func (nopMetrics) RecordGateWait(float64)                       {}
func (nopMetrics) RecordConnectionState(models.ConnectionState) {}
func (nopMetrics) RecordBreakerState(bool)                      {}
func (nopMetrics) RecordError(string)                           {}
func (nopMetrics) RecordLatency(string, float64)                {}

type scriptedClient struct {
	mu         sync.Mutex
	connectErr error
	pingErr    error
	connects   int
}

func (c *scriptedClient) Connect(ctx context.Context) (*models.GatewaySession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return &models.GatewaySession{SessionID: "sess-test", ConnectedAt: time.Now()}, nil
}

func (c *scriptedClient) Disconnect() error { return nil }

func (c *scriptedClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *scriptedClient) FetchBars(ctx context.Context, symbol string, tf drepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	return nil, nil
}

func (c *scriptedClient) setConnectErr(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *scriptedClient) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *scriptedClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestManager(t *testing.T, client *scriptedClient, attempts, k int) *Manager {
	t.Helper()
	return NewManager(client, testLogger(t), nopMetrics{}, Config{
		Host:                   "127.0.0.1",
		Port:                   7496,
		MaxConnectAttempts:     attempts,
		ConnectBackoff:         retry.Backoff{Min: time.Millisecond, Jitter: 0},
		HeartbeatMissThreshold: k,
	})
}

func TestEnsureConnected(t *testing.T) {
	client := &scriptedClient{}
	m := newTestManager(t, client, 3, 3)

	sess, err := m.EnsureConnected(context.Background())
	if err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}
	if sess.SessionID != "sess-test" {
		t.Fatalf("session id = %q", sess.SessionID)
	}
	if got := m.Snapshot().State; got != models.StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	// a second call reuses the live session
	if _, err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("second EnsureConnected: %v", err)
	}
	if got := client.connectCount(); got != 1 {
		t.Fatalf("connects = %d, want 1", got)
	}
}

func TestHaltsAfterConnectCap(t *testing.T) {
	client := &scriptedClient{connectErr: errors.New("refused")}
	m := newTestManager(t, client, 2, 3)

	_, err := m.EnsureConnected(context.Background())
	var connErr *models.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if got := client.connectCount(); got != 2 {
		t.Fatalf("connects = %d, want the configured cap of 2", got)
	}

	snap := m.Snapshot()
	if !snap.Halted {
		t.Fatalf("manager not halted after the cap")
	}
	if snap.State != models.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", snap.State)
	}

	// halted rejects immediately with no further dials
	if _, err := m.EnsureConnected(context.Background()); err == nil {
		t.Fatalf("halted manager accepted a connect")
	}
	if got := client.connectCount(); got != 2 {
		t.Fatalf("halted manager dialed the gateway (%d connects)", got)
	}
}

func TestRestartClearsHalted(t *testing.T) {
	client := &scriptedClient{connectErr: errors.New("refused")}
	m := newTestManager(t, client, 1, 3)

	if _, err := m.EnsureConnected(context.Background()); err == nil {
		t.Fatalf("expected connect failure")
	}
	if !m.Snapshot().Halted {
		t.Fatalf("manager not halted")
	}

	client.setConnectErr(nil)
	snap, err := m.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if snap.Halted {
		t.Fatalf("still halted after restart")
	}
	if snap.State != models.StateConnected {
		t.Fatalf("state = %v, want connected", snap.State)
	}
}

func TestHeartbeatDegradeAndRecover(t *testing.T) {
	client := &scriptedClient{}
	m := newTestManager(t, client, 3, 2)
	if _, err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	client.setPingErr(errors.New("probe timeout"))
	m.Probe(context.Background())
	if got := m.Snapshot().State; got != models.StateConnected {
		t.Fatalf("state after 1 miss = %v, want connected", got)
	}
	m.Probe(context.Background())
	if got := m.Snapshot().State; got != models.StateDegraded {
		t.Fatalf("state after 2 misses = %v, want degraded", got)
	}

	client.setPingErr(nil)
	m.Probe(context.Background())
	if got := m.Snapshot().State; got != models.StateDegraded {
		t.Fatalf("state after 1 recovery probe = %v, want still degraded", got)
	}
	m.Probe(context.Background())
	if got := m.Snapshot().State; got != models.StateConnected {
		t.Fatalf("state after 2 recovery probes = %v, want connected", got)
	}
}

func TestDegradedFallsToDisconnected(t *testing.T) {
	client := &scriptedClient{}
	m := newTestManager(t, client, 3, 2)
	if _, err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	client.setPingErr(errors.New("probe timeout"))
	for i := 0; i < 4; i++ {
		m.Probe(context.Background())
	}
	snap := m.Snapshot()
	if snap.State != models.StateDisconnected {
		t.Fatalf("state after sustained misses = %v, want disconnected", snap.State)
	}
	if snap.SessionID != "" {
		t.Fatalf("session survived the disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	client := &scriptedClient{}
	m := newTestManager(t, client, 3, 3)
	if _, err := m.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	m.Disconnect()
	m.Disconnect()
	if got := m.Snapshot().State; got != models.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
}

func TestShutdownIsTerminal(t *testing.T) {
	client := &scriptedClient{}
	m := newTestManager(t, client, 3, 3)
	m.Shutdown()

	if _, err := m.EnsureConnected(context.Background()); err == nil {
		t.Fatalf("EnsureConnected accepted after shutdown")
	}
	if got := m.Snapshot().State; got != models.StateShuttingDown {
		t.Fatalf("state = %v, want shutting down", got)
	}
}
