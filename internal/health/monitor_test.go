package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BarBridge/internal/connection"
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

type stubClient struct {
	mu      sync.Mutex
	pingErr error
}

func (c *stubClient) Connect(ctx context.Context) (*models.GatewaySession, error) {
	return &models.GatewaySession{SessionID: "sess-test", ConnectedAt: time.Now()}, nil
}

func (c *stubClient) Disconnect() error { return nil }

func (c *stubClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *stubClient) FetchBars(ctx context.Context, symbol string, tf drepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	return nil, nil
}

func (c *stubClient) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func TestMonitorTracksConnectionHealth(t *testing.T) {
	client := &stubClient{}
	logger := testLogger(t)
	mgr := connection.NewManager(client, logger, nopMetrics{}, connection.Config{
		MaxConnectAttempts:     3,
		ConnectBackoff:         retry.Backoff{Min: time.Millisecond, Jitter: 0},
		HeartbeatMissThreshold: 3,
	})
	if _, err := mgr.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected: %v", err)
	}

	m := NewMonitor(mgr, logger, 5*time.Millisecond, 2*time.Millisecond)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return m.Status().Healthy })
	status := m.Status()
	if status.State != models.StateConnected {
		t.Fatalf("state = %v, want connected", status.State)
	}
	if status.LastProbeAt.IsZero() {
		t.Fatalf("probe timestamp not recorded")
	}

	client.setPingErr(errors.New("probe timeout"))
	waitFor(t, func() bool { return !m.Status().Healthy })
	if m.Status().LastError == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestMonitorUnhealthyWhileDisconnected(t *testing.T) {
	client := &stubClient{}
	logger := testLogger(t)
	mgr := connection.NewManager(client, logger, nopMetrics{}, connection.Config{MaxConnectAttempts: 1})

	m := NewMonitor(mgr, logger, 5*time.Millisecond, 2*time.Millisecond)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return !m.Status().LastProbeAt.IsZero() })
	status := m.Status()
	if status.Healthy {
		t.Fatalf("healthy with no session")
	}
	if status.State != models.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", status.State)
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	client := &stubClient{}
	logger := testLogger(t)
	mgr := connection.NewManager(client, logger, nopMetrics{}, connection.Config{MaxConnectAttempts: 1})

	m := NewMonitor(mgr, logger, 5*time.Millisecond, 2*time.Millisecond)
	m.Start(context.Background())
	m.Stop()
	m.Stop()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}
