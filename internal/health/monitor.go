package health

import (
	"context"
	"sync"
	"time"

	"BarBridge/internal/connection"
	"BarBridge/internal/domain/models"
	applogger "BarBridge/pkg/logger"
)

// Monitor probes the gateway session on a fixed interval, independent of
// request traffic, and maintains the shared health record. It is the only
// writer of that record; request-path code reads snapshots.
type Monitor struct {
	mgr          *connection.Manager
	logger       *applogger.Logger
	interval     time.Duration
	probeTimeout time.Duration

	mu     sync.RWMutex
	status models.HealthStatus

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor.
func NewMonitor(mgr *connection.Manager, logger *applogger.Logger, interval, probeTimeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if probeTimeout <= 0 || probeTimeout > interval {
		probeTimeout = interval / 2
	}
	return &Monitor{
		mgr:          mgr,
		logger:       logger,
		interval:     interval,
		probeTimeout: probeTimeout,
		stopCh:       make(chan struct{}),
		status: models.HealthStatus{
			Healthy: false,
			State:   models.StateDisconnected,
		},
	}
}

// Start launches the probe loop. Non-blocking.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.probe(ctx)
		for {
			select {
			case <-ticker.C:
				m.probe(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Status returns the current health record snapshot.
func (m *Monitor) Status() models.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.mgr.Probe(probeCtx)
	cancel()

	snap := m.mgr.Snapshot()
	status := models.HealthStatus{
		Healthy:     err == nil && snap.State == models.StateConnected,
		State:       snap.State,
		LastProbeAt: time.Now(),
	}
	if err != nil {
		status.LastError = err.Error()
		m.logger.Debug("health probe failed",
			applogger.String("state", string(snap.State)),
			applogger.Error(err),
		)
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}
