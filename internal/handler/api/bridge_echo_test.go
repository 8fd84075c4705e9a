package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"BarBridge/internal/connection"
	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/health"
	"BarBridge/internal/service/gate"
	"BarBridge/internal/service/retry"
	"BarBridge/internal/usecase"
	applogger "BarBridge/pkg/logger"

	"github.com/labstack/echo/v4"
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

type stubGateway struct {
	fetchErr error
}

func (s *stubGateway) Connect(ctx context.Context) (*models.GatewaySession, error) {
	return &models.GatewaySession{SessionID: "sess-test", ConnectedAt: time.Now()}, nil
}

func (s *stubGateway) Disconnect() error { return nil }

func (s *stubGateway) Ping(ctx context.Context) error { return nil }

func (s *stubGateway) FetchBars(ctx context.Context, symbol string, tf drepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var bars []models.Bar
	for cur := start; cur.Before(end); cur = cur.Add(tf.Duration()) {
		bars = append(bars, models.Bar{Timestamp: cur, Close: 1})
	}
	return bars, nil
}

func newTestServer(t *testing.T, gw *stubGateway) *echo.Echo {
	t.Helper()
	logger, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	mgr := connection.NewManager(gw, logger, nopMetrics{}, connection.Config{
		Host:               "127.0.0.1",
		Port:               7496,
		MaxConnectAttempts: 2,
		ConnectBackoff:     retry.Backoff{Min: time.Millisecond, Jitter: 0},
	})
	g := gate.New(4, 0, time.Minute)
	policy := retry.NewPolicy(2, retry.Backoff{Min: time.Millisecond, Jitter: 0}, retry.NewBreaker(0, 0, 0))
	fetcher := usecase.NewFetcher(mgr, g, policy, gw, nil, nil, nil, nopMetrics{}, logger, usecase.FetcherConfig{MaxBarsPerCall: 1000})
	monitor := health.NewMonitor(mgr, logger, time.Minute, time.Second)

	e := echo.New()
	NewBridgeEchoHandler(logger, fetcher, mgr, monitor).RegisterRoutes(e)
	return e
}

func doRequest(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdentity(t *testing.T) {
	e := newTestServer(t, &stubGateway{})
	rec := doRequest(e, http.MethodGet, "/identity")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body models.IdentityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != ServiceName {
		t.Fatalf("service = %q, want %q", body.Service, ServiceName)
	}
}

func TestLivenessBeforeFirstProbe(t *testing.T) {
	e := newTestServer(t, &stubGateway{})
	rec := doRequest(e, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body models.LivenessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Healthy {
		t.Fatalf("healthy before any probe")
	}
}

func TestHistoryReturnsBars(t *testing.T) {
	e := newTestServer(t, &stubGateway{})
	rec := doRequest(e, http.MethodGet,
		"/api/history?symbol=ES&timeframe=1m&start=2024-03-01T09:00:00Z&end=2024-03-01T09:30:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body models.HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success {
		t.Fatalf("success = false: %+v", body.Error)
	}
	if body.Rows != 30 || len(body.Data) != 30 {
		t.Fatalf("rows = %d (data %d), want 30", body.Rows, len(body.Data))
	}
}

func TestHistoryValidation(t *testing.T) {
	e := newTestServer(t, &stubGateway{})

	cases := []struct {
		name   string
		target string
	}{
		{"missing symbol", "/api/history?start=2024-03-01T09:00:00Z&end=2024-03-01T10:00:00Z"},
		{"bad timeframe", "/api/history?symbol=ES&timeframe=42h&start=2024-03-01T09:00:00Z&end=2024-03-01T10:00:00Z"},
		{"unparseable start", "/api/history?symbol=ES&start=yesterday&end=2024-03-01T10:00:00Z"},
		{"start after end", "/api/history?symbol=ES&start=2024-03-01T10:00:00Z&end=2024-03-01T09:00:00Z"},
	}
	for _, tc := range cases {
		rec := doRequest(e, http.MethodGet, tc.target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.name, rec.Code)
		}
		// validation failures use the envelope with status 400 in the body
		var body struct {
			Status int `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if body.Status != http.StatusBadRequest {
			t.Fatalf("%s: body status = %d, want 400", tc.name, body.Status)
		}
	}
}

func TestHistoryGatewayRejection(t *testing.T) {
	gw := &stubGateway{fetchErr: &models.GatewayRejection{Code: "unknown_symbol", Message: "no such instrument"}}
	e := newTestServer(t, gw)
	rec := doRequest(e, http.MethodGet,
		"/api/history?symbol=NOPE&start=2024-03-01T09:00:00Z&end=2024-03-01T10:00:00Z")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body models.HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success {
		t.Fatalf("success = true on rejection")
	}
	if body.Error == nil || body.Error.Code != "ERR_GATEWAY_REJECTED" {
		t.Fatalf("error = %+v, want ERR_GATEWAY_REJECTED", body.Error)
	}
}

func TestStatusReportsEndpoint(t *testing.T) {
	e := newTestServer(t, &stubGateway{})
	rec := doRequest(e, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body models.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Connection.Host != "127.0.0.1" || body.Connection.Port != 7496 {
		t.Fatalf("endpoint = %s:%d", body.Connection.Host, body.Connection.Port)
	}
	if body.Connection.State != string(models.StateDisconnected) {
		t.Fatalf("state = %q, want disconnected", body.Connection.State)
	}
}
