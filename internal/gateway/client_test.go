package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// fakeGatewayServer speaks the gateway wire protocol: auth/welcome
// handshake, then correlated replies per request.
func fakeGatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth wsRequest
		if err := conn.ReadJSON(&auth); err != nil || auth.Type != "auth" {
			return
		}
		if auth.Token != "good-key" {
			_ = conn.WriteJSON(wsReply{Error: &wsError{Code: "unauthorized", Message: "bad token"}})
			return
		}
		if err := conn.WriteJSON(wsReply{Type: "welcome", SessionID: "sess-123"}); err != nil {
			return
		}

		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Type {
			case "ping":
				_ = conn.WriteJSON(wsReply{Type: "pong", ID: req.ID})
			case "history":
				if req.Symbol == "NOPE" {
					_ = conn.WriteJSON(wsReply{Type: "history", ID: req.ID,
						Error: &wsError{Code: "unknown_symbol", Message: "no such instrument"}})
					continue
				}
				if req.Symbol == "BUSY" {
					_ = conn.WriteJSON(wsReply{Type: "history", ID: req.ID,
						Error: &wsError{Code: "pacing", Message: "max rate exceeded"}})
					continue
				}
				var bars []wsBar
				for ts := req.Start; ts < req.End; ts += 60 {
					bars = append(bars, wsBar{T: ts, O: 1, H: 2, L: 0.5, C: 1.5, V: 100})
				}
				_ = conn.WriteJSON(wsReply{Type: "history", ID: req.ID, Bars: bars})
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectAndFetchBars(t *testing.T) {
	srv := fakeGatewayServer(t)
	defer srv.Close()

	c := New(wsURL(srv), "good-key", 5*time.Second)
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	if sess.SessionID != "sess-123" {
		t.Fatalf("session id = %q", sess.SessionID)
	}

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "ES", drepo.TF1m, start, start.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 10 {
		t.Fatalf("bars = %d, want 10", len(bars))
	}
	if !bars[0].Timestamp.Equal(start) {
		t.Fatalf("first bar at %v, want %v", bars[0].Timestamp, start)
	}
}

func TestConnectRejectsBadToken(t *testing.T) {
	srv := fakeGatewayServer(t)
	defer srv.Close()

	c := New(wsURL(srv), "bad-key", time.Second)
	_, err := c.Connect(context.Background())
	var rej *models.GatewayRejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want GatewayRejection", err)
	}
}

func TestPing(t *testing.T) {
	srv := fakeGatewayServer(t)
	defer srv.Close()

	c := New(wsURL(srv), "good-key", 5*time.Second)
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestFetchBarsMapsGatewayErrors(t *testing.T) {
	srv := fakeGatewayServer(t)
	defer srv.Close()

	c := New(wsURL(srv), "good-key", 5*time.Second)
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := c.FetchBars(context.Background(), "NOPE", drepo.TF1m, start, start.Add(time.Minute))
	var rej *models.GatewayRejection
	if !errors.As(err, &rej) {
		t.Fatalf("unknown symbol err = %v, want GatewayRejection", err)
	}

	_, err = c.FetchBars(context.Background(), "BUSY", drepo.TF1m, start, start.Add(time.Minute))
	var pacing *models.PacingRejection
	if !errors.As(err, &pacing) {
		t.Fatalf("pacing err = %v, want PacingRejection", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	srv := fakeGatewayServer(t)
	defer srv.Close()

	c := New(wsURL(srv), "good-key", time.Second)
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestCallsAfterDisconnectFail(t *testing.T) {
	srv := fakeGatewayServer(t)
	defer srv.Close()

	c := New(wsURL(srv), "good-key", time.Second)
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()

	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("ping succeeded on a closed session")
	}
}

func TestMapGatewayError(t *testing.T) {
	cases := []struct {
		code     string
		wantType string
	}{
		{"pacing", "pacing"},
		{"rate_limited", "pacing"},
		{"unknown_symbol", "rejection"},
		{"bad_timeframe", "rejection"},
		{"not_entitled", "rejection"},
		{"weird_code", "other"},
	}
	for _, tc := range cases {
		err := mapGatewayError(&wsError{Code: tc.code, Message: "m"})
		var pacing *models.PacingRejection
		var rej *models.GatewayRejection
		switch tc.wantType {
		case "pacing":
			if !errors.As(err, &pacing) {
				t.Fatalf("%s: got %T", tc.code, err)
			}
		case "rejection":
			if !errors.As(err, &rej) {
				t.Fatalf("%s: got %T", tc.code, err)
			}
		case "other":
			if errors.As(err, &pacing) || errors.As(err, &rej) {
				t.Fatalf("%s: mapped to a typed error", tc.code)
			}
		}
	}
}
