package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client implements the GatewayClient capability over the gateway's
// WebSocket endpoint. One session at a time; calls are correlated by
// request id so several fetches can be in flight concurrently.
type Client struct {
	url         string
	apiKey      string
	callTimeout time.Duration

	writeMu   sync.Mutex
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	pendMu  sync.Mutex
	pending map[string]chan *wsReply
}

// New creates a gateway client.
func New(url, apiKey string, callTimeout time.Duration) drepo.GatewayClient {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Client{
		url:         url,
		apiKey:      apiKey,
		callTimeout: callTimeout,
		pending:     make(map[string]chan *wsReply),
	}
}

type wsRequest struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Token     string `json:"token,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Start     int64  `json:"start,omitempty"`
	End       int64  `json:"end,omitempty"`
}

type wsBar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsReply struct {
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Bars      []wsBar  `json:"bars"`
	Error     *wsError `json:"error"`
}

// Connect dials the gateway, authenticates and starts the reply reader.
func (c *Client) Connect(ctx context.Context) (*models.GatewaySession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil, fmt.Errorf("gateway already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial: %w", err)
	}

	if err := conn.WriteJSON(wsRequest{Type: "auth", Token: c.apiKey}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway auth write: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(c.callTimeout))
	}
	var welcome wsReply
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway welcome read: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if welcome.Error != nil {
		_ = conn.Close()
		return nil, mapGatewayError(welcome.Error)
	}
	if welcome.Type != "welcome" || welcome.SessionID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway welcome: unexpected frame %q", welcome.Type)
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)

	now := time.Now()
	return &models.GatewaySession{
		SessionID:       welcome.SessionID,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
	}, nil
}

// Disconnect closes the session. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.failPending("disconnected", "session closed")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Ping sends a correlated ping and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, wsRequest{Type: "ping", ID: uuid.NewString()})
	return err
}

// FetchBars issues one synchronous history call for a chunk-sized range.
func (c *Client) FetchBars(ctx context.Context, symbol string, tf drepo.Timeframe, start, end time.Time) ([]models.Bar, error) {
	reply, err := c.call(ctx, wsRequest{
		Type:      "history",
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Timeframe: string(tf),
		Start:     start.Unix(),
		End:       end.Unix(),
	})
	if err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(reply.Bars))
	for _, b := range reply.Bars {
		bars = append(bars, models.Bar{
			Timestamp: time.Unix(b.T, 0).UTC(),
			Open:      b.O,
			High:      b.H,
			Low:       b.L,
			Close:     b.C,
			Volume:    b.V,
		})
	}
	return bars, nil
}

func (c *Client) call(ctx context.Context, req wsRequest) (*wsReply, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return nil, fmt.Errorf("gateway not connected")
	}

	ch := make(chan *wsReply, 1)
	c.pendMu.Lock()
	c.pending[req.ID] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, req.ID)
		c.pendMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("gateway write %s: %w", req.Type, err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Error != nil {
			return nil, mapGatewayError(reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("gateway %s: reply timeout", req.Type)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.connected = false
			}
			c.mu.Unlock()
			c.failPending("read_failed", err.Error())
			return
		}
		var reply wsReply
		if err := json.Unmarshal(b, &reply); err != nil {
			// ignore frames we do not understand
			continue
		}
		if reply.ID == "" {
			continue
		}
		c.pendMu.Lock()
		ch, ok := c.pending[reply.ID]
		if ok {
			delete(c.pending, reply.ID)
		}
		c.pendMu.Unlock()
		if ok {
			ch <- &reply
		}
	}
}

func (c *Client) failPending(code, msg string) {
	c.pendMu.Lock()
	for id, ch := range c.pending {
		ch <- &wsReply{ID: id, Error: &wsError{Code: code, Message: msg}}
		delete(c.pending, id)
	}
	c.pendMu.Unlock()
}

// mapGatewayError translates gateway error codes into the typed errors the
// retry policy classifies. Raw codes never leak past this point.
func mapGatewayError(e *wsError) error {
	switch e.Code {
	case "pacing", "rate_limited", "too_many_requests":
		return &models.PacingRejection{Message: e.Message}
	case "unknown_symbol", "bad_timeframe", "unauthorized", "not_entitled":
		return &models.GatewayRejection{Code: e.Code, Message: e.Message}
	case "disconnected", "read_failed":
		return fmt.Errorf("gateway session lost: %s", e.Message)
	default:
		return fmt.Errorf("gateway error (%s): %s", e.Code, e.Message)
	}
}
