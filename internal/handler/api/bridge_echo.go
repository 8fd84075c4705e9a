package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"BarBridge/internal/connection"
	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/health"
	"BarBridge/internal/usecase"
	xhttp "BarBridge/pkg/http"
	xlogger "BarBridge/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ServiceName is the identity reported to remote consumers.
const ServiceName = "barbridge"

// BridgeEchoHandler is the boundary API consumed by the containerized
// clients that cannot reach the gateway directly. Pure marshaling; all
// behavior lives behind the fetcher, manager and monitor.
type BridgeEchoHandler struct {
	logger  *xlogger.Logger
	fetcher *usecase.Fetcher
	mgr     *connection.Manager
	monitor *health.Monitor
}

func NewBridgeEchoHandler(logger *xlogger.Logger, fetcher *usecase.Fetcher, mgr *connection.Manager, monitor *health.Monitor) *BridgeEchoHandler {
	return &BridgeEchoHandler{logger: logger, fetcher: fetcher, mgr: mgr, monitor: monitor}
}

func (h *BridgeEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Liveness)
	e.GET("/identity", h.Identity)

	g := e.Group("/api")
	g.GET("/history", h.History)
	g.POST("/history", h.History)
	g.GET("/status", h.Status)
	g.GET("/errors", h.Errors)
	g.POST("/connection/restart", h.Restart)
}

// Liveness reports the shared health record maintained by the monitor.
func (h *BridgeEchoHandler) Liveness(c echo.Context) error {
	status := h.monitor.Status()
	return c.JSON(http.StatusOK, models.LivenessResponse{
		Healthy: status.Healthy,
		State:   string(status.State),
	})
}

func (h *BridgeEchoHandler) Identity(c echo.Context) error {
	return c.JSON(http.StatusOK, models.IdentityResponse{Service: ServiceName})
}

// History serves a historical fetch. The response always carries success
// and, on failure, a stable code/message pair.
func (h *BridgeEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	start, ok := xhttp.ParseTime(req.Start)
	if !ok {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code: "ERR_VALIDATION", Field: "start", Message: "start must be RFC3339 or unix seconds",
		}})
	}
	end, ok := xhttp.ParseTime(req.End)
	if !ok {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code: "ERR_VALIDATION", Field: "end", Message: "end must be RFC3339 or unix seconds",
		}})
	}
	if !start.Before(end) {
		return xhttp.BadRequestResponse(c, []xhttp.ValidationError{{
			Code: "ERR_VALIDATION", Field: "start", Message: "start must be before end",
		}})
	}

	res := h.fetcher.Fetch(c.Request().Context(), models.HistoricalRequest{
		Symbol:       req.Symbol,
		Timeframe:    string(drepo.NormalizeTimeframe(req.Timeframe)),
		Start:        start.UTC(),
		End:          end.UTC(),
		AllOrNothing: req.AllOrNothing,
	})

	resp := models.HistoryResponse{
		Success:  res.Success,
		Rows:     len(res.Bars),
		Data:     res.Bars,
		Warnings: res.Warnings,
	}
	status := http.StatusOK
	if res.Err != nil {
		code, st := errorCodeStatus(res.Err)
		resp.Error = &models.ResponseError{Code: code, Message: res.Err.Error()}
		status = st
		h.logger.Warn("history fetch failed",
			xlogger.String("request_id", res.RequestID),
			xlogger.String("symbol", req.Symbol),
			xlogger.String("code", code),
		)
	}
	return c.JSON(status, resp)
}

// Status reports the connection snapshot and the gateway endpoint.
func (h *BridgeEchoHandler) Status(c echo.Context) error {
	snap := h.mgr.Snapshot()
	return c.JSON(http.StatusOK, models.StatusResponse{
		Connection: models.ConnectionInfo{
			State:     string(snap.State),
			Host:      h.mgr.Host(),
			Port:      h.mgr.Port(),
			SessionID: snap.SessionID,
			Halted:    snap.Halted,
		},
	})
}

// Errors exposes the recent aggregated error-log entries for operators.
func (h *BridgeEchoHandler) Errors(c echo.Context) error {
	entries := []xlogger.AggregatedLogEntry{}
	if col := h.logger.Collector(); col != nil {
		entries = col.Recent()
	}
	return xhttp.SuccessResponse(c, entries)
}

// Restart is the operator action that clears the halted state after the
// reconnect cap was exhausted.
func (h *BridgeEchoHandler) Restart(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	snap, err := h.mgr.Restart(ctx)
	resp := models.StatusResponse{
		Connection: models.ConnectionInfo{
			State:  string(snap.State),
			Host:   h.mgr.Host(),
			Port:   h.mgr.Port(),
			Halted: snap.Halted,
		},
	}
	if err != nil {
		h.logger.Error("connection restart failed", xlogger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// errorCodeStatus maps domain failures to stable boundary codes. Raw
// gateway errors never pass through unmapped.
func errorCodeStatus(err error) (string, int) {
	var rej *models.GatewayRejection
	if errors.As(err, &rej) {
		return "ERR_GATEWAY_REJECTED", http.StatusUnprocessableEntity
	}
	var open *models.CircuitOpenError
	if errors.As(err, &open) {
		return "ERR_CIRCUIT_OPEN", http.StatusServiceUnavailable
	}
	var conn *models.ConnectionError
	if errors.As(err, &conn) {
		return "ERR_CONNECTION", http.StatusServiceUnavailable
	}
	var to *models.TimeoutError
	if errors.As(err, &to) {
		return "ERR_TIMEOUT", http.StatusGatewayTimeout
	}
	var partial *models.PartialFetchFailure
	if errors.As(err, &partial) {
		// partial data still ships; the body carries success=false
		return "ERR_PARTIAL_FETCH", http.StatusOK
	}
	return "ERR_INTERNAL", http.StatusInternalServerError
}
