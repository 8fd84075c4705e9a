package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BarBridge/internal/connection"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/health"
	pkgch "BarBridge/pkg/clickhouse"
	"BarBridge/pkg/config"
	xhttp "BarBridge/pkg/http"
	xlogger "BarBridge/pkg/logger"
)

// App owns the process lifecycle: the health monitor, the boundary HTTP
// server and the backing clients. Shutdown is ordered so in-flight
// requests drain before the gateway session is torn down.
type App struct {
	cfg     *config.Config
	logger  *xlogger.Logger
	handler xhttp.Handler
	mgr     *connection.Manager
	monitor *health.Monitor

	cache    drepo.BarCache
	events   drepo.EventPublisher
	chClient *pkgch.Client

	httpServer *xhttp.Server
}

func New(
	cfg *config.Config,
	logger *xlogger.Logger,
	handler xhttp.Handler,
	mgr *connection.Manager,
	monitor *health.Monitor,
	cache drepo.BarCache,
	events drepo.EventPublisher,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		handler:  handler,
		mgr:      mgr,
		monitor:  monitor,
		cache:    cache,
		events:   events,
		chClient: chClient,
	}
}

// Run starts the app and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.monitor.Start(ctx)

	// Pre-connect in the background so the first history request does not
	// pay the session handshake. Failure here is not fatal; requests
	// trigger their own connect.
	go func() {
		cctx, ccancel := context.WithTimeout(ctx, 60*time.Second)
		defer ccancel()
		if _, err := a.mgr.EnsureConnected(cctx); err != nil {
			a.logger.Warn("initial gateway connect failed", xlogger.Error(err))
		}
	}()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.logger.Info("barbridge started",
		xlogger.Int("port", a.cfg.Server.Port),
		xlogger.String("environment", a.cfg.Environment),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop accepting boundary requests first, then tear down the session.
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http server shutdown failed", xlogger.Error(err))
	}

	a.monitor.Stop()
	a.mgr.Shutdown()

	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error("event publisher close failed", xlogger.Error(err))
		}
	}
	if c, ok := a.cache.(interface{ Close() error }); ok && a.cache != nil {
		if err := c.Close(); err != nil {
			a.logger.Error("cache close failed", xlogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Error("clickhouse close failed", xlogger.Error(err))
		}
	}

	a.logger.RemoveCollector()
	a.logger.Info("barbridge stopped")
	return nil
}
