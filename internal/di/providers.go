package di

import (
	"context"
	"fmt"
	"time"

	"BarBridge/internal/connection"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/gateway"
	"BarBridge/internal/handler/api"
	"BarBridge/internal/health"
	internalrepo "BarBridge/internal/repository"
	"BarBridge/internal/service/gate"
	"BarBridge/internal/service/retry"
	"BarBridge/internal/usecase"
	pkgch "BarBridge/pkg/clickhouse"
	"BarBridge/pkg/config"
	xhttp "BarBridge/pkg/http"
	pkgkafka "BarBridge/pkg/kafka"
	xlogger "BarBridge/pkg/logger"
	"BarBridge/pkg/metrics"
	"BarBridge/pkg/server"
)

// ProvideLogger creates the process logger with the error collector the
// operator diagnostics endpoint reads from.
func ProvideLogger(cfg *config.Config) (*xlogger.Logger, error) {
	lc := &xlogger.Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
	if cfg.Environment == "development" {
		lc.Level = "debug"
		lc.Format = "console"
	}

	logger, err := xlogger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	logger.AddCollector(&xlogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		RecentLimit:    256,
	})
	return logger, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideGatewayClient creates the websocket gateway client.
func ProvideGatewayClient(cfg *config.Config) drepo.GatewayClient {
	return gateway.New(cfg.Gateway.WebSocketURL, cfg.Gateway.APIKey, cfg.Gateway.CallTimeout)
}

func backoffFromConfig(cfg *config.Config) retry.Backoff {
	b := retry.DefaultBackoff()
	if cfg.Retry.BackoffMin > 0 {
		b.Min = cfg.Retry.BackoffMin
	}
	if cfg.Retry.BackoffMax > 0 {
		b.Max = cfg.Retry.BackoffMax
	}
	if cfg.Retry.BackoffFactor > 1 {
		b.Factor = cfg.Retry.BackoffFactor
	}
	if cfg.Retry.BackoffJitter > 0 {
		b.Jitter = cfg.Retry.BackoffJitter
	}
	return b
}

// ProvideConnectionManager creates the session owner.
func ProvideConnectionManager(client drepo.GatewayClient, logger *xlogger.Logger, m drepo.Metrics, cfg *config.Config) *connection.Manager {
	return connection.NewManager(client, logger, m, connection.Config{
		Host:                   cfg.Gateway.Host,
		Port:                   cfg.Gateway.Port,
		MaxConnectAttempts:     cfg.Gateway.ConnectAttempts,
		ConnectBackoff:         backoffFromConfig(cfg),
		HeartbeatMissThreshold: cfg.Gateway.HeartbeatMisses,
	})
}

// ProvideGate creates the pacing gate.
func ProvideGate(cfg *config.Config) *gate.Gate {
	return gate.New(cfg.Gateway.MaxConcurrentCalls, cfg.Gateway.WindowLimit, cfg.Gateway.Window)
}

// ProvideRetryPolicy creates the retry policy with its circuit breaker.
func ProvideRetryPolicy(cfg *config.Config) *retry.Policy {
	breaker := retry.NewBreaker(cfg.Retry.BreakerThreshold, cfg.Retry.BreakerCooldown, cfg.Retry.BreakerMaxCool)
	return retry.NewPolicy(cfg.Retry.MaxAttempts, backoffFromConfig(cfg), breaker)
}

// ProvideHealthMonitor creates the probe loop.
func ProvideHealthMonitor(mgr *connection.Manager, logger *xlogger.Logger, cfg *config.Config) *health.Monitor {
	return health.NewMonitor(mgr, logger, cfg.Health.ProbeInterval, cfg.Health.ProbeTimeout)
}

// ProvideBarCache creates the redis cache, or nil when disabled.
func ProvideBarCache(cfg *config.Config) drepo.BarCache {
	if !cfg.Cache.Enabled {
		return nil
	}
	return internalrepo.NewRedisBarCache(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// archive is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.Archive.Host),
		pkgch.WithPort(cfg.Archive.Port),
		pkgch.WithDatabase(cfg.Archive.Database),
		pkgch.WithCredentials(cfg.Archive.User, cfg.Archive.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.Archive.UseHTTP),
		pkgch.WithAsyncInsert(cfg.Archive.AsyncInsert, cfg.Archive.WaitForAsync),
		pkgch.WithTimeouts(cfg.Archive.DialTimeout, cfg.Archive.ReadTimeout, cfg.Archive.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.Archive.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBarArchive creates the ClickHouse archive, or nil when disabled.
func ProvideBarArchive(chClient *pkgch.Client, cfg *config.Config) (drepo.BarArchive, error) {
	if chClient == nil {
		return nil, nil
	}

	table := cfg.Archive.Table
	if table == "" {
		table = cfg.Archive.Database + ".bars"
	}
	archive := internalrepo.NewClickHouseBarArchive(chClient.DB(), table)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		return nil, fmt.Errorf("archive schema: %w", err)
	}
	return archive, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when events are
// disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Events.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Events.Brokers),
		pkgkafka.WithCompression(cfg.Events.Compression),
		pkgkafka.WithRequiredAcks(cfg.Events.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Events.Linger),
		pkgkafka.WithTimeouts(cfg.Events.WriteTimeout, cfg.Events.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Events.MaxAttempts),
		pkgkafka.WithAsync(cfg.Events.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideFetchEvents creates the fetch-event publisher, or nil when
// events are disabled.
func ProvideFetchEvents(producer *pkgkafka.Producer, cfg *config.Config) drepo.EventPublisher {
	if producer == nil {
		return nil
	}
	topic := cfg.Events.Topic
	if topic == "" {
		topic = "barbridge.fetches"
	}
	return internalrepo.NewKafkaFetchEvents(producer, topic)
}

// ProvideFetcher creates the historical fetcher.
func ProvideFetcher(
	mgr *connection.Manager,
	g *gate.Gate,
	policy *retry.Policy,
	client drepo.GatewayClient,
	cache drepo.BarCache,
	archive drepo.BarArchive,
	events drepo.EventPublisher,
	m drepo.Metrics,
	logger *xlogger.Logger,
	cfg *config.Config,
) *usecase.Fetcher {
	return usecase.NewFetcher(mgr, g, policy, client, cache, archive, events, m, logger, usecase.FetcherConfig{
		MaxBarsPerCall:   cfg.Gateway.MaxBarsPerCall,
		RequestTimeout:   cfg.Fetch.RequestTimeout,
		PartialOnTimeout: cfg.Fetch.PartialOnTimeout,
	})
}

// ProvideHandler creates the boundary HTTP handler.
func ProvideHandler(logger *xlogger.Logger, fetcher *usecase.Fetcher, mgr *connection.Manager, monitor *health.Monitor) xhttp.Handler {
	return api.NewBridgeEchoHandler(logger, fetcher, mgr, monitor)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	logger *xlogger.Logger,
	handler xhttp.Handler,
	mgr *connection.Manager,
	monitor *health.Monitor,
	cache drepo.BarCache,
	events drepo.EventPublisher,
	chClient *pkgch.Client,
) *server.App {
	return server.New(cfg, logger, handler, mgr, monitor, cache, events, chClient)
}
