//go:build wireinject
// +build wireinject

package di

import (
	"BarBridge/pkg/config"
	"BarBridge/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Gateway session
		ProvideGatewayClient,
		ProvideConnectionManager,
		ProvideHealthMonitor,

		// Pacing and retry
		ProvideGate,
		ProvideRetryPolicy,

		// Optional backing stores
		ProvideBarCache,
		ProvideClickHouseClient,
		ProvideBarArchive,
		ProvideKafkaProducer,
		ProvideFetchEvents,

		// Use cases and boundary
		ProvideFetcher,
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
