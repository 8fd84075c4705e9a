package repository

import (
	"context"
	"time"

	"BarBridge/internal/domain/models"
)

// GatewayClient is the narrow capability over the external gateway's
// client library. The wire protocol behind it is opaque; implementations
// must translate raw failures into the typed errors in domain/models.
type GatewayClient interface {
	Connect(ctx context.Context) (*models.GatewaySession, error)
	Disconnect() error
	Ping(ctx context.Context) error
	FetchBars(ctx context.Context, symbol string, tf Timeframe, start, end time.Time) ([]models.Bar, error)
}

// BarCache stores completed fetch results so repeat requests spend no
// gateway quota.
type BarCache interface {
	Get(ctx context.Context, req models.HistoricalRequest) ([]models.Bar, bool, error)
	Set(ctx context.Context, req models.HistoricalRequest, bars []models.Bar) error
}

// BarArchive persists fetched bars for offline research queries.
type BarArchive interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, symbol string, tf Timeframe, bars []models.Bar) error
	Health(ctx context.Context) error
}

// EventPublisher emits a summary event per completed fetch.
type EventPublisher interface {
	PublishFetchEvent(ctx context.Context, res *models.FetchResult, req models.HistoricalRequest) error
	Close() error
}

type Metrics interface {
	RecordFetch(symbol, outcome string)
	RecordChunkAttempt(outcome string)
	RecordRows(n int)
	RecordGateWait(seconds float64)
	RecordConnectionState(state models.ConnectionState)
	RecordBreakerState(open bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
