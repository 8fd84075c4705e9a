package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
)

// ClickHouseBarArchive persists fetched bars for offline research queries.
// Writes happen off the request path, best effort.
type ClickHouseBarArchive struct {
	db    *sql.DB
	table string
}

// NewClickHouseBarArchive creates a ClickHouse bar archive.
func NewClickHouseBarArchive(db *sql.DB, table string) *ClickHouseBarArchive {
	return &ClickHouseBarArchive{db: db, table: table}
}

func (a *ClickHouseBarArchive) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		symbol String,
		tf String,
		ts DateTime,
		open Float64,
		high Float64,
		low Float64,
		close Float64,
		volume Float64
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, tf, ts)`, a.table)
	if _, err := a.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("init bar archive: %w", err)
	}
	return nil
}

func (a *ClickHouseBarArchive) StoreBatch(ctx context.Context, symbol string, tf drepo.Timeframe, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	// Multi-row VALUES insert to reduce round-trips; 2000 rows per batch.
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				symbol,
				string(tf),
				b.Timestamp,
				b.Open,
				b.High,
				b.Low,
				b.Close,
				b.Volume,
			)
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, tf, ts, open, high, low, close, volume) VALUES %s",
			a.table, strings.Join(values, ","))
		if _, err := a.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

func (a *ClickHouseBarArchive) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

var _ drepo.BarArchive = (*ClickHouseBarArchive)(nil)
