package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// RedisBarCache caches completed fetch results so repeat requests spend
// no gateway quota.
type RedisBarCache struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedisBarCache creates a redis-backed bar cache.
func NewRedisBarCache(addr, password string, db int, ttl time.Duration) *RedisBarCache {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisBarCache{cli: rdb, ttl: ttl}
}

func cacheKey(req models.HistoricalRequest) string {
	return fmt.Sprintf("bars:%s:%s:%d:%d", req.Symbol, req.Timeframe, req.Start.Unix(), req.End.Unix())
}

func (r *RedisBarCache) Get(ctx context.Context, req models.HistoricalRequest) ([]models.Bar, bool, error) {
	b, err := r.cli.Get(ctx, cacheKey(req)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	var bars []models.Bar
	if err := json.Unmarshal(b, &bars); err != nil {
		return nil, false, fmt.Errorf("decode cached bars: %w", err)
	}
	return bars, true, nil
}

func (r *RedisBarCache) Set(ctx context.Context, req models.HistoricalRequest, bars []models.Bar) error {
	b, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encode bars: %w", err)
	}
	return r.cli.Set(ctx, cacheKey(req), b, r.ttl).Err()
}

// Health pings redis.
func (r *RedisBarCache) Health(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

// Close releases the redis client.
func (r *RedisBarCache) Close() error {
	return r.cli.Close()
}

var _ drepo.BarCache = (*RedisBarCache)(nil)
