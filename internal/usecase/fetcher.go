package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"BarBridge/internal/connection"
	"BarBridge/internal/domain/models"
	drepo "BarBridge/internal/domain/repository"
	"BarBridge/internal/service/gate"
	"BarBridge/internal/service/retry"
	applogger "BarBridge/pkg/logger"

	"github.com/google/uuid"
)

// FetcherConfig tunes the historical fetcher.
type FetcherConfig struct {
	MaxBarsPerCall int
	RequestTimeout time.Duration
	// PartialOnTimeout keeps already-succeeded chunks when the request
	// deadline fires. Off by default: a timed-out request returns
	// TimeoutError and no rows.
	PartialOnTimeout bool
}

// Fetcher drives a historical request through the gate, retry policy and
// connection manager, and assembles the final result. It exclusively owns
// the chunk set and result for each request it serves.
type Fetcher struct {
	mgr     *connection.Manager
	g       *gate.Gate
	policy  *retry.Policy
	client  drepo.GatewayClient
	cache   drepo.BarCache
	archive drepo.BarArchive
	events  drepo.EventPublisher
	metrics drepo.Metrics
	logger  *applogger.Logger
	cfg     FetcherConfig
}

// NewFetcher creates a fetcher. cache, archive and events may be nil.
func NewFetcher(
	mgr *connection.Manager,
	g *gate.Gate,
	policy *retry.Policy,
	client drepo.GatewayClient,
	cache drepo.BarCache,
	archive drepo.BarArchive,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	logger *applogger.Logger,
	cfg FetcherConfig,
) *Fetcher {
	if cfg.MaxBarsPerCall <= 0 {
		cfg.MaxBarsPerCall = 1000
	}
	return &Fetcher{
		mgr:     mgr,
		g:       g,
		policy:  policy,
		client:  client,
		cache:   cache,
		archive: archive,
		events:  events,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

type chunkOutcome struct {
	bars     []models.Bar
	err      error
	attempts int
	degraded bool
}

// Fetch executes one historical request and always returns a well-formed
// result; failures are carried in the result, never as a raw error.
func (f *Fetcher) Fetch(ctx context.Context, req models.HistoricalRequest) *models.FetchResult {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	tf := drepo.NormalizeTimeframe(req.Timeframe)
	req.Timeframe = string(tf)

	res := &models.FetchResult{RequestID: req.RequestID}

	if f.cache != nil {
		if bars, ok, err := f.cache.Get(ctx, req); err == nil && ok {
			res.Success = true
			res.Bars = bars
			f.metrics.RecordFetch(req.Symbol, "cache_hit")
			return res
		} else if err != nil {
			f.logger.Warn("bar cache read error", applogger.Error(err))
		}
	}

	chunks := BuildChunks(req.RequestID, tf, req.Start, req.End, f.cfg.MaxBarsPerCall)
	if len(chunks) == 0 {
		res.Success = true
		return res
	}

	reqCtx := ctx
	cancel := func() {}
	if f.cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, f.cfg.RequestTimeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	outcomes := make([]chunkOutcome, len(chunks))
	var wg sync.WaitGroup
	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.runChunk(reqCtx, cancel, &chunks[i], req.Symbol, tf)
		}(i)
	}
	wg.Wait()

	f.assemble(res, req, chunks, outcomes, reqCtx.Err(), time.Since(start))

	if res.Success {
		f.persist(req, res)
	}
	f.publish(req, res)
	return res
}

// runChunk drives one chunk to a terminal state. The gate slot is held
// only for the in-flight call, never across backoff waits.
func (f *Fetcher) runChunk(ctx context.Context, abort context.CancelFunc, c *models.Chunk, symbol string, tf drepo.Timeframe) chunkOutcome {
	out := chunkOutcome{}
	for {
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}

		if err := f.policy.Allow(); err != nil {
			f.metrics.RecordChunkAttempt("circuit_open")
			out.err = err
			return out
		}

		if _, err := f.mgr.EnsureConnected(ctx); err != nil {
			out.err = err
			return out
		}

		waitStart := time.Now()
		if err := f.g.Acquire(ctx); err != nil {
			out.err = err
			return out
		}
		f.metrics.RecordGateWait(time.Since(waitStart).Seconds())

		c.Attempts++
		out.attempts = c.Attempts
		bars, err := f.client.FetchBars(ctx, symbol, tf, c.RangeStart, c.RangeEnd)
		f.g.Release()

		if f.mgr.Snapshot().State == models.StateDegraded {
			out.degraded = true
		}

		if err == nil {
			f.policy.OnSuccess()
			f.metrics.RecordChunkAttempt("ok")
			f.metrics.RecordBreakerState(f.policy.BreakerOpen())
			out.bars = bars
			out.err = nil
			return out
		}
		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}

		d := f.policy.Decide(c.Attempts, err)
		f.metrics.RecordBreakerState(f.policy.BreakerOpen())
		if !d.Retry {
			f.metrics.RecordChunkAttempt("failed")
			f.logger.Warn("chunk failed permanently",
				applogger.String("request_id", c.RequestID),
				applogger.Int("chunk", c.Index),
				applogger.Int("attempts", c.Attempts),
				applogger.Error(err),
			)
			if d.Class == retry.ClassFatal {
				// fatal rejections fail the whole request, stop sibling chunks
				abort()
			}
			out.err = err
			return out
		}

		f.metrics.RecordChunkAttempt("retry")
		f.logger.Debug("chunk retry scheduled",
			applogger.String("request_id", c.RequestID),
			applogger.Int("chunk", c.Index),
			applogger.Int("attempt", c.Attempts),
			applogger.Duration("wait_ms", d.Wait),
			applogger.Error(err),
		)
		select {
		case <-time.After(d.Wait):
		case <-ctx.Done():
			out.err = ctx.Err()
			return out
		}
	}
}

// assemble merges chunk outcomes into the final immutable result.
func (f *Fetcher) assemble(res *models.FetchResult, req models.HistoricalRequest, chunks []models.Chunk, outcomes []chunkOutcome, ctxErr error, elapsed time.Duration) {
	perChunk := make([][]models.Bar, len(chunks))
	var failed []models.FailedRange
	var failErrs []error
	retries := 0
	degraded := false
	interrupted := false

	for i, o := range outcomes {
		if o.degraded {
			degraded = true
		}
		if o.attempts > 1 {
			retries += o.attempts - 1
		}
		if o.err == nil {
			perChunk[i] = o.bars
			continue
		}
		failed = append(failed, models.FailedRange{Start: chunks[i].RangeStart, End: chunks[i].RangeEnd})
		if errors.Is(o.err, context.DeadlineExceeded) || errors.Is(o.err, context.Canceled) {
			interrupted = true
			continue
		}
		failErrs = append(failErrs, o.err)
	}

	bars := MergeBars(perChunk)

	timedOut := ctxErr != nil && len(failErrs) == 0 && interrupted
	switch {
	case timedOut:
		if !f.cfg.PartialOnTimeout || req.AllOrNothing {
			res.Success = false
			res.Bars = nil
			res.Err = &models.TimeoutError{Elapsed: elapsed}
		} else {
			res.Success = false
			res.Bars = bars
			res.Err = &models.PartialFetchFailure{Failed: failed}
			res.Warnings = append(res.Warnings, "request deadline exceeded before all chunks completed")
		}
		f.metrics.RecordFetch(req.Symbol, "timeout")
	case len(failed) > 0:
		res.Success = false
		res.Bars = bars
		res.Err = pickError(failErrs, failed)
		f.metrics.RecordFetch(req.Symbol, "failed")
	default:
		res.Success = true
		res.Bars = bars
		f.metrics.RecordFetch(req.Symbol, "ok")
	}

	if retries > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("completed after %d retries", retries))
	}
	if degraded {
		res.Warnings = append(res.Warnings, "connection was degraded during some reads")
	}
	f.metrics.RecordRows(len(res.Bars))
	f.metrics.RecordLatency("fetch", elapsed.Seconds())
}

// pickError chooses the most specific failure to surface: fatal gateway
// rejections first, then circuit/connection failures, then the generic
// partial-fetch description.
func pickError(failErrs []error, failed []models.FailedRange) error {
	var rej *models.GatewayRejection
	var open *models.CircuitOpenError
	var conn *models.ConnectionError
	for _, err := range failErrs {
		if errors.As(err, &rej) {
			return rej
		}
	}
	for _, err := range failErrs {
		if errors.As(err, &open) {
			return open
		}
	}
	for _, err := range failErrs {
		if errors.As(err, &conn) {
			return conn
		}
	}
	return &models.PartialFetchFailure{Failed: failed}
}

// persist caches and archives a successful result off the request path.
func (f *Fetcher) persist(req models.HistoricalRequest, res *models.FetchResult) {
	if f.cache == nil && f.archive == nil {
		return
	}
	bars := res.Bars
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if f.cache != nil {
			if err := f.cache.Set(ctx, req, bars); err != nil {
				f.logger.Warn("bar cache write error", applogger.Error(err))
			}
		}
		if f.archive != nil {
			if err := f.archive.StoreBatch(ctx, req.Symbol, drepo.Timeframe(req.Timeframe), bars); err != nil {
				f.logger.Warn("bar archive write error", applogger.Error(err))
				f.metrics.RecordError("archive")
			}
		}
	}()
}

func (f *Fetcher) publish(req models.HistoricalRequest, res *models.FetchResult) {
	if f.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := f.events.PublishFetchEvent(ctx, res, req); err != nil {
			f.logger.Warn("fetch event publish error", applogger.Error(err))
			f.metrics.RecordError("publish")
		}
	}()
}
