package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/pipelinecore/metrics"
	"github.com/AlfredDev/pipelinecore/pipeline"
)

// loggingMiddleware logs a start/end pair per command, tagged with the
// context's request id.
type loggingMiddleware struct {
	logger zerolog.Logger
}

func (m *loggingMiddleware) Priority() int { return 0 }
func (m *loggingMiddleware) Name() string  { return "logging" }
func (m *loggingMiddleware) Execute(ctx context.Context, cmd any, cctx *pipeline.CommandContext, next pipeline.NextFunc) (any, error) {
	start := time.Now()
	id := cctx.RequestID()
	m.logger.Debug().Str("request_id", id).Str("command", fmt.Sprintf("%T", cmd)).Msg("command started")
	result, err := next(ctx, cmd, cctx)
	evt := m.logger.Debug()
	if err != nil {
		evt = m.logger.Warn().Err(err)
	}
	evt.Str("request_id", id).Dur("elapsed", time.Since(start)).Msg("command finished")
	return result, err
}

// authMiddleware requires an "api_key" metadata entry to be present on the
// CommandContext, rejecting with AuthorizationError otherwise. There is no
// HTTP header at this layer, so the demo handlers copy the Authorization
// header into the context's metadata bag before dispatch.
type authMiddleware struct {
	priority int
}

func (m *authMiddleware) Priority() int { return m.priority }
func (m *authMiddleware) Name() string  { return "auth" }
func (m *authMiddleware) Execute(ctx context.Context, cmd any, cctx *pipeline.CommandContext, next pipeline.NextFunc) (any, error) {
	if key, ok := cctx.Metadata("api_key"); !ok || key == "" {
		return nil, &pipeline.AuthorizationError{Reason: "missing api_key"}
	}
	return next(ctx, cmd, cctx)
}

// rateLimitMiddleware enforces a trailing-window requests-per-minute cap
// per client id.
type rateLimitMiddleware struct {
	priority int
	limit    int
	window   time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time
}

func newRateLimitMiddleware(priority, limit int, window time.Duration) *rateLimitMiddleware {
	return &rateLimitMiddleware{priority: priority, limit: limit, window: window, buckets: make(map[string][]time.Time)}
}

func (m *rateLimitMiddleware) Priority() int { return m.priority }
func (m *rateLimitMiddleware) Name() string  { return "rate_limit" }
func (m *rateLimitMiddleware) Execute(ctx context.Context, cmd any, cctx *pipeline.CommandContext, next pipeline.NextFunc) (any, error) {
	clientID, _ := cctx.Metadata("client_id")
	if clientID == "" {
		clientID = "anonymous"
	}
	now := time.Now()

	m.mu.Lock()
	cutoff := now.Add(-m.window)
	kept := m.buckets[clientID][:0:0]
	for _, t := range m.buckets[clientID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= m.limit {
		m.buckets[clientID] = kept
		m.mu.Unlock()
		return nil, &pipeline.RateLimitExceededError{Limit: m.limit, ResetTime: now.Add(m.window), RetryAfter: m.window}
	}
	kept = append(kept, now)
	m.buckets[clientID] = kept
	m.mu.Unlock()

	return next(ctx, cmd, cctx)
}

// timeoutMiddleware bounds downstream execution time by deriving a
// timeout context before calling next.
type timeoutMiddleware struct {
	priority int
	timeout  time.Duration
}

func (m *timeoutMiddleware) Priority() int { return m.priority }
func (m *timeoutMiddleware) Name() string  { return "timeout" }
func (m *timeoutMiddleware) Execute(ctx context.Context, cmd any, cctx *pipeline.CommandContext, next pipeline.NextFunc) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	result, err := next(ctx, cmd, cctx)
	if err != nil && ctx.Err() != nil {
		return nil, &pipeline.TimeoutError{Duration: m.timeout}
	}
	return result, err
}

// metricsMiddleware records a counter of command dispatches and a timer of
// per-command latency into the collector.
type metricsMiddleware struct {
	priority  int
	collector *metrics.Collector
}

func (m *metricsMiddleware) Priority() int { return m.priority }
func (m *metricsMiddleware) Name() string  { return "metrics" }
func (m *metricsMiddleware) Execute(ctx context.Context, cmd any, cctx *pipeline.CommandContext, next pipeline.NextFunc) (any, error) {
	start := time.Now()
	result, err := next(ctx, cmd, cctx)
	elapsed := time.Since(start)

	tags := map[string]string{"command": fmt.Sprintf("%T", cmd)}
	if err != nil {
		tags["outcome"] = "error"
	} else {
		tags["outcome"] = "ok"
	}
	m.collector.Record(metrics.DataPoint{
		Name: "pipeline_commands_total", Kind: metrics.KindCounter, Value: 1,
		Timestamp: start, Tags: tags, Unit: "count",
	})
	m.collector.Record(metrics.DataPoint{
		Name: "pipeline_command_duration_ms", Kind: metrics.KindTimer, Value: float64(elapsed.Milliseconds()),
		Timestamp: start, Tags: tags, Unit: "ms",
	})
	return result, err
}
