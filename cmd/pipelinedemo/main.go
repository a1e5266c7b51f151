// Command pipelinedemo is a small HTTP service demonstrating the command
// pipeline library: one StandardPipeline route with a fixed middleware
// chain, one DynamicPipeline route with runtime handler registration and
// retry, a Prometheus metrics endpoint, and a health check. Wiring order
// is config -> logger -> dependencies -> router -> http.Server -> graceful
// shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlfredDev/pipelinecore/admission"
	"github.com/AlfredDev/pipelinecore/config"
	"github.com/AlfredDev/pipelinecore/logging"
	"github.com/AlfredDev/pipelinecore/metrics"
	"github.com/AlfredDev/pipelinecore/pipeline"
	"github.com/AlfredDev/pipelinecore/retry"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)

	collector := metrics.NewCollector(metrics.CollectorConfig{
		BufferCapacity:     cfg.MetricsBufferCapacity,
		CollectionInterval: cfg.MetricsCollectionInterval,
		BatchSize:          cfg.MetricsBatchSize,
		WindowDurations:    cfg.MetricsWindowDurations,
		WindowRetain:       cfg.MetricsWindowRetain,
	}, logging.Component(logger, "metrics"))
	prom := metrics.NewPrometheusExporter()
	collector.AddExporter(prom)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	collector.Start(ctx)

	sem := admission.New(admission.Config{
		MaxOutstanding: cfg.AdmissionMaxOutstanding,
		MaxQueueMemory: cfg.AdmissionMaxQueueMemory,
		Strategy:       cfg.AdmissionStrategy,
	})

	standardPipeline := pipeline.NewStandardPipeline(
		EchoHandler(),
		pipeline.WithMaxDepth(cfg.MaxMiddlewareDepth),
		pipeline.WithAdmission(sem),
		pipeline.WithLogger(logging.Component(logger, "pipeline.standard")),
	)
	_ = standardPipeline.AddMiddlewares(
		&loggingMiddleware{logger: logging.Component(logger, "middleware.logging")},
		&authMiddleware{priority: 10},
		newRateLimitMiddleware(20, 60, time.Minute),
		&timeoutMiddleware{priority: 30, timeout: 5 * time.Second},
		&metricsMiddleware{priority: 40, collector: collector},
	)

	dynamicPipeline := pipeline.NewDynamicPipeline(
		pipeline.WithDynamicMaxDepth(cfg.MaxMiddlewareDepth),
		pipeline.WithDynamicAdmission(sem),
		pipeline.WithDynamicLogger(logging.Component(logger, "pipeline.dynamic")),
		pipeline.WithRetry(retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Backoff:     retry.ExponentialBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay, true),
			ShouldRetry: func(err error, attempt int) bool {
				return !pipeline.IsDefinitivelyNonRetriable(err)
			},
		}),
	)
	_ = dynamicPipeline.AddMiddlewares(
		&loggingMiddleware{logger: logging.Component(logger, "middleware.logging")},
		&authMiddleware{priority: 10},
		newRateLimitMiddleware(20, 60, time.Minute),
		&metricsMiddleware{priority: 40, collector: collector},
	)
	dynamicPipeline.Register(pipeline.TypeName(UppercaseCommand{}), UppercaseHandler())
	dynamicPipeline.Register(pipeline.TypeName(ReverseCommand{}), ReverseHandler())

	router := newRouter(&StandardDemo{pipeline: standardPipeline}, &DynamicDemo{pipeline: dynamicPipeline}, prom)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("pipelinedemo listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
	}
	collector.Stop()
	logger.Info().Msg("shutdown complete")
}
