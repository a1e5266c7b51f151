// Package config loads runtime configuration for the pipelinedemo service
// from environment variables (with an optional .env file), grounded on the
// teacher's config/config.go env-var-driven Config struct and
// getEnv/getEnvInt/getEnvBool helpers.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/AlfredDev/pipelinecore/admission"
)

// Config holds every environment-derived setting the demo service needs to
// wire up its pipelines, admission gate, and metrics collector.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Pipeline
	MaxMiddlewareDepth int

	// Admission
	AdmissionMaxOutstanding int
	AdmissionMaxQueueMemory int64
	AdmissionStrategy       admission.Strategy

	// Retry
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Metrics
	MetricsCollectionInterval time.Duration
	MetricsBatchSize          int
	MetricsBufferCapacity     int
	MetricsWindowDurations    []time.Duration
	MetricsWindowRetain       int

	// Logging
	LogLevel string
}

// Load reads configuration from the environment, first loading a .env file
// if one is present in the working directory (a missing .env is not an
// error).
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("PIPELINE_GRACEFUL_TIMEOUT_SEC", 15)

	return &Config{
		Addr:            getEnv("PIPELINE_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		MaxMiddlewareDepth: getEnvInt("PIPELINE_MAX_MIDDLEWARE_DEPTH", 32),

		AdmissionMaxOutstanding: getEnvInt("ADMISSION_MAX_OUTSTANDING", 100),
		AdmissionMaxQueueMemory: int64(getEnvInt("ADMISSION_MAX_QUEUE_MEMORY_BYTES", 0)),
		AdmissionStrategy:       parseStrategy(getEnv("ADMISSION_STRATEGY", "suspend")),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 50)) * time.Millisecond,
		RetryMaxDelay:    time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 2000)) * time.Millisecond,

		MetricsCollectionInterval: time.Duration(getEnvInt("METRICS_COLLECTION_INTERVAL_SEC", 10)) * time.Second,
		MetricsBatchSize:          getEnvInt("METRICS_BATCH_SIZE", 200),
		MetricsBufferCapacity:     getEnvInt("METRICS_BUFFER_CAPACITY", 2048),
		MetricsWindowDurations:    getEnvDurationListSec("METRICS_WINDOW_DURATIONS_SEC", []int{60, 3600}),
		MetricsWindowRetain:       getEnvInt("METRICS_WINDOW_RETAIN", 10),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func parseStrategy(v string) admission.Strategy {
	switch v {
	case "drop_oldest":
		return admission.StrategyDropOldest
	case "drop_newest":
		return admission.StrategyDropNewest
	case "reject":
		return admission.StrategyReject
	default:
		return admission.StrategySuspend
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDurationListSec parses a comma-separated list of second counts
// (e.g. "60,3600" for one-minute and one-hour windows) into a duration
// slice, falling back to fallbackSecs (also in seconds) if the variable is
// unset or any entry fails to parse.
func getEnvDurationListSec(key string, fallbackSecs []int) []time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return secsToDurations(fallbackSecs)
	}
	parts := strings.Split(v, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		secs, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return secsToDurations(fallbackSecs)
		}
		out = append(out, time.Duration(secs)*time.Second)
	}
	return out
}

func secsToDurations(secs []int) []time.Duration {
	out := make([]time.Duration, len(secs))
	for i, s := range secs {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
