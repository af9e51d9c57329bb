package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine's tunable policies. Everything is loaded from the
// environment once at startup and passed by injection.
type Config struct {
	// Outbound provider calls
	ProviderTimeout time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	// Idempotency guard. InFlightTTL bounds how long a crashed caller can
	// hold a reservation before a legitimate retry is allowed through.
	InFlightTTL time.Duration
	ResultTTL   time.Duration

	// Webhook ingestion: in-process lookup retries for deliveries racing the
	// create-intent response, then a durable window before manual review.
	LookupRetries     int
	LookupRetryDelay  time.Duration
	UnmatchedDeadline time.Duration

	// Reconciliation sweep
	StaleThreshold time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

// Load reads the engine configuration from the environment
func Load() Config {
	return Config{
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		RetryAttempts:   getInt("PROVIDER_RETRY_ATTEMPTS", 3),
		RetryBaseDelay:  getDuration("PROVIDER_RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryMaxDelay:   getDuration("PROVIDER_RETRY_MAX_DELAY", 2*time.Second),

		InFlightTTL: getDuration("IDEMPOTENCY_INFLIGHT_TTL", 2*time.Minute),
		ResultTTL:   getDuration("IDEMPOTENCY_RESULT_TTL", 24*time.Hour),

		LookupRetries:     getInt("WEBHOOK_LOOKUP_RETRIES", 3),
		LookupRetryDelay:  getDuration("WEBHOOK_LOOKUP_RETRY_DELAY", 250*time.Millisecond),
		UnmatchedDeadline: getDuration("WEBHOOK_UNMATCHED_DEADLINE", 15*time.Minute),

		StaleThreshold: getDuration("RECONCILE_STALE_THRESHOLD", 10*time.Minute),
		SweepInterval:  getDuration("RECONCILE_SWEEP_INTERVAL", time.Minute),
		SweepBatchSize: getInt("RECONCILE_SWEEP_BATCH", 50),
	}
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
