package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/craftmarket/payment-engine/internal/payments"
	"github.com/craftmarket/payment-engine/internal/payments/config"
	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/handler"
	"github.com/craftmarket/payment-engine/internal/payments/idempotency"
	"github.com/craftmarket/payment-engine/internal/payments/ledger"
	"github.com/craftmarket/payment-engine/internal/payments/provider"
	"github.com/craftmarket/payment-engine/internal/payments/repository"
	"github.com/craftmarket/payment-engine/internal/payments/worker"
	"github.com/craftmarket/payment-engine/kafka"
	"github.com/craftmarket/payment-engine/pkg/database"
	"github.com/craftmarket/payment-engine/pkg/logger"
	"github.com/craftmarket/payment-engine/pkg/tracing"
)

func main() {
	// Initialize logger
	serviceName := getEnv("OTEL_SERVICE_NAME", "payment-engine")
	isDevelopment := getEnv("ENVIRONMENT", "development") == "development"
	logger.Init(serviceName, isDevelopment)

	logLevel := getEnv("LOG_LEVEL", "info")
	logger.SetLevel(logLevel)

	logger.Logger.Info().
		Str("service", serviceName).
		Str("environment", getEnv("ENVIRONMENT", "development")).
		Str("log_level", logLevel).
		Msg("Starting payment engine")

	// Initialize tracer
	tp, err := tracing.InitTracer(serviceName)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx, tp); err != nil {
				logger.Logger.Error().Err(err).Msg("Failed to shutdown tracer")
			}
		}()
	}

	// Engine policies
	cfg := config.Load()

	// Load database configuration
	dbConfig := database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		DBName:   getEnv("DB_NAME", "paymentsdb"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Connect to database
	db, err := database.NewGormConnection(dbConfig)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Dedicated lib/pq connection backing the health check
	sqlDB, err := database.NewPostgresConnection(dbConfig)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to open health check connection")
	}
	defer sqlDB.Close()

	// Run migrations
	if err := repository.AutoMigrate(db); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	logger.Logger.Info().Msg("Database initialized successfully")

	// Idempotency guard: Redis when configured, in-memory otherwise
	guard, guardSweeper := buildGuard(cfg)

	// Kafka publisher (optional)
	var publisher ledger.EventPublisher
	var kafkaPublisher *kafka.Publisher
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		kafkaPublisher, err = kafka.NewPublisher(strings.Split(brokers, ","))
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to initialize Kafka publisher, events disabled")
		} else {
			publisher = kafkaPublisher
			defer kafkaPublisher.Close()
		}
	}

	// Provider adapters
	registry := buildRegistry(cfg)
	logger.Logger.Info().
		Strs("providers", registry.Names()).
		Msg("Provider registry initialized")

	// Initialize handler with Wire DI
	paymentHandler, err := payments.InitializeHandler(db, cfg, registry, guard, publisher)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize handler")
	}

	// Reconciliation sweeper
	sweepHandler, err := payments.InitializeSweeper(db, cfg, registry, publisher)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to initialize sweeper")
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go worker.NewSweeper(sweepHandler, guardSweeper, cfg.SweepInterval).Run(sweepCtx)

	// Start HTTP server
	httpPort := getEnv("HTTP_PORT", "8084")
	go startHTTPServer(paymentHandler, sqlDB, httpPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info().Msg("Shutting down payment engine...")
	stopSweeper()
}

// buildGuard picks the idempotency guard backend. Only the in-memory guard
// needs a periodic expiry sweep.
func buildGuard(cfg config.Config) (idempotency.Guard, worker.GuardSweeper) {
	redisAddr := getEnv("REDIS_ADDR", "")
	if redisAddr == "" {
		logger.Logger.Warn().Msg("REDIS_ADDR not set, using in-memory idempotency guard")
		memory := idempotency.NewMemoryGuard(cfg.InFlightTTL, cfg.ResultTTL)
		return memory, memory
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Logger.Fatal().Err(err).Str("addr", redisAddr).Msg("Failed to connect to Redis")
	}

	logger.Logger.Info().Str("addr", redisAddr).Msg("Redis idempotency guard initialized")
	return idempotency.NewRedisGuard(client, cfg.InFlightTTL, cfg.ResultTTL), nil
}

// buildRegistry constructs the provider adapters from the environment. An
// adapter without a base URL is skipped.
func buildRegistry(cfg config.Config) *provider.Registry {
	var adapters []domain.ProviderAdapter

	if baseURL := getEnv("CARD_API_URL", ""); baseURL != "" {
		adapters = append(adapters, provider.NewCardAdapter(
			baseURL,
			getEnv("CARD_API_KEY", ""),
			getEnv("CARD_WEBHOOK_SECRET", ""),
			cfg.ProviderTimeout,
		))
	}

	if baseURL := getEnv("PAYPAL_API_URL", ""); baseURL != "" {
		adapters = append(adapters, provider.NewPayPalAdapter(
			baseURL,
			getEnv("PAYPAL_API_KEY", ""),
			getEnv("PAYPAL_WEBHOOK_ID", ""),
			getEnv("PAYPAL_WEBHOOK_SECRET", ""),
			cfg.ProviderTimeout,
		))
	}

	for _, name := range []string{domain.ProviderKlarna, domain.ProviderAffirm, domain.ProviderAfterpay} {
		prefix := strings.ToUpper(name)
		if baseURL := getEnv(prefix+"_API_URL", ""); baseURL != "" {
			adapters = append(adapters, provider.NewBNPLAdapter(
				name,
				baseURL,
				getEnv(prefix+"_API_KEY", ""),
				getEnv(prefix+"_WEBHOOK_SECRET", ""),
				cfg.ProviderTimeout,
			))
		}
	}

	return provider.NewRegistry(adapters...)
}

func startHTTPServer(paymentHandler *handler.PaymentHandler, db *sql.DB, port string) {
	// Setup router
	router := mux.NewRouter()

	// Register all middlewares using middleware registration system
	handler.RegisterMiddlewares(router, handler.DefaultMiddlewareConfig())

	// Register routes
	paymentHandler.RegisterRoutes(router)

	// Health check endpoint
	paymentHandler.RegisterHealthCheck(router, db)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	logger.Logger.Info().
		Str("port", port).
		Str("metrics_endpoint", "/metrics").
		Msg("HTTP server started")

	if err := http.ListenAndServe(":"+port, c.Handler(router)); err != nil {
		logger.Logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
