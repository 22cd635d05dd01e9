package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/config"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/events"
	"github.com/safestrip/safestrip/internal/handlers"
	"github.com/safestrip/safestrip/internal/jobs"
	"github.com/safestrip/safestrip/internal/logging"
	"github.com/safestrip/safestrip/internal/metrics"
	"github.com/safestrip/safestrip/internal/mqtt"
	"github.com/safestrip/safestrip/internal/ratelimit"
	"github.com/safestrip/safestrip/internal/services"
	"github.com/safestrip/safestrip/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "safestrip")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("SafeStrip stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting SafeStrip backend",
		zap.String("evaluation_mode", string(cfg.EvaluationMode)),
		zap.String("breach_store", string(cfg.BreachStore)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database
	if err := database.Connect(cfg.DatabaseURL, database.ParseLogLevel(cfg.DBLogLevel)); err != nil {
		return err
	}
	defer database.Close() //nolint:errcheck
	db := database.GetDB()
	logger.Info("Database connection established")

	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	seeds, err := config.LoadRuleSeeds(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load rules file: %w", err)
	}
	created, err := database.InitializeDefaults(db, seeds, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database defaults: %w", err)
	}
	if created > 0 {
		logger.Info("Default alert rules created", zap.Int("count", created))
	}

	store := database.NewStore(db, cfg.StorageTimeout)
	m := metrics.New()

	// Redis backs the breach tracker and/or the event stream
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
	}

	var breaches services.BreachTracker = services.NewDBBreachTracker(store)
	if cfg.BreachStore == config.BreachStoreRedis {
		breaches = services.NewRedisBreachTracker(redisClient)
	}

	// Event fan-out
	hub := websocket.NewHub(logger, cfg.CORSOrigins)
	go hub.Run(ctx)

	publisher := events.NewMulti().
		Add("log", events.NewLogPublisher(logger)).
		Add("websocket", hub)
	if cfg.EventsRedisStream != "" {
		publisher.Add("redis", events.NewRedisStreamPublisher(redisClient, cfg.EventsRedisStream))
	}
	if cfg.EventsKafkaTopic != "" {
		kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsKafkaTopic)
		if err != nil {
			return err
		}
		defer kafka.Close() //nolint:errcheck
		publisher.Add("kafka", kafka)
	}
	logger.Info("Event publishers configured", zap.Int("count", publisher.Len()))

	// Ingestion and evaluation
	rules := services.NewCachedRuleSource(store, cfg.RuleCacheTTL, m)
	defer rules.Stop()

	ingestor := services.NewIngestor(store, cfg.ClockSkew, m, logger)
	if cfg.IngestRatePerSec > 0 {
		ingestor.WithRateLimiter(ratelimit.NewKeyed(cfg.IngestRatePerSec, cfg.IngestBurst))
	}
	evaluator := services.NewEvaluator(store, rules, breaches, m, logger)
	lifecycle := services.NewLifecycleManager(store, publisher, m, logger)
	pipeline := services.NewPipeline(ingestor, evaluator, lifecycle, services.PipelineOptions{
		Mode:      cfg.EvaluationMode,
		Workers:   cfg.EvalWorkers,
		QueueSize: cfg.EvalQueueSize,
	}, m, logger)
	pipeline.Start()
	defer pipeline.Stop()

	registry := services.NewRegistryService(store, logger).
		OnRuleChange(rules.Invalidate).
		WithRuleState(lifecycle, breaches)
	safety := services.NewSafetyCheckService(store, cfg.Staleness, m, logger)

	// MQTT ingestion
	if cfg.MQTTBroker != "" {
		consumer := mqtt.NewConsumer(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		}, pipeline, logger)
		if err := consumer.Start(); err != nil {
			logger.Warn("MQTT ingestion disabled", zap.Error(err))
		} else {
			defer consumer.Close()
		}
	}

	// Background jobs
	stopJobs := make(chan struct{})
	defer close(stopJobs)
	liveness := jobs.NewLivenessMonitor(store, cfg.Staleness, m, logger)
	go liveness.Start(cfg.LivenessInterval, stopJobs)

	// HTTP
	router := handlers.NewRouter(
		handlers.NewHTTPHandler(store),
		handlers.NewAPIHandler(registry, pipeline, safety),
		handlers.RouterOptions{Metrics: m, Hub: hub, CORSOrigins: cfg.CORSOrigins, Log: logger},
	)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, cleaning up...")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error shutting down HTTP server", zap.Error(err))
	}
	logger.Info("Shutdown complete")
	return nil
}
