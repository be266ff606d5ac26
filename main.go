package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/converge/internal/academic"
	"github.com/Kocoro-lab/converge/internal/activities"
	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	cfg "github.com/Kocoro-lab/converge/internal/config"
	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/documents"
	"github.com/Kocoro-lab/converge/internal/health"
	"github.com/Kocoro-lab/converge/internal/httpapi"
	"github.com/Kocoro-lab/converge/internal/llm"
	"github.com/Kocoro-lab/converge/internal/registry"
	"github.com/Kocoro-lab/converge/internal/session"
	"github.com/Kocoro-lab/converge/internal/streaming"
	"github.com/Kocoro-lab/converge/internal/temporal"
	"github.com/Kocoro-lab/converge/internal/tracing"
	"github.com/Kocoro-lab/converge/internal/webpage"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configManager, err := cfg.NewManager("", logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	config := configManager.Current()
	if lvl, err := zapcore.ParseLevel(config.Observability.LogLevel); err == nil && lvl != zapcore.InfoLevel {
		if l, err := newLogger(lvl); err == nil {
			logger = l
			configManager.SetLogger(l)
		}
	}
	configManager.OnChange(func(c *cfg.Config) {
		logger.Info("Configuration reloaded",
			zap.Int("initial_query_count", c.Research.InitialQueryCount),
			zap.Int("max_rounds", c.Research.MaxRounds),
			zap.String("answer_model", c.Models.Answer),
		)
	})
	configManager.Watch()

	shutdownTracing, err := tracing.Initialize(config.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)

	// Admin endpoints come up first so health checks answer while dependencies start
	hm := health.NewManager(logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Observability.AdminPort),
		Handler:           adminMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Admin server listening", zap.String("address", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	llmService, err := llm.NewGeminiService(ctx, config.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM service", zap.Error(err))
	}
	extractor, err := documents.NewExtractor(ctx, config.Documents, logger)
	if err != nil {
		logger.Fatal("Failed to create document extractor", zap.Error(err))
	}

	deps := activities.Deps{
		Config:    configManager,
		LLM:       llmService,
		Academic:  academic.NewArxivClient(config.Academic, config.LLM.MaxRetries, logger),
		Extractor: extractor,
		Pages:     webpage.NewFetcher(config.Webpage, logger),
		Logger:    logger,
	}

	var closers []func() error
	if config.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		sessions := session.NewManager(rdb, config.Redis.SessionTTL, logger)
		deps.Sessions = sessions
		events := streaming.NewManager(rdb, config.Redis.StreamMaxLen, logger)
		deps.Events = events
		httpapi.NewStreamingHandler(events, logger).RegisterRoutes(adminMux)
		_ = hm.RegisterChecker(health.NewPingChecker("redis", sessions, sessions, true))
		closers = append(closers, sessions.Close)
		logger.Info("Redis session store and progress stream enabled", zap.String("addr", config.Redis.Addr))
	}
	if config.Postgres.Enabled {
		dbClient, err := db.NewClient(ctx, config.Postgres, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		if err := dbClient.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate run history schema", zap.Error(err))
		}
		deps.Runs = dbClient
		_ = hm.RegisterChecker(health.NewPingChecker("postgres", dbClient, dbClient, false))
		closers = append(closers, dbClient.Close)
		logger.Info("Run history enabled")
	}

	acts := activities.NewActivities(deps)
	researchRegistry := registry.NewResearchRegistry(acts, logger)

	// Temporal may still be starting; wait for it before dialing
	host := config.Temporal.HostPort
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
		time.Sleep(time.Second)
	}
	var tClient client.Client
	for attempt := 1; ; attempt++ {
		tClient, err = client.Dial(client.Options{
			HostPort:  host,
			Namespace: config.Temporal.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			break
		}
		delay := time.Duration(attempt)
		if delay > 15 {
			delay = 15
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", host),
			zap.Duration("sleep", delay*time.Second),
			zap.Error(err),
		)
		time.Sleep(delay * time.Second)
	}
	defer tClient.Close()
	_ = hm.RegisterChecker(health.NewTemporalChecker(tClient))
	_ = hm.RegisterChecker(health.NewBreakerChecker(circuitbreaker.Default))

	w := worker.New(tClient, config.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
	})
	if err := researchRegistry.RegisterWorkflows(w); err != nil {
		logger.Fatal("Failed to register workflows", zap.Error(err))
	}
	if err := researchRegistry.RegisterActivities(w); err != nil {
		logger.Fatal("Failed to register activities", zap.Error(err))
	}
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start Temporal worker", zap.Error(err))
	}
	logger.Info("Temporal worker started", zap.String("queue", config.Temporal.TaskQueue))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down research worker")

	w.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("Failed to close client", zap.Error(err))
		}
	}
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
