// adengine runs the automated ad-budget optimization core: the
// scheduler, fatigue detector, safe executor, and HTTP API in one
// process, sharing a single Postgres pool and tenant registry.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/adengine/pkg/alerting"
	"github.com/codeready-toolchain/adengine/pkg/api"
	"github.com/codeready-toolchain/adengine/pkg/attribution"
	"github.com/codeready-toolchain/adengine/pkg/cache"
	"github.com/codeready-toolchain/adengine/pkg/config"
	"github.com/codeready-toolchain/adengine/pkg/database"
	"github.com/codeready-toolchain/adengine/pkg/executor"
	"github.com/codeready-toolchain/adengine/pkg/fatigue"
	"github.com/codeready-toolchain/adengine/pkg/identity"
	"github.com/codeready-toolchain/adengine/pkg/platform"
	"github.com/codeready-toolchain/adengine/pkg/retention"
	"github.com/codeready-toolchain/adengine/pkg/sampler"
	"github.com/codeready-toolchain/adengine/pkg/scheduler"
	"github.com/codeready-toolchain/adengine/pkg/scorer"
	"github.com/codeready-toolchain/adengine/pkg/services"
	"github.com/codeready-toolchain/adengine/pkg/telemetry"
	"github.com/codeready-toolchain/adengine/pkg/winnerindex"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration for %s=%q, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	metricsAddr := getEnv("METRICS_ADDR", ":9090")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	podID := getEnv("POD_ID", "adengine-0")

	log.Printf("Starting adengine (pod %s)", podID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	log.Printf("Configuration loaded: %d tenants", cfg.Stats().Tenants)

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("Connected to PostgreSQL, migrations applied")

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisClient := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	})
	defer redisClient.Close()
	adLock := cache.NewAdLock(redisClient, getEnvDuration("AD_LOCK_TTL", 10*time.Second))

	pool := dbClient.Pool

	hasher := identity.NewHasher(os.Getenv("IDENTITY_SALT"))
	attributionStore := attribution.NewPostgresStore(pool)
	attributor := attribution.New(cfg.TenantRegistry, attributionStore, hasher)

	embeddingClient := platform.NewEmbeddingClient(outboundConfig(cfg.Platform, cfg.Platform.EmbeddingBaseURL, cfg.Platform.EmbeddingAPIKey, "embedding"))
	winnerStore := winnerindex.NewPostgresStore(pool)
	winnerIndex := winnerindex.New(winnerStore, embeddingClient, cfg.TenantRegistry)

	// adScorer and allocator are shared between the feedback ingestion
	// path and the scheduler, so a click or synthetic-revenue event
	// invalidates the exact score cache and Thompson posterior the next
	// scheduling cycle reads.
	adScorer := scorer.New()
	allocator := sampler.NewAllocator()

	servicesStore := services.NewPostgresStore(pool)
	feedbackService := services.NewFeedbackService(attributor, attributionStore, servicesStore, adLock, allocator, adScorer)
	winnerService := services.NewWinnerService(winnerIndex, embeddingClient)

	platformClient := platform.NewClient(outboundConfig(cfg.Platform, cfg.Platform.AdPlatformBaseURL, cfg.Platform.AdPlatformAPIKey, "ad-platform"))
	executorStore := executor.NewPostgresStore(pool)

	alertingService := alerting.NewService(cfg.Alerting, os.Getenv(cfg.Alerting.TokenEnv))

	executorPool := executor.NewWorkerPool(podID, executorStore, platformClient, cfg.TenantRegistry, alertingService, cfg.Executor)
	executorPool.Start(ctx)

	schedulerStore := scheduler.NewPostgresStore(pool)
	sched := scheduler.New(
		cfg.TenantRegistry, schedulerStore, executorStore, adScorer, allocator,
		getEnvDuration("SCHEDULER_INTERVAL", 0),
		scheduler.WithWinnerBooster(winnerIndex),
		scheduler.WithRecommendationRecorder(schedulerStore),
	)
	sched.Start(ctx)

	queryService := services.NewQueryService(servicesStore, servicesStore, sched)

	creativeClient := platform.NewCreativeClient(outboundConfig(cfg.Platform, cfg.Platform.CreativeBaseURL, cfg.Platform.CreativeAPIKey, "creative"))
	fatigueStore := fatigue.NewPostgresStore(pool)
	fatigueQueue := fatigue.NewEnqueueAdapter(executorStore)
	detector := fatigue.New(
		cfg.TenantRegistry, fatigueStore, fatigueQueue, winnerIndex, creativeClient,
		getEnvDuration("FATIGUE_INTERVAL", 0),
		fatigue.WithAlerter(alertingService),
	)
	detector.Start(ctx)

	retentionStore := retention.NewPostgresStore(pool)
	retentionService := retention.NewService(cfg.Retention, retentionStore, retentionStore, winnerIndex)
	retentionService.Start(ctx)

	metricsServer := telemetry.NewServer(metricsAddr)
	metricsServer.StartAsync()

	apiServer := api.NewServer(dbClient, feedbackService, winnerService, queryService)

	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		serverErrCh <- apiServer.Start(":" + httpPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			slog.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Executor.GracefulShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	sched.Stop()
	detector.Stop()
	retentionService.Stop()
	executorPool.Stop()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}

	log.Println("adengine stopped")
}

// outboundConfig builds a platform.Config for one of the three upstream
// clients, applying the shared timeout/retry settings from
// config.PlatformConfig over the per-client base URL/API key.
func outboundConfig(p *config.PlatformConfig, baseURL, apiKey, breakerName string) platform.Config {
	c := platform.DefaultConfig(baseURL, apiKey)
	c.BreakerName = breakerName
	if p.RequestTimeout > 0 {
		c.Timeout = p.RequestTimeout
	}
	if p.MaxRetries > 0 {
		c.MaxRetries = p.MaxRetries
	}
	if p.RetryBaseDelay > 0 {
		c.RetryBase = p.RetryBaseDelay
	}
	return c
}
