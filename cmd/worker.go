package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"receiptflow/internal/adapter/outbound/provider"
	"receiptflow/internal/adapter/outbound/provider/gemini"
	"receiptflow/internal/adapter/outbound/provider/openrouter"
	"receiptflow/internal/adapter/outbound/repository"
	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/application/common/telemetry"
	"receiptflow/internal/application/ratelimit"
	"receiptflow/internal/application/router"
	"receiptflow/internal/application/service"
	"receiptflow/internal/application/worker"
	"receiptflow/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// newWorkerCmd creates and returns the worker command.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the background worker service",
		Long: `Start the background worker service that processes jobs from the durable queue.

The worker service:
- Claims pending jobs from PostgreSQL in priority order
- Extracts receipt data and generates embeddings via AI providers
- Enforces per-provider rate limits with persisted quota windows
- Heartbeats its registration and reclaims jobs from dead workers

Configuration is loaded from config files and environment variables.`,
		Run: func(_ *cobra.Command, _ []string) {
			runWorkerService()
		},
	}
}

// runWorkerService starts and runs the worker service.
func runWorkerService() {
	cfg := GetConfig()

	slogger.InfoNoCtx("Starting worker service", slogger.Fields{
		"concurrency":   cfg.Worker.Concurrency,
		"poll_interval": cfg.Worker.PollInterval.String(),
	})

	shutdownTelemetry, err := telemetry.Setup("receiptflow-worker", resolveVersion())
	if err != nil {
		slogger.ErrorNoCtx("Failed to set up telemetry", slogger.Fields{"error": err.Error()})
		return
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slogger.ErrorNoCtx("Error shutting down telemetry", slogger.Fields{"error": err.Error()})
		}
	}()

	dbPool, err := setupDatabaseConnection(cfg)
	if err != nil {
		slogger.ErrorNoCtx("Failed to create database connection pool", slogger.Fields{"error": err.Error()})
		return
	}
	defer dbPool.Close()

	publisher := newProgressPublisher(cfg)
	defer publisher.Close()

	workerService, err := createWorkerService(cfg, dbPool, publisher)
	if err != nil {
		slogger.ErrorNoCtx("Failed to create worker service", slogger.Fields{"error": err.Error()})
		return
	}

	runUntilSignalled(workerService)
}

// setupDatabaseConnection initializes the database connection with defaults.
func setupDatabaseConnection(cfg *config.Config) (*pgxpool.Pool, error) {
	return repository.NewDatabaseConnection(databaseConfig(cfg))
}

// createWorkerService creates and configures the worker service with all dependencies.
func createWorkerService(cfg *config.Config, dbPool *pgxpool.Pool, publisher progressPublisher) (*worker.Service, error) {
	// Repository implementations
	tx := repository.NewTransactionManager(dbPool)
	queue := repository.NewPostgreSQLJobQueue(dbPool)
	batches := repository.NewPostgreSQLBatchSessionRepository(dbPool)
	workers := repository.NewPostgreSQLWorkerRepository(dbPool)
	sources := repository.NewPostgreSQLSourceStore(dbPool)
	metricsRepo := repository.NewPostgreSQLMetricsRepository(dbPool)
	quotaRepo := repository.NewPostgreSQLQuotaRepository(dbPool)

	// Model routing table and provider adapters
	registry, err := createModelRegistry(cfg)
	if err != nil {
		return nil, err
	}

	// Quota tracker, restored from persisted windows so a restart resumes
	// mid-window instead of forgetting recent usage.
	quota := ratelimit.NewQuotaTracker(quotaRepo, providerBudgets(cfg))
	if err := quota.Restore(context.Background()); err != nil {
		slogger.WarnNoCtx("Failed to restore quota windows, starting fresh", slogger.Fields{
			"error": err.Error(),
		})
	}

	jobRouter := router.NewRouter(registry, quota)
	batchProgress := service.NewBatchProgressService(tx, batches, publisher)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	jobMetrics, err := worker.NewJobMetrics(hostname)
	if err != nil {
		return nil, fmt.Errorf("create job metrics: %w", err)
	}

	processor := worker.NewJobProcessor(
		queue,
		sources,
		jobRouter,
		metricsRepo,
		batchProgress,
		jobMetrics,
		cfg.Worker.JobTimeout,
	)

	return worker.NewService(cfg.Worker, cfg.Queue, queue, workers, processor, jobMetrics)
}

// createModelRegistry loads the routing table and registers every provider
// with configured credentials.
func createModelRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry, err := provider.LoadRegistry(cfg.Models.RoutingFile)
	if err != nil {
		return nil, err
	}

	registered := 0

	if cfg.Gemini.APIKey != "" {
		client, err := gemini.NewClient(gemini.ClientConfig{
			APIKey:     cfg.Gemini.APIKey,
			BaseURL:    cfg.Gemini.BaseURL,
			Model:      cfg.Gemini.DefaultModel,
			Timeout:    cfg.Gemini.Timeout,
			MaxRetries: cfg.Gemini.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		registry.RegisterProvider(client)
		registered++
	}

	if cfg.OpenRouter.APIKey != "" {
		client, err := openrouter.NewClient(openrouter.ClientConfig{
			APIKey:     cfg.OpenRouter.APIKey,
			BaseURL:    cfg.OpenRouter.BaseURL,
			Model:      cfg.OpenRouter.DefaultModel,
			Timeout:    cfg.OpenRouter.Timeout,
			MaxRetries: cfg.OpenRouter.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create openrouter client: %w", err)
		}
		registry.RegisterProvider(client)
		registered++
	}

	if registered == 0 {
		return nil, fmt.Errorf("no provider credentials configured, set gemini.api_key or openrouter.api_key")
	}

	return registry, nil
}

// providerBudgets maps provider config onto rate-limit budgets.
func providerBudgets(cfg *config.Config) []ratelimit.ProviderBudget {
	return []ratelimit.ProviderBudget{
		{
			Provider:            "gemini",
			RequestsPerMinute:   cfg.Gemini.RequestsPerMinute,
			TokensPerMinute:     cfg.Gemini.TokensPerMinute,
			Cooldown:            cfg.Gemini.RateLimitCooldown,
			EstimatedCallTokens: cfg.Gemini.EstimatedCallTokens,
		},
		{
			Provider:            "openrouter",
			RequestsPerMinute:   cfg.OpenRouter.RequestsPerMinute,
			TokensPerMinute:     cfg.OpenRouter.TokensPerMinute,
			Cooldown:            cfg.OpenRouter.RateLimitCooldown,
			EstimatedCallTokens: cfg.OpenRouter.EstimatedCallTokens,
		},
	}
}

// runUntilSignalled runs the worker until SIGINT or SIGTERM, then lets the
// service drain in-flight jobs before returning.
func runUntilSignalled(workerService *worker.Service) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := workerService.Run(ctx); err != nil {
		slogger.ErrorNoCtx("Worker service stopped with error", slogger.Fields{"error": err.Error()})
		return
	}

	slogger.InfoNoCtx("Worker service shutdown completed successfully", nil)
}

func init() {
	rootCmd.AddCommand(newWorkerCmd())
}
