package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"receiptflow/internal/adapter/inbound/api"
	"receiptflow/internal/adapter/outbound/messaging"
	"receiptflow/internal/adapter/outbound/repository"
	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/application/service"
	"receiptflow/internal/config"
	"receiptflow/internal/port/outbound"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// progressPublisher is a publisher that also exposes connection health.
// Both the NATS publisher and the noop publisher satisfy it.
type progressPublisher interface {
	outbound.ProgressPublisher
	outbound.PublisherHealth
}

// ServiceFactory creates and wires service instances for the API server.
type ServiceFactory struct {
	config *config.Config
}

// NewServiceFactory creates a new ServiceFactory
func NewServiceFactory(cfg *config.Config) *ServiceFactory {
	return &ServiceFactory{
		config: cfg,
	}
}

// createDatabasePool creates a database connection pool
func (sf *ServiceFactory) createDatabasePool() (*pgxpool.Pool, error) {
	return repository.NewDatabaseConnection(databaseConfig(sf.config))
}

// createProgressPublisher returns the NATS publisher when messaging is
// enabled, otherwise a noop that always reports healthy.
func (sf *ServiceFactory) createProgressPublisher() progressPublisher {
	return newProgressPublisher(sf.config)
}

// CreateServer creates a fully configured server instance
func (sf *ServiceFactory) CreateServer() (*api.Server, func(), error) {
	pool, err := sf.createDatabasePool()
	if err != nil {
		return nil, nil, err
	}

	tx := repository.NewTransactionManager(pool)
	queue := repository.NewPostgreSQLJobQueue(pool)
	batches := repository.NewPostgreSQLBatchSessionRepository(pool)
	workers := repository.NewPostgreSQLWorkerRepository(pool)
	publisher := sf.createProgressPublisher()

	jobService := service.NewDefaultJobService(queue, sf.config.Queue)
	batchService := service.NewDefaultBatchService(tx, batches, queue, sf.config.Batch, sf.config.Queue)
	statisticsService := service.NewDefaultQueueStatisticsService(queue, workers)
	healthService := service.NewDefaultHealthService(
		resolveVersion(),
		repository.NewDatabaseHealthChecker(pool),
		publisher,
	)

	server := api.NewServer(sf.config.API, jobService, batchService, statisticsService, healthService)

	cleanup := func() {
		if err := publisher.Close(); err != nil {
			slogger.ErrorNoCtx("Error closing progress publisher", slogger.Fields{"error": err.Error()})
		}
		pool.Close()
	}

	return server, cleanup, nil
}

// databaseConfig maps application config onto the repository pool config.
func databaseConfig(cfg *config.Config) repository.DatabaseConfig {
	dbConfig := repository.DatabaseConfig{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Database:       cfg.Database.Name,
		Username:       cfg.Database.User,
		Password:       cfg.Database.Password,
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MaxIdleConnections,
		SSLMode:        cfg.Database.SSLMode,
	}

	// Set defaults if not configured
	if dbConfig.Host == "" {
		dbConfig.Host = "localhost"
	}
	if dbConfig.Port == 0 {
		dbConfig.Port = 5432
	}
	if dbConfig.MaxConnections == 0 {
		dbConfig.MaxConnections = 10
	}
	if dbConfig.SSLMode == "" {
		dbConfig.SSLMode = "disable"
	}

	return dbConfig
}

// newProgressPublisher builds the batch progress publisher from config.
func newProgressPublisher(cfg *config.Config) progressPublisher {
	if !cfg.NATS.Enabled {
		return messaging.NoopProgressPublisher{}
	}

	publisher, err := messaging.NewNATSProgressPublisher(cfg.NATS, cfg.Batch.ProgressSubject)
	if err != nil {
		slogger.ErrorNoCtx("Failed to connect progress publisher, continuing without notifications", slogger.Fields{
			"error": err.Error(),
			"url":   cfg.NATS.URL,
		})
		return messaging.NoopProgressPublisher{}
	}
	return publisher
}

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Start the HTTP API server that provides REST endpoints for
job and batch session management.

The server provides endpoints for:
- Health checks
- Job enqueueing and status lookup
- Batch session creation, status, and cancellation
- Queue statistics and worker listing

Configuration is loaded from config files and environment variables.`,
	Run: runAPIServer,
}

func runAPIServer(_ *cobra.Command, _ []string) {
	cfg := GetConfig()

	serviceFactory := NewServiceFactory(cfg)

	server, cleanup, err := serviceFactory.CreateServer()
	if err != nil {
		slogger.ErrorNoCtx("Failed to create API server", slogger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer cleanup()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	slogger.InfoNoCtx("API server started", slogger.Fields{
		"host": cfg.API.Host,
		"port": cfg.API.Port,
	})

	gracefulShutdown(server, errChan)
}

// gracefulShutdown blocks until a signal or listener error, then drains the
// server.
func gracefulShutdown(server *api.Server, errChan chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slogger.InfoNoCtx("Received signal, initiating graceful shutdown", slogger.Fields{
			"signal": sig.String(),
		})
	case err := <-errChan:
		if err != nil {
			slogger.ErrorNoCtx("API server stopped unexpectedly", slogger.Fields{"error": err.Error()})
			os.Exit(1)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.ErrorNoCtx("Error during server shutdown", slogger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	slogger.InfoNoCtx("API server shut down gracefully", nil)
}

func init() {
	rootCmd.AddCommand(apiCmd)
}
