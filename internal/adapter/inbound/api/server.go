package api

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"receiptflow/internal/config"
	"receiptflow/internal/port/inbound"
)

// Server is the HTTP API surface of the pipeline.
type Server struct {
	httpServer *http.Server
}

// NewServer wires handlers, middleware, and the HTTP server.
func NewServer(
	cfg config.APIConfig,
	jobService inbound.JobService,
	batchService inbound.BatchService,
	statisticsService inbound.QueueStatisticsService,
	healthService inbound.HealthService,
) *Server {
	errorHandler := NewErrorHandler()

	mux := NewRouter(
		NewJobHandler(jobService, errorHandler),
		NewBatchHandler(batchService, errorHandler),
		NewQueueHandler(statisticsService, errorHandler),
		NewHealthHandler(healthService, errorHandler),
	)

	handler := Chain(mux,
		RecoveryMiddleware(),
		CorrelationMiddleware(),
		LoggingMiddleware(),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
