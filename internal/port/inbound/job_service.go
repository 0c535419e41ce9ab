// Package inbound defines the inbound ports (interfaces) for the application layer.
// These ports represent the entry points into the application's core business logic.
package inbound

import (
	"context"

	"receiptflow/internal/application/dto"

	"github.com/google/uuid"
)

// JobService defines the inbound port for single-job operations.
type JobService interface {
	EnqueueJob(ctx context.Context, request dto.EnqueueJobRequest) (*dto.JobResponse, error)
	GetJob(ctx context.Context, id uuid.UUID) (*dto.JobResponse, error)
}

// BatchService defines the inbound port for batch session operations.
type BatchService interface {
	CreateBatch(ctx context.Context, request dto.CreateBatchRequest) (*dto.BatchResponse, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*dto.BatchDetailResponse, error)
	CancelBatch(ctx context.Context, id uuid.UUID) (*dto.CancelBatchResponse, error)
}

// QueueStatisticsService defines the inbound port for queue monitoring.
type QueueStatisticsService interface {
	GetStatistics(ctx context.Context) (*dto.QueueStatisticsResponse, error)
	ListWorkers(ctx context.Context) (*dto.WorkerListResponse, error)
}

// HealthService defines the inbound port for health check operations.
type HealthService interface {
	GetHealth(ctx context.Context) (*dto.HealthResponse, error)
}
