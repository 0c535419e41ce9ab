package outbound

import (
	"context"
	"time"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
)

// JobQueue defines the outbound port for durable processing-job persistence
// and claim coordination. Claiming is atomic across concurrent workers: a job
// is handed to at most one worker at a time.
type JobQueue interface {
	// Enqueue persists a new job. Enqueueing the same source type, source,
	// and operation while a non-terminal twin exists returns the existing
	// job instead.
	Enqueue(ctx context.Context, job *entity.ProcessingJob) (*entity.ProcessingJob, error)

	// ClaimNext atomically claims up to limit eligible jobs for workerID,
	// ordered by priority weight then enqueue time.
	ClaimNext(ctx context.Context, workerID string, limit int) ([]*entity.ProcessingJob, error)

	FindByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	FindByBatchID(ctx context.Context, batchID uuid.UUID) ([]*entity.ProcessingJob, error)
	Update(ctx context.Context, job *entity.ProcessingJob) error

	// ReclaimStale releases jobs whose worker heartbeat is older than
	// threshold back to pending and returns the number reclaimed.
	ReclaimStale(ctx context.Context, threshold time.Duration) (int, error)

	// CancelPendingByBatch cancels every still-pending job of a batch and
	// returns the number cancelled.
	CancelPendingByBatch(ctx context.Context, batchID uuid.UUID) (int, error)

	// CleanupTerminal deletes terminal jobs older than retention and returns
	// the number removed.
	CleanupTerminal(ctx context.Context, retention time.Duration) (int, error)

	Statistics(ctx context.Context) (*QueueStatistics, error)
}

// QueueStatistics is a point-in-time snapshot of queue health.
type QueueStatistics struct {
	CountsByStatus   map[valueobject.JobStatus]int `json:"counts_by_status"`
	OldestPendingAge time.Duration                 `json:"oldest_pending_age"`
	AvgProcessingMs  float64                       `json:"avg_processing_ms"`
	ActiveWorkers    int                           `json:"active_workers"`
}
