package service

import (
	"context"
	"fmt"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/application/dto"
	"receiptflow/internal/config"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
)

// DefaultBatchService implements the BatchService inbound port. A batch is
// one session row plus one queue job per file; the session and its jobs are
// created in a single transaction so a batch never partially exists.
type DefaultBatchService struct {
	tx       outbound.TransactionManager
	batches  outbound.BatchSessionRepository
	queue    outbound.JobQueue
	batchCfg config.BatchConfig
	queueCfg config.QueueConfig
}

func NewDefaultBatchService(
	tx outbound.TransactionManager,
	batches outbound.BatchSessionRepository,
	queue outbound.JobQueue,
	batchCfg config.BatchConfig,
	queueCfg config.QueueConfig,
) *DefaultBatchService {
	return &DefaultBatchService{
		tx:       tx,
		batches:  batches,
		queue:    queue,
		batchCfg: batchCfg,
		queueCfg: queueCfg,
	}
}

// CreateBatch opens a session and enqueues one job per file.
func (s *DefaultBatchService) CreateBatch(ctx context.Context, request dto.CreateBatchRequest) (*dto.BatchResponse, error) {
	if err := s.validateCreate(request); err != nil {
		return nil, err
	}

	operation, err := valueobject.NewJobOperation(request.Operation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	priority := valueobject.JobPriorityMedium
	if request.Priority != "" {
		priority, err = valueobject.NewJobPriority(request.Priority)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	maxConcurrent := request.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = s.batchCfg.MaxConcurrent
	}
	strategy := request.Strategy
	if strategy == "" {
		strategy = s.batchCfg.DefaultStrategy
	}

	batch, err := entity.NewBatchSession(request.OwnerID, len(request.Files), maxConcurrent, strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	batch.SetFailureThreshold(s.batchCfg.FailureThreshold)

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.batches.Save(txCtx, batch); err != nil {
			return fmt.Errorf("save batch session: %w", err)
		}
		for _, file := range request.Files {
			job := entity.NewProcessingJob("receipt", file.SourceID, operation, priority, s.queueCfg.DefaultMaxRetries)
			if err := job.AttachToBatch(batch.ID()); err != nil {
				return fmt.Errorf("attach job to batch: %w", err)
			}
			if file.Model != "" {
				job.SetRequestModel(file.Model)
			}
			enqueued, err := s.queue.Enqueue(txCtx, job)
			if err != nil {
				return fmt.Errorf("enqueue batch job for source %s: %w", file.SourceID, err)
			}
			// An active twin from outside this batch would leave the
			// session counting a file no job reports back for, so the
			// whole submission rolls back.
			if !enqueued.Equal(job) {
				return fmt.Errorf("%w: source %s already has an active %s job",
					ErrValidation, file.SourceID, operation)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slogger.Info(ctx, "Batch session created", slogger.Fields{
		"batch_id":    batch.ID().String(),
		"total_files": batch.TotalFiles(),
		"operation":   operation.String(),
	})
	return batchToResponse(batch), nil
}

// GetBatch returns a session with its jobs.
func (s *DefaultBatchService) GetBatch(ctx context.Context, id uuid.UUID) (*dto.BatchDetailResponse, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find batch: %w", err)
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}

	jobs, err := s.queue.FindByBatchID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find batch jobs: %w", err)
	}

	detail := &dto.BatchDetailResponse{
		BatchResponse: *batchToResponse(batch),
		Jobs:          make([]dto.JobResponse, 0, len(jobs)),
	}
	for _, job := range jobs {
		detail.Jobs = append(detail.Jobs, *jobToResponse(job))
	}
	return detail, nil
}

// CancelBatch cancels the session and its still-pending jobs. Claimed jobs
// run to completion; their late results are dropped against the cancelled
// session.
func (s *DefaultBatchService) CancelBatch(ctx context.Context, id uuid.UUID) (*dto.CancelBatchResponse, error) {
	var (
		cancelled int
		status    string
	)

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := s.batches.FindByIDForUpdate(txCtx, id)
		if err != nil {
			return fmt.Errorf("lock batch session: %w", err)
		}
		if batch == nil {
			return ErrBatchNotFound
		}

		if err := batch.Cancel(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}

		cancelled, err = s.queue.CancelPendingByBatch(txCtx, id)
		if err != nil {
			return fmt.Errorf("cancel pending batch jobs: %w", err)
		}
		if err := s.batches.Update(txCtx, batch); err != nil {
			return fmt.Errorf("update batch session: %w", err)
		}
		status = batch.Status().String()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slogger.Info(ctx, "Batch session cancelled", slogger.Fields2(
		"batch_id", id.String(),
		"jobs_cancelled", cancelled,
	))
	return &dto.CancelBatchResponse{
		BatchID:       id,
		JobsCancelled: cancelled,
		Status:        status,
	}, nil
}

func (s *DefaultBatchService) validateCreate(request dto.CreateBatchRequest) error {
	if request.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: owner_id is required", ErrValidation)
	}
	if len(request.Files) == 0 {
		return fmt.Errorf("%w: batch must contain at least one file", ErrValidation)
	}
	if len(request.Files) > s.batchCfg.MaxFiles {
		return fmt.Errorf("%w: batch exceeds maximum of %d files", ErrValidation, s.batchCfg.MaxFiles)
	}
	seen := make(map[uuid.UUID]struct{}, len(request.Files))
	for _, file := range request.Files {
		if file.SourceID == uuid.Nil {
			return fmt.Errorf("%w: every file needs a source_id", ErrValidation)
		}
		if _, dup := seen[file.SourceID]; dup {
			return fmt.Errorf("%w: duplicate source_id %s in batch", ErrValidation, file.SourceID)
		}
		seen[file.SourceID] = struct{}{}
	}
	return nil
}

func batchToResponse(batch *entity.BatchSession) *dto.BatchResponse {
	return &dto.BatchResponse{
		ID:             batch.ID(),
		OwnerID:        batch.OwnerID(),
		TotalFiles:     batch.TotalFiles(),
		FilesCompleted: batch.FilesCompleted(),
		FilesFailed:    batch.FilesFailed(),
		FilesPending:   batch.FilesPending(),
		MaxConcurrent:  batch.MaxConcurrent(),
		Strategy:       batch.Strategy(),
		Status:         batch.Status().String(),
		CreatedAt:      batch.CreatedAt(),
		UpdatedAt:      batch.UpdatedAt(),
		CompletedAt:    batch.CompletedAt(),
	}
}
