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

// DefaultJobService implements the JobService inbound port. Enqueueing is
// idempotent per source and operation: resubmitting while an active twin
// exists returns the twin instead of a duplicate.
type DefaultJobService struct {
	queue    outbound.JobQueue
	queueCfg config.QueueConfig
}

func NewDefaultJobService(queue outbound.JobQueue, queueCfg config.QueueConfig) *DefaultJobService {
	return &DefaultJobService{
		queue:    queue,
		queueCfg: queueCfg,
	}
}

// EnqueueJob validates and persists one processing job.
func (s *DefaultJobService) EnqueueJob(ctx context.Context, request dto.EnqueueJobRequest) (*dto.JobResponse, error) {
	job, err := s.buildJob(request)
	if err != nil {
		return nil, err
	}

	enqueued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if !enqueued.Equal(job) {
		slogger.Info(ctx, "Returning existing active job for duplicate submission", slogger.Fields2(
			"source_id", request.SourceID.String(),
			"job_id", enqueued.ID().String(),
		))
	}
	return jobToResponse(enqueued), nil
}

// GetJob looks up one job by ID.
func (s *DefaultJobService) GetJob(ctx context.Context, id uuid.UUID) (*dto.JobResponse, error) {
	job, err := s.queue.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return jobToResponse(job), nil
}

func (s *DefaultJobService) buildJob(request dto.EnqueueJobRequest) (*entity.ProcessingJob, error) {
	if request.SourceID == uuid.Nil {
		return nil, fmt.Errorf("%w: source_id is required", ErrValidation)
	}
	if request.SourceType == "" {
		return nil, fmt.Errorf("%w: source_type is required", ErrValidation)
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

	maxRetries := request.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.queueCfg.DefaultMaxRetries
	}

	job := entity.NewProcessingJob(request.SourceType, request.SourceID, operation, priority, maxRetries)
	if request.Model != "" {
		job.SetRequestModel(request.Model)
	}
	return job, nil
}

func jobToResponse(job *entity.ProcessingJob) *dto.JobResponse {
	return &dto.JobResponse{
		ID:          job.ID(),
		SourceType:  job.SourceType(),
		SourceID:    job.SourceID(),
		BatchID:     job.BatchID(),
		Operation:   job.Operation().String(),
		Priority:    job.Priority().String(),
		Status:      job.Status().String(),
		RetryCount:  job.RetryCount(),
		MaxRetries:  job.MaxRetries(),
		ClaimedBy:   job.ClaimedBy(),
		LastError:   job.LastError(),
		CreatedAt:   job.CreatedAt(),
		UpdatedAt:   job.UpdatedAt(),
		CompletedAt: job.CompletedAt(),
	}
}
