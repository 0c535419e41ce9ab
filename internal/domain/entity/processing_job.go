package entity

import (
	"math"
	"time"

	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
)

// Backoff bounds for retryable failures.
const (
	retryBackoffBase = 2 * time.Second
	retryBackoffMax  = 10 * time.Minute
)

// ProcessingJob represents one unit of AI-processing work tied to a single
// source item and operation. Jobs are mutated only by workers and destroyed
// only by retention cleanup.
type ProcessingJob struct {
	id           uuid.UUID
	sourceType   string
	sourceID     uuid.UUID
	batchID      *uuid.UUID
	operation    valueobject.JobOperation
	priority     valueobject.JobPriority
	status       valueobject.JobStatus
	retryCount   int
	maxRetries   int
	claimedBy    *string
	claimedAt    *time.Time
	runAfter     time.Time
	lastError    *string
	requestModel string
	createdAt    time.Time
	updatedAt    time.Time
	completedAt  *time.Time
}

// NewProcessingJob creates a pending ProcessingJob entity.
func NewProcessingJob(
	sourceType string,
	sourceID uuid.UUID,
	operation valueobject.JobOperation,
	priority valueobject.JobPriority,
	maxRetries int,
) *ProcessingJob {
	now := time.Now()
	return &ProcessingJob{
		id:         uuid.New(),
		sourceType: sourceType,
		sourceID:   sourceID,
		operation:  operation,
		priority:   priority,
		status:     valueobject.JobStatusPending,
		retryCount: 0,
		maxRetries: maxRetries,
		runAfter:   now,
		createdAt:  now,
		updatedAt:  now,
	}
}

// RestoreProcessingJob creates a ProcessingJob entity from stored data.
func RestoreProcessingJob(
	id uuid.UUID,
	sourceType string,
	sourceID uuid.UUID,
	batchID *uuid.UUID,
	operation valueobject.JobOperation,
	priority valueobject.JobPriority,
	status valueobject.JobStatus,
	retryCount int,
	maxRetries int,
	claimedBy *string,
	claimedAt *time.Time,
	runAfter time.Time,
	lastError *string,
	requestModel string,
	createdAt time.Time,
	updatedAt time.Time,
	completedAt *time.Time,
) *ProcessingJob {
	return &ProcessingJob{
		id:           id,
		sourceType:   sourceType,
		sourceID:     sourceID,
		batchID:      batchID,
		operation:    operation,
		priority:     priority,
		status:       status,
		retryCount:   retryCount,
		maxRetries:   maxRetries,
		claimedBy:    claimedBy,
		claimedAt:    claimedAt,
		runAfter:     runAfter,
		lastError:    lastError,
		requestModel: requestModel,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
		completedAt:  completedAt,
	}
}

// ID returns the job ID.
func (j *ProcessingJob) ID() uuid.UUID {
	return j.id
}

// SourceType returns the kind of source item the job processes.
func (j *ProcessingJob) SourceType() string {
	return j.sourceType
}

// SourceID returns the stable handle of the source item.
func (j *ProcessingJob) SourceID() uuid.UUID {
	return j.sourceID
}

// BatchID returns the owning batch session ID, if any.
func (j *ProcessingJob) BatchID() *uuid.UUID {
	return j.batchID
}

// Operation returns the job operation.
func (j *ProcessingJob) Operation() valueobject.JobOperation {
	return j.operation
}

// Priority returns the scheduling priority.
func (j *ProcessingJob) Priority() valueobject.JobPriority {
	return j.priority
}

// Status returns the current job status.
func (j *ProcessingJob) Status() valueobject.JobStatus {
	return j.status
}

// RetryCount returns how many retryable failures the job has absorbed.
func (j *ProcessingJob) RetryCount() int {
	return j.retryCount
}

// MaxRetries returns the job's retry budget.
func (j *ProcessingJob) MaxRetries() int {
	return j.maxRetries
}

// ClaimedBy returns the ID of the worker holding the job, if claimed.
func (j *ProcessingJob) ClaimedBy() *string {
	return j.claimedBy
}

// ClaimedAt returns when the current claim was taken.
func (j *ProcessingJob) ClaimedAt() *time.Time {
	return j.claimedAt
}

// RunAfter returns the earliest time the job is eligible for a claim.
func (j *ProcessingJob) RunAfter() time.Time {
	return j.runAfter
}

// LastError returns the most recent error message, if any.
func (j *ProcessingJob) LastError() *string {
	return j.lastError
}

// RequestModel returns the caller's preferred model, empty for the default.
func (j *ProcessingJob) RequestModel() string {
	return j.requestModel
}

// CreatedAt returns the creation timestamp.
func (j *ProcessingJob) CreatedAt() time.Time {
	return j.createdAt
}

// UpdatedAt returns the last update timestamp.
func (j *ProcessingJob) UpdatedAt() time.Time {
	return j.updatedAt
}

// CompletedAt returns the terminal transition timestamp, if terminal.
func (j *ProcessingJob) CompletedAt() *time.Time {
	return j.completedAt
}

// IsTerminal returns true if the job is in a terminal state.
func (j *ProcessingJob) IsTerminal() bool {
	return j.status.IsTerminal()
}

// AttachToBatch associates the job with a batch session. Allowed only
// before the job has been claimed.
func (j *ProcessingJob) AttachToBatch(batchID uuid.UUID) error {
	if j.status != valueobject.JobStatusPending {
		return NewDomainError("cannot attach a non-pending job to a batch", "INVALID_STATUS_TRANSITION")
	}
	j.batchID = &batchID
	j.updatedAt = time.Now()
	return nil
}

// SetRequestModel records a caller model preference.
func (j *ProcessingJob) SetRequestModel(model string) {
	j.requestModel = model
	j.updatedAt = time.Now()
}

// Claim transitions the job to claimed and records the claiming worker.
// Claimed implies non-nil claimedBy and claimedAt.
func (j *ProcessingJob) Claim(workerID string) error {
	if !j.status.CanTransitionTo(valueobject.JobStatusClaimed) {
		return NewDomainError("cannot claim job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusClaimed
	j.claimedBy = &workerID
	j.claimedAt = &now
	j.updatedAt = now
	return nil
}

// Start marks a claimed job as processing.
func (j *ProcessingJob) Start() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusProcessing) {
		return NewDomainError("cannot start job in current status", "INVALID_STATUS_TRANSITION")
	}

	j.status = valueobject.JobStatusProcessing
	j.updatedAt = time.Now()
	return nil
}

// Complete marks the job as completed successfully.
func (j *ProcessingJob) Complete() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusCompleted) {
		return NewDomainError("cannot complete job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusCompleted
	j.completedAt = &now
	j.claimedBy = nil
	j.claimedAt = nil
	j.lastError = nil
	j.updatedAt = now
	return nil
}

// Fail records a failure. Retryable failures within the retry budget requeue
// the job with an exponential backoff delay; everything else is terminal.
func (j *ProcessingJob) Fail(errorMessage string, retryable bool) error {
	if !j.status.CanTransitionTo(valueobject.JobStatusFailed) &&
		!j.status.CanTransitionTo(valueobject.JobStatusPending) {
		return NewDomainError("cannot fail job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.lastError = &errorMessage
	j.claimedBy = nil
	j.claimedAt = nil
	j.updatedAt = now

	if retryable && j.retryCount < j.maxRetries {
		j.retryCount++
		j.status = valueobject.JobStatusPending
		j.runAfter = now.Add(RetryBackoff(j.retryCount))
		return nil
	}

	j.status = valueobject.JobStatusFailed
	j.completedAt = &now
	return nil
}

// Release returns a claimed job to pending without touching its retry budget.
// Used when rate-limiter admission is denied and for stale-worker reclaims.
func (j *ProcessingJob) Release(delay time.Duration) error {
	if !j.status.IsClaimed() {
		return NewDomainError("cannot release job that is not claimed", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusPending
	j.claimedBy = nil
	j.claimedAt = nil
	j.runAfter = now.Add(delay)
	j.updatedAt = now
	return nil
}

// Cancel marks a pending job cancelled-terminal. Jobs already claimed run
// to completion; cancelling them here is an error.
func (j *ProcessingJob) Cancel() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusCancelled) {
		return NewDomainError("cannot cancel job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusCancelled
	j.completedAt = &now
	j.updatedAt = now
	return nil
}

// Equal compares two ProcessingJob entities by identity.
func (j *ProcessingJob) Equal(other *ProcessingJob) bool {
	if other == nil {
		return false
	}
	return j.id == other.id
}

// RetryBackoff returns the delay applied before the given retry attempt
// becomes claimable again, doubling per attempt up to a fixed cap.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	delay := float64(retryBackoffBase) * math.Pow(2, float64(retryCount-1))
	if delay > float64(retryBackoffMax) {
		return retryBackoffMax
	}
	return time.Duration(delay)
}
