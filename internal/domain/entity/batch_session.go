package entity

import (
	"time"

	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
)

// DefaultFailureThreshold is the fraction of failed files above which a
// finished batch reports failed instead of partial.
const DefaultFailureThreshold = 0.5

// BatchSession aggregates a user's multi-file submission and tracks overall
// progress. Invariant: completed + failed + pending == total at all times;
// each constituent job's terminal transition updates the session exactly once.
type BatchSession struct {
	id               uuid.UUID
	ownerID          uuid.UUID
	totalFiles       int
	filesCompleted   int
	filesFailed      int
	filesPending     int
	maxConcurrent    int
	strategy         string
	status           valueobject.BatchStatus
	failureThreshold float64
	createdAt        time.Time
	updatedAt        time.Time
	completedAt      *time.Time
}

// NewBatchSession creates a running batch session for totalFiles files.
func NewBatchSession(ownerID uuid.UUID, totalFiles, maxConcurrent int, strategy string) (*BatchSession, error) {
	if totalFiles <= 0 {
		return nil, NewDomainError("batch must contain at least one file", "INVALID_BATCH_SIZE")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	now := time.Now()
	return &BatchSession{
		id:               uuid.New(),
		ownerID:          ownerID,
		totalFiles:       totalFiles,
		filesPending:     totalFiles,
		maxConcurrent:    maxConcurrent,
		strategy:         strategy,
		status:           valueobject.BatchStatusRunning,
		failureThreshold: DefaultFailureThreshold,
		createdAt:        now,
		updatedAt:        now,
	}, nil
}

// RestoreBatchSession creates a BatchSession entity from stored data.
func RestoreBatchSession(
	id uuid.UUID,
	ownerID uuid.UUID,
	totalFiles int,
	filesCompleted int,
	filesFailed int,
	filesPending int,
	maxConcurrent int,
	strategy string,
	status valueobject.BatchStatus,
	failureThreshold float64,
	createdAt time.Time,
	updatedAt time.Time,
	completedAt *time.Time,
) *BatchSession {
	return &BatchSession{
		id:               id,
		ownerID:          ownerID,
		totalFiles:       totalFiles,
		filesCompleted:   filesCompleted,
		filesFailed:      filesFailed,
		filesPending:     filesPending,
		maxConcurrent:    maxConcurrent,
		strategy:         strategy,
		status:           status,
		failureThreshold: failureThreshold,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
		completedAt:      completedAt,
	}
}

// ID returns the batch session ID.
func (b *BatchSession) ID() uuid.UUID {
	return b.id
}

// OwnerID returns the submitting user's ID.
func (b *BatchSession) OwnerID() uuid.UUID {
	return b.ownerID
}

// TotalFiles returns the number of files in the submission.
func (b *BatchSession) TotalFiles() int {
	return b.totalFiles
}

// FilesCompleted returns the count of successfully processed files.
func (b *BatchSession) FilesCompleted() int {
	return b.filesCompleted
}

// FilesFailed returns the count of terminally failed files.
func (b *BatchSession) FilesFailed() int {
	return b.filesFailed
}

// FilesPending returns the count of files not yet terminal.
func (b *BatchSession) FilesPending() int {
	return b.filesPending
}

// MaxConcurrent returns the session's concurrency cap.
func (b *BatchSession) MaxConcurrent() int {
	return b.maxConcurrent
}

// Strategy returns the processing strategy label.
func (b *BatchSession) Strategy() string {
	return b.strategy
}

// Status returns the derived batch status.
func (b *BatchSession) Status() valueobject.BatchStatus {
	return b.status
}

// FailureThreshold returns the partial-vs-failed cutoff fraction.
func (b *BatchSession) FailureThreshold() float64 {
	return b.failureThreshold
}

// SetFailureThreshold overrides the partial-vs-failed cutoff.
func (b *BatchSession) SetFailureThreshold(threshold float64) {
	if threshold > 0 && threshold <= 1 {
		b.failureThreshold = threshold
	}
}

// CreatedAt returns the creation timestamp.
func (b *BatchSession) CreatedAt() time.Time {
	return b.createdAt
}

// UpdatedAt returns the last update timestamp.
func (b *BatchSession) UpdatedAt() time.Time {
	return b.updatedAt
}

// CompletedAt returns the terminal timestamp, if terminal.
func (b *BatchSession) CompletedAt() *time.Time {
	return b.completedAt
}

// IsTerminal returns true once the batch has reached a terminal status.
func (b *BatchSession) IsTerminal() bool {
	return b.status.IsTerminal()
}

// RecordJobCompleted moves one pending file to completed.
func (b *BatchSession) RecordJobCompleted() error {
	return b.recordTerminal(true)
}

// RecordJobFailed moves one pending file to failed.
func (b *BatchSession) RecordJobFailed() error {
	return b.recordTerminal(false)
}

// recordTerminal applies one constituent job's terminal transition and
// re-derives the batch status from the counters.
func (b *BatchSession) recordTerminal(completed bool) error {
	if b.IsTerminal() {
		return NewDomainError("batch session is already terminal", "BATCH_ALREADY_TERMINAL")
	}
	if b.filesPending <= 0 {
		return NewDomainError("batch session has no pending files", "BATCH_COUNTER_UNDERFLOW")
	}

	b.filesPending--
	if completed {
		b.filesCompleted++
	} else {
		b.filesFailed++
	}
	b.updatedAt = time.Now()
	b.deriveStatus()
	return nil
}

// Cancel marks the batch cancelled and removes its remaining pending files
// from the counters' pending column; jobs already claimed run to completion
// and still report through RecordJob* before cancellation is observed.
func (b *BatchSession) Cancel() error {
	if b.IsTerminal() {
		return NewDomainError("batch session is already terminal", "BATCH_ALREADY_TERMINAL")
	}

	now := time.Now()
	b.status = valueobject.BatchStatusCancelled
	b.completedAt = &now
	b.updatedAt = now
	return nil
}

// deriveStatus computes the status purely from the counters:
// pending > 0 is running; otherwise completed when nothing failed, else
// partial or failed per the configured threshold.
func (b *BatchSession) deriveStatus() {
	if b.filesPending > 0 {
		b.status = valueobject.BatchStatusRunning
		return
	}

	now := time.Now()
	b.completedAt = &now

	if b.filesFailed == 0 {
		b.status = valueobject.BatchStatusCompleted
		return
	}

	failedFraction := float64(b.filesFailed) / float64(b.totalFiles)
	if failedFraction >= b.failureThreshold {
		b.status = valueobject.BatchStatusFailed
	} else {
		b.status = valueobject.BatchStatusPartial
	}
}

// CountersConsistent reports whether completed+failed+pending == total.
func (b *BatchSession) CountersConsistent() bool {
	return b.filesCompleted+b.filesFailed+b.filesPending == b.totalFiles
}
