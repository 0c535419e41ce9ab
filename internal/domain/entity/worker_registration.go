package entity

import (
	"time"

	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
)

// WorkerRegistration is a worker process's row in the shared store. Workers
// share no state except through the queue; liveness is judged solely from
// the heartbeat timestamp.
type WorkerRegistration struct {
	id             string
	status         valueobject.WorkerStatus
	lastHeartbeat  time.Time
	currentJob     *uuid.UUID
	processedCount int
	errorCount     int
	startedAt      time.Time
	updatedAt      time.Time
}

// NewWorkerRegistration registers a new active worker.
func NewWorkerRegistration(id string) *WorkerRegistration {
	now := time.Now()
	return &WorkerRegistration{
		id:            id,
		status:        valueobject.WorkerStatusIdle,
		lastHeartbeat: now,
		startedAt:     now,
		updatedAt:     now,
	}
}

// RestoreWorkerRegistration creates a WorkerRegistration from stored data.
func RestoreWorkerRegistration(
	id string,
	status valueobject.WorkerStatus,
	lastHeartbeat time.Time,
	currentJob *uuid.UUID,
	processedCount int,
	errorCount int,
	startedAt time.Time,
	updatedAt time.Time,
) *WorkerRegistration {
	return &WorkerRegistration{
		id:             id,
		status:         status,
		lastHeartbeat:  lastHeartbeat,
		currentJob:     currentJob,
		processedCount: processedCount,
		errorCount:     errorCount,
		startedAt:      startedAt,
		updatedAt:      updatedAt,
	}
}

// ID returns the worker ID.
func (w *WorkerRegistration) ID() string {
	return w.id
}

// Status returns the worker status.
func (w *WorkerRegistration) Status() valueobject.WorkerStatus {
	return w.status
}

// LastHeartbeat returns the most recent heartbeat timestamp.
func (w *WorkerRegistration) LastHeartbeat() time.Time {
	return w.lastHeartbeat
}

// CurrentJob returns the job the worker is processing, if any.
func (w *WorkerRegistration) CurrentJob() *uuid.UUID {
	return w.currentJob
}

// ProcessedCount returns the number of jobs this worker has completed.
func (w *WorkerRegistration) ProcessedCount() int {
	return w.processedCount
}

// ErrorCount returns the number of jobs this worker has failed.
func (w *WorkerRegistration) ErrorCount() int {
	return w.errorCount
}

// StartedAt returns when the worker registered.
func (w *WorkerRegistration) StartedAt() time.Time {
	return w.startedAt
}

// UpdatedAt returns the last update timestamp.
func (w *WorkerRegistration) UpdatedAt() time.Time {
	return w.updatedAt
}

// Heartbeat refreshes the liveness timestamp.
func (w *WorkerRegistration) Heartbeat() {
	now := time.Now()
	w.lastHeartbeat = now
	w.updatedAt = now
}

// BeginJob marks the worker active on the given job.
func (w *WorkerRegistration) BeginJob(jobID uuid.UUID) {
	now := time.Now()
	w.status = valueobject.WorkerStatusActive
	w.currentJob = &jobID
	w.updatedAt = now
}

// FinishJob records the job outcome and returns the worker to idle.
func (w *WorkerRegistration) FinishJob(succeeded bool) {
	now := time.Now()
	w.status = valueobject.WorkerStatusIdle
	w.currentJob = nil
	if succeeded {
		w.processedCount++
	} else {
		w.errorCount++
	}
	w.updatedAt = now
}

// Stop marks the worker stopped for graceful shutdown.
func (w *WorkerRegistration) Stop() {
	now := time.Now()
	w.status = valueobject.WorkerStatusStopped
	w.currentJob = nil
	w.updatedAt = now
}

// IsStale reports whether the heartbeat is older than the liveness
// threshold. A stale worker is presumed crashed or hung and its claimed
// jobs become reclaimable. This is a best-effort failure detector, not
// consensus: a reclaimed job may be processed more than once, so anything
// consuming job results must tolerate at-least-once delivery.
func (w *WorkerRegistration) IsStale(threshold time.Duration) bool {
	return time.Since(w.lastHeartbeat) > threshold
}
