package dto

import (
	"time"

	"github.com/google/uuid"
)

// EnqueueJobRequest is the payload for submitting a single processing job.
type EnqueueJobRequest struct {
	SourceType string    `json:"source_type"`
	SourceID   uuid.UUID `json:"source_id"`
	Operation  string    `json:"operation"`
	Priority   string    `json:"priority"`
	Model      string    `json:"model,omitempty"`
	MaxRetries int       `json:"max_retries,omitempty"`
}

// JobResponse represents a processing job in API responses.
type JobResponse struct {
	ID          uuid.UUID  `json:"id"`
	SourceType  string     `json:"source_type"`
	SourceID    uuid.UUID  `json:"source_id"`
	BatchID     *uuid.UUID `json:"batch_id,omitempty"`
	Operation   string     `json:"operation"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	ClaimedBy   *string    `json:"claimed_by,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// QueueStatisticsResponse is the queue health snapshot returned by the API.
type QueueStatisticsResponse struct {
	CountsByStatus    map[string]int `json:"counts_by_status"`
	OldestPendingSecs float64        `json:"oldest_pending_seconds"`
	AvgProcessingMs   float64        `json:"avg_processing_ms"`
	ActiveWorkers     int            `json:"active_workers"`
}

// WorkerResponse represents a registered worker in API responses.
type WorkerResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	LastHeartbeat  time.Time  `json:"last_heartbeat"`
	CurrentJob     *uuid.UUID `json:"current_job,omitempty"`
	ProcessedCount int        `json:"processed_count"`
	ErrorCount     int        `json:"error_count"`
}

// WorkerListResponse wraps the registered worker listing.
type WorkerListResponse struct {
	Workers []WorkerResponse `json:"workers"`
}

// HealthResponse reports overall service health and dependency status.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyHealth `json:"dependencies,omitempty"`
}

// DependencyHealth reports one dependency's health.
type DependencyHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
