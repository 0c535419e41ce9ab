package dto

import (
	"time"

	"github.com/google/uuid"
)

// BatchFileInput is one file reference in a batch submission.
type BatchFileInput struct {
	SourceID uuid.UUID `json:"source_id"`
	Model    string    `json:"model,omitempty"`
}

// CreateBatchRequest is the payload for submitting a multi-file batch.
type CreateBatchRequest struct {
	OwnerID       uuid.UUID        `json:"owner_id"`
	Files         []BatchFileInput `json:"files"`
	Operation     string           `json:"operation"`
	Priority      string           `json:"priority"`
	MaxConcurrent int              `json:"max_concurrent,omitempty"`
	Strategy      string           `json:"strategy,omitempty"`
}

// BatchResponse represents a batch session in API responses.
type BatchResponse struct {
	ID             uuid.UUID  `json:"id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	TotalFiles     int        `json:"total_files"`
	FilesCompleted int        `json:"files_completed"`
	FilesFailed    int        `json:"files_failed"`
	FilesPending   int        `json:"files_pending"`
	MaxConcurrent  int        `json:"max_concurrent"`
	Strategy       string     `json:"strategy"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// BatchDetailResponse is a batch session plus its constituent jobs.
type BatchDetailResponse struct {
	BatchResponse

	Jobs []JobResponse `json:"jobs"`
}

// CancelBatchResponse reports the outcome of a batch cancellation.
type CancelBatchResponse struct {
	BatchID       uuid.UUID `json:"batch_id"`
	JobsCancelled int       `json:"jobs_cancelled"`
	Status        string    `json:"status"`
}
