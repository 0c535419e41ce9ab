package outbound

import (
	"context"

	"github.com/google/uuid"
)

// ProgressPublisher defines the outbound port for advisory batch progress
// notifications. Publishing is best-effort: queue coordination never depends
// on a delivered event, so a failed publish is logged and dropped.
type ProgressPublisher interface {
	PublishBatchProgress(ctx context.Context, event BatchProgressEvent) error
	Close() error
}

// BatchProgressEvent is one progress notification for a batch session.
type BatchProgressEvent struct {
	BatchID        uuid.UUID `json:"batch_id"`
	TotalFiles     int       `json:"total_files"`
	FilesCompleted int       `json:"files_completed"`
	FilesFailed    int       `json:"files_failed"`
	FilesPending   int       `json:"files_pending"`
	Status         string    `json:"status"`
	Timestamp      string    `json:"timestamp"`
}

// PublisherHealthStatus reports the connection state of a progress publisher.
type PublisherHealthStatus struct {
	Connected  bool   `json:"connected"`
	LastError  string `json:"last_error,omitempty"`
	Reconnects int    `json:"reconnects"`
}

// PublisherHealth exposes health monitoring for progress publishers.
type PublisherHealth interface {
	GetConnectionHealth() PublisherHealthStatus
}
