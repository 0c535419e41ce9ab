package outbound

import (
	"context"
	"time"

	"receiptflow/internal/domain/entity"

	"github.com/google/uuid"
)

// MetricsRecorder defines the outbound port for the append-only processing
// metrics log. Records are facts about attempts and are never updated.
type MetricsRecorder interface {
	Record(ctx context.Context, record *entity.MetricRecord) error
	FindByJobID(ctx context.Context, jobID uuid.UUID) ([]*entity.MetricRecord, error)
	Summarize(ctx context.Context, since time.Time) ([]*MetricSummary, error)
}

// MetricSummary aggregates attempt outcomes per provider and model over a
// reporting window.
type MetricSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
}
