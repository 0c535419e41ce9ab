package entity

import (
	"time"

	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
)

// Attempt outcome labels stored in metric records.
const (
	MetricStatusSuccess = "success"
	MetricStatusFailure = "failure"
	MetricStatusRetry   = "retry"
)

// MetricRecord is one append-only row describing a single processing
// attempt. Records are never mutated; they back the operational dashboard
// and quota reconciliation.
type MetricRecord struct {
	ID             uuid.UUID
	OperationType  valueobject.JobOperation
	SourceID       uuid.UUID
	Status         string
	ProcessingTime time.Duration
	TokensUsed     int
	Provider       string
	Model          string
	ErrorType      string
	CreatedAt      time.Time
}

// NewMetricRecord creates a metric record for one attempt.
func NewMetricRecord(
	operation valueobject.JobOperation,
	sourceID uuid.UUID,
	status string,
	processingTime time.Duration,
	tokensUsed int,
	provider, model, errorType string,
) *MetricRecord {
	return &MetricRecord{
		ID:             uuid.New(),
		OperationType:  operation,
		SourceID:       sourceID,
		Status:         status,
		ProcessingTime: processingTime,
		TokensUsed:     tokensUsed,
		Provider:       provider,
		Model:          model,
		ErrorType:      errorType,
		CreatedAt:      time.Now(),
	}
}
