package repository

import (
	"context"
	"time"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLMetricsRepository implements the MetricsRecorder port on the
// append-only processing_metrics table. Rows are inserted and read, never
// updated.
type PostgreSQLMetricsRepository struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLMetricsRepository creates a new metrics repository.
func NewPostgreSQLMetricsRepository(pool *pgxpool.Pool) *PostgreSQLMetricsRepository {
	return &PostgreSQLMetricsRepository{
		pool: pool,
	}
}

// Record appends one attempt record.
func (r *PostgreSQLMetricsRepository) Record(ctx context.Context, record *entity.MetricRecord) error {
	if record == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO processing_metrics (
			id, operation_type, source_id, status, processing_time_ms,
			tokens_used, provider, model, error_type, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	qi := GetQueryInterface(ctx, r.pool)
	_, err := qi.Exec(ctx, query,
		record.ID,
		record.OperationType.String(),
		record.SourceID,
		record.Status,
		record.ProcessingTime.Milliseconds(),
		record.TokensUsed,
		record.Provider,
		record.Model,
		record.ErrorType,
		record.CreatedAt,
	)
	if err != nil {
		return WrapError(err, "record processing metric")
	}

	return nil
}

// FindByJobID returns every attempt record for a source, oldest first.
func (r *PostgreSQLMetricsRepository) FindByJobID(
	ctx context.Context,
	sourceID uuid.UUID,
) ([]*entity.MetricRecord, error) {
	if sourceID == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `
		SELECT id, operation_type, source_id, status, processing_time_ms,
			   tokens_used, provider, model, error_type, created_at
		FROM processing_metrics
		WHERE source_id = $1
		ORDER BY created_at ASC`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, sourceID)
	if err != nil {
		return nil, WrapError(err, "find metrics by source")
	}
	defer rows.Close()

	var records []*entity.MetricRecord
	for rows.Next() {
		var (
			id, srcID    uuid.UUID
			operationStr string
			status       string
			timeMs       int64
			tokensUsed   int
			provider     string
			model        string
			errorType    string
			createdAt    time.Time
		)
		if scanErr := rows.Scan(
			&id, &operationStr, &srcID, &status, &timeMs,
			&tokensUsed, &provider, &model, &errorType, &createdAt,
		); scanErr != nil {
			return nil, WrapError(scanErr, "scan metric record")
		}

		operation, opErr := valueobject.NewJobOperation(operationStr)
		if opErr != nil {
			return nil, WrapError(opErr, "scan metric record")
		}

		records = append(records, &entity.MetricRecord{
			ID:             id,
			OperationType:  operation,
			SourceID:       srcID,
			Status:         status,
			ProcessingTime: time.Duration(timeMs) * time.Millisecond,
			TokensUsed:     tokensUsed,
			Provider:       provider,
			Model:          model,
			ErrorType:      errorType,
			CreatedAt:      createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "find metrics by source")
	}

	return records, nil
}

// Summarize aggregates attempt outcomes per provider, model and status.
func (r *PostgreSQLMetricsRepository) Summarize(
	ctx context.Context,
	since time.Time,
) ([]*outbound.MetricSummary, error) {
	query := `
		SELECT provider, model, status, COUNT(*),
			   COALESCE(AVG(processing_time_ms), 0),
			   COALESCE(SUM(tokens_used), 0)
		FROM processing_metrics
		WHERE created_at >= $1
		GROUP BY provider, model, status
		ORDER BY provider, model, status`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, since)
	if err != nil {
		return nil, WrapError(err, "summarize metrics")
	}
	defer rows.Close()

	var summaries []*outbound.MetricSummary
	for rows.Next() {
		summary := &outbound.MetricSummary{}
		if scanErr := rows.Scan(
			&summary.Provider, &summary.Model, &summary.Status,
			&summary.Attempts, &summary.AvgLatencyMs, &summary.TotalTokens,
		); scanErr != nil {
			return nil, WrapError(scanErr, "scan metric summary")
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "summarize metrics")
	}

	return summaries, nil
}
