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

const jobColumns = `
	id, source_type, source_id, batch_id, operation, priority, status,
	retry_count, max_retries, claimed_by, claimed_at, run_after,
	last_error, request_model, created_at, updated_at, completed_at`

// PostgreSQLJobQueue implements the JobQueue port on processing_jobs.
// Claims use FOR UPDATE SKIP LOCKED so concurrent workers never block each
// other and never receive the same job.
type PostgreSQLJobQueue struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLJobQueue creates a new PostgreSQL job queue repository.
func NewPostgreSQLJobQueue(pool *pgxpool.Pool) *PostgreSQLJobQueue {
	return &PostgreSQLJobQueue{
		pool: pool,
	}
}

// Enqueue persists a new job. When a non-terminal job for the same source
// and operation already exists, the existing job is returned unchanged.
func (r *PostgreSQLJobQueue) Enqueue(
	ctx context.Context,
	job *entity.ProcessingJob,
) (*entity.ProcessingJob, error) {
	if job == nil {
		return nil, ErrInvalidArgument
	}

	query := `
		INSERT INTO processing_jobs (` + jobColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (source_type, source_id, operation) WHERE status IN ('pending', 'claimed', 'processing')
		DO NOTHING
		RETURNING id`

	qi := GetQueryInterface(ctx, r.pool)
	var insertedID uuid.UUID
	err := qi.QueryRow(ctx, query,
		job.ID(),
		job.SourceType(),
		job.SourceID(),
		job.BatchID(),
		job.Operation().String(),
		job.Priority().String(),
		job.Status().String(),
		job.RetryCount(),
		job.MaxRetries(),
		job.ClaimedBy(),
		job.ClaimedAt(),
		job.RunAfter(),
		job.LastError(),
		job.RequestModel(),
		job.CreatedAt(),
		job.UpdatedAt(),
		job.CompletedAt(),
	).Scan(&insertedID)

	if err == nil {
		return job, nil
	}
	if !IsNotFoundError(err) {
		return nil, WrapError(err, "enqueue processing job")
	}

	// Conflict path: hand back the existing non-terminal twin.
	existing, err := r.findActiveTwin(ctx, job.SourceType(), job.SourceID(), job.Operation())
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, WrapError(ErrAlreadyExists, "enqueue processing job")
	}
	return existing, nil
}

func (r *PostgreSQLJobQueue) findActiveTwin(
	ctx context.Context,
	sourceType string,
	sourceID uuid.UUID,
	operation valueobject.JobOperation,
) (*entity.ProcessingJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM processing_jobs
		WHERE source_type = $1 AND source_id = $2 AND operation = $3
		  AND status IN ('pending', 'claimed', 'processing')
		LIMIT 1`

	qi := GetQueryInterface(ctx, r.pool)
	job, err := scanJob(qi.QueryRow(ctx, query, sourceType, sourceID, operation.String()))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "find active twin")
	}
	return job, nil
}

// ClaimNext atomically claims up to limit eligible jobs for workerID. The
// CTE locks candidate rows with SKIP LOCKED so racing workers partition the
// queue instead of serializing on it.
func (r *PostgreSQLJobQueue) ClaimNext(
	ctx context.Context,
	workerID string,
	limit int,
) ([]*entity.ProcessingJob, error) {
	if workerID == "" || limit <= 0 {
		return nil, ErrInvalidArgument
	}

	query := `
		WITH eligible AS (
			SELECT id
			FROM processing_jobs
			WHERE status = 'pending' AND run_after <= NOW()
			ORDER BY
				CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
				created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE processing_jobs j
		SET status = 'claimed',
			claimed_by = $1,
			claimed_at = NOW(),
			updated_at = NOW()
		FROM eligible
		WHERE j.id = eligible.id
		RETURNING ` + prefixColumns("j.")

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, WrapError(err, "claim next jobs")
	}
	defer rows.Close()

	var jobs []*entity.ProcessingJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, WrapError(scanErr, "scan claimed job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "claim next jobs")
	}

	return jobs, nil
}

// FindByID finds a processing job by its ID.
func (r *PostgreSQLJobQueue) FindByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	qi := GetQueryInterface(ctx, r.pool)
	job, err := scanJob(qi.QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "find processing job by ID")
	}
	return job, nil
}

// FindByBatchID returns every job belonging to a batch session.
func (r *PostgreSQLJobQueue) FindByBatchID(
	ctx context.Context,
	batchID uuid.UUID,
) ([]*entity.ProcessingJob, error) {
	if batchID == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE batch_id = $1 ORDER BY created_at ASC`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, batchID)
	if err != nil {
		return nil, WrapError(err, "find jobs by batch ID")
	}
	defer rows.Close()

	var jobs []*entity.ProcessingJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, WrapError(scanErr, "scan batch job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "find jobs by batch ID")
	}

	return jobs, nil
}

// Update persists the current state of a processing job.
func (r *PostgreSQLJobQueue) Update(ctx context.Context, job *entity.ProcessingJob) error {
	if job == nil {
		return ErrInvalidArgument
	}

	query := `
		UPDATE processing_jobs
		SET status = $2,
			retry_count = $3,
			claimed_by = $4,
			claimed_at = $5,
			run_after = $6,
			last_error = $7,
			request_model = $8,
			updated_at = $9,
			completed_at = $10,
			batch_id = $11
		WHERE id = $1`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query,
		job.ID(),
		job.Status().String(),
		job.RetryCount(),
		job.ClaimedBy(),
		job.ClaimedAt(),
		job.RunAfter(),
		job.LastError(),
		job.RequestModel(),
		job.UpdatedAt(),
		job.CompletedAt(),
		job.BatchID(),
	)
	if err != nil {
		return WrapError(err, "update processing job")
	}
	if tag.RowsAffected() == 0 {
		return WrapError(ErrNotFound, "update processing job")
	}

	return nil
}

// ReclaimStale releases claimed or processing jobs whose worker heartbeat is
// older than threshold, or whose worker row is gone entirely (a worker can
// deregister with a claim still on the books). Reclaimed jobs return to
// pending without a retry charge; the system is at-least-once, the
// interrupted attempt may have partially run.
func (r *PostgreSQLJobQueue) ReclaimStale(ctx context.Context, threshold time.Duration) (int, error) {
	query := `
		UPDATE processing_jobs j
		SET status = 'pending',
			claimed_by = NULL,
			claimed_at = NULL,
			run_after = NOW(),
			updated_at = NOW()
		WHERE j.status IN ('claimed', 'processing')
		  AND NOT EXISTS (
			SELECT 1
			FROM workers w
			WHERE w.id = j.claimed_by
			  AND w.last_heartbeat >= NOW() - $1::interval
		  )`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query, threshold.String())
	if err != nil {
		return 0, WrapError(err, "reclaim stale jobs")
	}

	return int(tag.RowsAffected()), nil
}

// CancelPendingByBatch cancels every still-pending job of a batch.
func (r *PostgreSQLJobQueue) CancelPendingByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	if batchID == uuid.Nil {
		return 0, ErrInvalidArgument
	}

	query := `
		UPDATE processing_jobs
		SET status = 'cancelled',
			updated_at = NOW(),
			completed_at = NOW()
		WHERE batch_id = $1 AND status = 'pending'`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query, batchID)
	if err != nil {
		return 0, WrapError(err, "cancel pending batch jobs")
	}

	return int(tag.RowsAffected()), nil
}

// CleanupTerminal deletes terminal jobs older than the retention window.
func (r *PostgreSQLJobQueue) CleanupTerminal(ctx context.Context, retention time.Duration) (int, error) {
	query := `
		DELETE FROM processing_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < NOW() - $1::interval`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query, retention.String())
	if err != nil {
		return 0, WrapError(err, "cleanup terminal jobs")
	}

	return int(tag.RowsAffected()), nil
}

// Statistics returns a point-in-time queue health snapshot.
func (r *PostgreSQLJobQueue) Statistics(ctx context.Context) (*outbound.QueueStatistics, error) {
	qi := GetQueryInterface(ctx, r.pool)

	stats := &outbound.QueueStatistics{
		CountsByStatus: make(map[valueobject.JobStatus]int),
	}

	rows, err := qi.Query(ctx, `SELECT status, COUNT(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, WrapError(err, "queue status counts")
	}
	defer rows.Close()

	for rows.Next() {
		var statusStr string
		var count int
		if scanErr := rows.Scan(&statusStr, &count); scanErr != nil {
			return nil, WrapError(scanErr, "scan status count")
		}
		status, statusErr := valueobject.NewJobStatus(statusStr)
		if statusErr != nil {
			continue
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "queue status counts")
	}

	var oldestSeconds *float64
	err = qi.QueryRow(ctx, `
		SELECT EXTRACT(EPOCH FROM NOW() - MIN(created_at))
		FROM processing_jobs
		WHERE status = 'pending'`).Scan(&oldestSeconds)
	if err != nil && !IsNotFoundError(err) {
		return nil, WrapError(err, "oldest pending age")
	}
	if oldestSeconds != nil {
		stats.OldestPendingAge = time.Duration(*oldestSeconds * float64(time.Second))
	}

	var avgMs *float64
	err = qi.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM completed_at - created_at) * 1000)
		FROM processing_jobs
		WHERE status = 'completed' AND completed_at > NOW() - INTERVAL '1 hour'`).Scan(&avgMs)
	if err != nil && !IsNotFoundError(err) {
		return nil, WrapError(err, "average processing time")
	}
	if avgMs != nil {
		stats.AvgProcessingMs = *avgMs
	}

	err = qi.QueryRow(ctx, `
		SELECT COUNT(*) FROM workers
		WHERE status = 'active' AND last_heartbeat > NOW() - INTERVAL '1 minute'`).Scan(&stats.ActiveWorkers)
	if err != nil {
		return nil, WrapError(err, "active worker count")
	}

	return stats, nil
}

// jobScanner matches pgx.Row and pgx.Rows for shared scanning.
type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(row jobScanner) (*entity.ProcessingJob, error) {
	var (
		id, sourceID         uuid.UUID
		batchID              *uuid.UUID
		sourceType           string
		operationStr         string
		priorityStr          string
		statusStr            string
		retryCount           int
		maxRetries           int
		claimedBy            *string
		claimedAt            *time.Time
		runAfter             time.Time
		lastError            *string
		requestModel         string
		createdAt, updatedAt time.Time
		completedAt          *time.Time
	)

	err := row.Scan(
		&id, &sourceType, &sourceID, &batchID, &operationStr, &priorityStr, &statusStr,
		&retryCount, &maxRetries, &claimedBy, &claimedAt, &runAfter,
		&lastError, &requestModel, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	operation, err := valueobject.NewJobOperation(operationStr)
	if err != nil {
		return nil, err
	}
	priority, err := valueobject.NewJobPriority(priorityStr)
	if err != nil {
		return nil, err
	}
	status, err := valueobject.NewJobStatus(statusStr)
	if err != nil {
		return nil, err
	}

	return entity.RestoreProcessingJob(
		id, sourceType, sourceID, batchID, operation, priority, status,
		retryCount, maxRetries, claimedBy, claimedAt, runAfter,
		lastError, requestModel, createdAt, updatedAt, completedAt,
	), nil
}

func prefixColumns(prefix string) string {
	cols := []string{
		"id", "source_type", "source_id", "batch_id", "operation", "priority", "status",
		"retry_count", "max_retries", "claimed_by", "claimed_at", "run_after",
		"last_error", "request_model", "created_at", "updated_at", "completed_at",
	}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += prefix + c
	}
	return out
}
