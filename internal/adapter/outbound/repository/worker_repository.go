package repository

import (
	"context"
	"time"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workerColumns = `
	id, status, last_heartbeat, current_job, processed_count, error_count,
	started_at, updated_at`

// PostgreSQLWorkerRepository implements the WorkerRepository port.
type PostgreSQLWorkerRepository struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLWorkerRepository creates a new worker repository.
func NewPostgreSQLWorkerRepository(pool *pgxpool.Pool) *PostgreSQLWorkerRepository {
	return &PostgreSQLWorkerRepository{
		pool: pool,
	}
}

// Register upserts the worker registration row. A restarted worker reuses
// its ID and takes over the previous row.
func (r *PostgreSQLWorkerRepository) Register(ctx context.Context, worker *entity.WorkerRegistration) error {
	if worker == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO workers (` + workerColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			current_job = EXCLUDED.current_job,
			started_at = EXCLUDED.started_at,
			updated_at = EXCLUDED.updated_at`

	qi := GetQueryInterface(ctx, r.pool)
	_, err := qi.Exec(ctx, query,
		worker.ID(),
		worker.Status().String(),
		worker.LastHeartbeat(),
		worker.CurrentJob(),
		worker.ProcessedCount(),
		worker.ErrorCount(),
		worker.StartedAt(),
		worker.UpdatedAt(),
	)
	if err != nil {
		return WrapError(err, "register worker")
	}

	return nil
}

// Heartbeat persists the worker's current liveness and progress counters.
func (r *PostgreSQLWorkerRepository) Heartbeat(ctx context.Context, worker *entity.WorkerRegistration) error {
	if worker == nil {
		return ErrInvalidArgument
	}

	query := `
		UPDATE workers
		SET status = $2,
			last_heartbeat = $3,
			current_job = $4,
			processed_count = $5,
			error_count = $6,
			updated_at = $7
		WHERE id = $1`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query,
		worker.ID(),
		worker.Status().String(),
		worker.LastHeartbeat(),
		worker.CurrentJob(),
		worker.ProcessedCount(),
		worker.ErrorCount(),
		worker.UpdatedAt(),
	)
	if err != nil {
		return WrapError(err, "worker heartbeat")
	}
	if tag.RowsAffected() == 0 {
		return WrapError(ErrNotFound, "worker heartbeat")
	}

	return nil
}

// FindByID finds a worker registration by its ID.
func (r *PostgreSQLWorkerRepository) FindByID(ctx context.Context, workerID string) (*entity.WorkerRegistration, error) {
	if workerID == "" {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`

	qi := GetQueryInterface(ctx, r.pool)
	worker, err := scanWorker(qi.QueryRow(ctx, query, workerID))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "find worker by ID")
	}
	return worker, nil
}

// FindAll returns every registered worker.
func (r *PostgreSQLWorkerRepository) FindAll(ctx context.Context) ([]*entity.WorkerRegistration, error) {
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY id ASC`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query)
	if err != nil {
		return nil, WrapError(err, "find all workers")
	}
	defer rows.Close()

	var workers []*entity.WorkerRegistration
	for rows.Next() {
		worker, scanErr := scanWorker(rows)
		if scanErr != nil {
			return nil, WrapError(scanErr, "scan worker")
		}
		workers = append(workers, worker)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "find all workers")
	}

	return workers, nil
}

// Deregister removes the worker registration row.
func (r *PostgreSQLWorkerRepository) Deregister(ctx context.Context, workerID string) error {
	if workerID == "" {
		return ErrInvalidArgument
	}

	qi := GetQueryInterface(ctx, r.pool)
	_, err := qi.Exec(ctx, `DELETE FROM workers WHERE id = $1`, workerID)
	if err != nil {
		return WrapError(err, "deregister worker")
	}

	return nil
}

func scanWorker(row jobScanner) (*entity.WorkerRegistration, error) {
	var (
		id                   string
		statusStr            string
		lastHeartbeat        time.Time
		currentJob           *uuid.UUID
		processedCount       int
		errorCount           int
		startedAt, updatedAt time.Time
	)

	err := row.Scan(
		&id, &statusStr, &lastHeartbeat, &currentJob, &processedCount, &errorCount,
		&startedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := valueobject.NewWorkerStatus(statusStr)
	if err != nil {
		return nil, err
	}

	return entity.RestoreWorkerRegistration(
		id, status, lastHeartbeat, currentJob, processedCount, errorCount,
		startedAt, updatedAt,
	), nil
}
