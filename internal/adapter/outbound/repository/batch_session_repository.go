package repository

import (
	"context"
	"time"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const batchColumns = `
	id, owner_id, total_files, files_completed, files_failed, files_pending,
	max_concurrent, strategy, status, failure_threshold,
	created_at, updated_at, completed_at`

// PostgreSQLBatchSessionRepository implements the BatchSessionRepository port.
type PostgreSQLBatchSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLBatchSessionRepository creates a new batch session repository.
func NewPostgreSQLBatchSessionRepository(pool *pgxpool.Pool) *PostgreSQLBatchSessionRepository {
	return &PostgreSQLBatchSessionRepository{
		pool: pool,
	}
}

// Save saves a batch session to the database.
func (r *PostgreSQLBatchSessionRepository) Save(ctx context.Context, batch *entity.BatchSession) error {
	if batch == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO batch_sessions (` + batchColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	qi := GetQueryInterface(ctx, r.pool)
	_, err := qi.Exec(ctx, query,
		batch.ID(),
		batch.OwnerID(),
		batch.TotalFiles(),
		batch.FilesCompleted(),
		batch.FilesFailed(),
		batch.FilesPending(),
		batch.MaxConcurrent(),
		batch.Strategy(),
		batch.Status().String(),
		batch.FailureThreshold(),
		batch.CreatedAt(),
		batch.UpdatedAt(),
		batch.CompletedAt(),
	)
	if err != nil {
		return WrapError(err, "save batch session")
	}

	return nil
}

// FindByID finds a batch session by its ID.
func (r *PostgreSQLBatchSessionRepository) FindByID(
	ctx context.Context,
	id uuid.UUID,
) (*entity.BatchSession, error) {
	return r.findByID(ctx, id, false)
}

// FindByIDForUpdate loads the session under a row lock so concurrent job
// terminal transitions serialize on the counters.
func (r *PostgreSQLBatchSessionRepository) FindByIDForUpdate(
	ctx context.Context,
	id uuid.UUID,
) (*entity.BatchSession, error) {
	return r.findByID(ctx, id, true)
}

func (r *PostgreSQLBatchSessionRepository) findByID(
	ctx context.Context,
	id uuid.UUID,
	forUpdate bool,
) (*entity.BatchSession, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + batchColumns + ` FROM batch_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	qi := GetQueryInterface(ctx, r.pool)
	batch, err := scanBatchSession(qi.QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "find batch session by ID")
	}
	return batch, nil
}

// FindByOwnerID returns a page of an owner's batch sessions, newest first.
func (r *PostgreSQLBatchSessionRepository) FindByOwnerID(
	ctx context.Context,
	ownerID uuid.UUID,
	limit, offset int,
) ([]*entity.BatchSession, int, error) {
	if ownerID == uuid.Nil || limit <= 0 || offset < 0 {
		return nil, 0, ErrInvalidArgument
	}

	qi := GetQueryInterface(ctx, r.pool)

	var totalCount int
	err := qi.QueryRow(ctx,
		`SELECT COUNT(*) FROM batch_sessions WHERE owner_id = $1`, ownerID,
	).Scan(&totalCount)
	if err != nil {
		return nil, 0, WrapError(err, "count batch sessions")
	}

	query := `
		SELECT ` + batchColumns + `
		FROM batch_sessions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := qi.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, WrapError(err, "find batch sessions by owner")
	}
	defer rows.Close()

	var batches []*entity.BatchSession
	for rows.Next() {
		batch, scanErr := scanBatchSession(rows)
		if scanErr != nil {
			return nil, 0, WrapError(scanErr, "scan batch session")
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, WrapError(err, "find batch sessions by owner")
	}

	return batches, totalCount, nil
}

// Update persists the current state of a batch session.
func (r *PostgreSQLBatchSessionRepository) Update(ctx context.Context, batch *entity.BatchSession) error {
	if batch == nil {
		return ErrInvalidArgument
	}

	query := `
		UPDATE batch_sessions
		SET files_completed = $2,
			files_failed = $3,
			files_pending = $4,
			status = $5,
			updated_at = $6,
			completed_at = $7
		WHERE id = $1`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query,
		batch.ID(),
		batch.FilesCompleted(),
		batch.FilesFailed(),
		batch.FilesPending(),
		batch.Status().String(),
		batch.UpdatedAt(),
		batch.CompletedAt(),
	)
	if err != nil {
		return WrapError(err, "update batch session")
	}
	if tag.RowsAffected() == 0 {
		return WrapError(ErrNotFound, "update batch session")
	}

	return nil
}

func scanBatchSession(row jobScanner) (*entity.BatchSession, error) {
	var (
		id, ownerID          uuid.UUID
		totalFiles           int
		filesCompleted       int
		filesFailed          int
		filesPending         int
		maxConcurrent        int
		strategy             string
		statusStr            string
		failureThreshold     float64
		createdAt, updatedAt time.Time
		completedAt          *time.Time
	)

	err := row.Scan(
		&id, &ownerID, &totalFiles, &filesCompleted, &filesFailed, &filesPending,
		&maxConcurrent, &strategy, &statusStr, &failureThreshold,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := valueobject.NewBatchStatus(statusStr)
	if err != nil {
		return nil, err
	}

	return entity.RestoreBatchSession(
		id, ownerID, totalFiles, filesCompleted, filesFailed, filesPending,
		maxConcurrent, strategy, status, failureThreshold,
		createdAt, updatedAt, completedAt,
	), nil
}
