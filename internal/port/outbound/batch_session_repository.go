package outbound

import (
	"context"

	"receiptflow/internal/domain/entity"

	"github.com/google/uuid"
)

// BatchSessionRepository defines the outbound port for batch session
// persistence. Counter updates run inside the same transaction as the job
// terminal transition they reflect, so each job updates its session once.
type BatchSessionRepository interface {
	Save(ctx context.Context, batch *entity.BatchSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.BatchSession, error)
	FindByOwnerID(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*entity.BatchSession, int, error)
	Update(ctx context.Context, batch *entity.BatchSession) error

	// FindByIDForUpdate loads the session under a row lock so concurrent
	// terminal transitions serialize on the counters.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.BatchSession, error)
}

// WorkerRepository defines the outbound port for worker registration and
// heartbeat persistence.
type WorkerRepository interface {
	Register(ctx context.Context, worker *entity.WorkerRegistration) error
	Heartbeat(ctx context.Context, worker *entity.WorkerRegistration) error
	FindByID(ctx context.Context, workerID string) (*entity.WorkerRegistration, error)
	FindAll(ctx context.Context) ([]*entity.WorkerRegistration, error)
	Deregister(ctx context.Context, workerID string) error
}
