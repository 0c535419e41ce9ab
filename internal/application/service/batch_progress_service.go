package service

import (
	"context"
	"fmt"
	"time"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
)

// BatchProgressService folds job outcomes into batch session counters.
// Counter updates run in the same transaction as the row lock on the
// session, so each terminal job is counted exactly once regardless of how
// many workers finish jobs concurrently.
type BatchProgressService struct {
	tx        outbound.TransactionManager
	batches   outbound.BatchSessionRepository
	publisher outbound.ProgressPublisher
}

func NewBatchProgressService(
	tx outbound.TransactionManager,
	batches outbound.BatchSessionRepository,
	publisher outbound.ProgressPublisher,
) *BatchProgressService {
	return &BatchProgressService{
		tx:        tx,
		batches:   batches,
		publisher: publisher,
	}
}

// RecordJobOutcome counts one terminal job against its batch session. The
// progress event goes out after commit, best-effort.
func (s *BatchProgressService) RecordJobOutcome(ctx context.Context, batchID uuid.UUID, succeeded bool) error {
	var event *outbound.BatchProgressEvent

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := s.batches.FindByIDForUpdate(txCtx, batchID)
		if err != nil {
			return fmt.Errorf("lock batch session: %w", err)
		}
		if batch == nil {
			return fmt.Errorf("batch session %s not found", batchID)
		}
		if batch.Status() == valueobject.BatchStatusCancelled {
			// Late job results against a cancelled batch are dropped.
			return nil
		}

		if succeeded {
			err = batch.RecordJobCompleted()
		} else {
			err = batch.RecordJobFailed()
		}
		if err != nil {
			return fmt.Errorf("record job outcome: %w", err)
		}

		if err := s.batches.Update(txCtx, batch); err != nil {
			return fmt.Errorf("update batch session: %w", err)
		}

		event = &outbound.BatchProgressEvent{
			BatchID:        batch.ID(),
			TotalFiles:     batch.TotalFiles(),
			FilesCompleted: batch.FilesCompleted(),
			FilesFailed:    batch.FilesFailed(),
			FilesPending:   batch.FilesPending(),
			Status:         batch.Status().String(),
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		}
		return nil
	})
	if err != nil {
		return err
	}

	if event != nil && s.publisher != nil {
		if pubErr := s.publisher.PublishBatchProgress(ctx, *event); pubErr != nil {
			slogger.Warn(ctx, "Failed to publish batch progress event", slogger.Fields2(
				"batch_id", batchID.String(),
				"error", pubErr.Error(),
			))
		}
	}
	return nil
}
