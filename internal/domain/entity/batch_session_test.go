package entity

import (
	"math/rand"
	"testing"

	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchSession(t *testing.T) {
	t.Run("should start running with all files pending", func(t *testing.T) {
		// Arrange
		ownerID := uuid.New()

		// Act
		batch, err := NewBatchSession(ownerID, 10, 4, "balanced")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.BatchStatusRunning, batch.Status())
		assert.Equal(t, 10, batch.TotalFiles())
		assert.Equal(t, 10, batch.FilesPending())
		assert.Equal(t, 0, batch.FilesCompleted())
		assert.Equal(t, 0, batch.FilesFailed())
		assert.True(t, batch.CountersConsistent())
	})

	t.Run("should reject empty batch", func(t *testing.T) {
		_, err := NewBatchSession(uuid.New(), 0, 4, "balanced")

		require.Error(t, err)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_BATCH_SIZE", domainErr.Code())
	})

	t.Run("should clamp non-positive concurrency to one", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 3, 0, "conservative")

		require.NoError(t, err)
		assert.Equal(t, 1, batch.MaxConcurrent())
	})
}

func TestBatchSessionDerivedStatus(t *testing.T) {
	t.Run("all files completed yields completed", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 3, 2, "balanced")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, batch.RecordJobCompleted())
		}

		assert.Equal(t, valueobject.BatchStatusCompleted, batch.Status())
		assert.True(t, batch.IsTerminal())
		require.NotNil(t, batch.CompletedAt())
	})

	t.Run("failures below threshold yield partial", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 10, 2, "balanced")
		require.NoError(t, err)

		require.NoError(t, batch.RecordJobFailed())
		for i := 0; i < 9; i++ {
			require.NoError(t, batch.RecordJobCompleted())
		}

		assert.Equal(t, valueobject.BatchStatusPartial, batch.Status())
	})

	t.Run("failures at threshold yield failed", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 4, 2, "balanced")
		require.NoError(t, err)

		require.NoError(t, batch.RecordJobFailed())
		require.NoError(t, batch.RecordJobFailed())
		require.NoError(t, batch.RecordJobCompleted())
		require.NoError(t, batch.RecordJobCompleted())

		assert.Equal(t, valueobject.BatchStatusFailed, batch.Status())
	})

	t.Run("stays running while any file is pending", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 2, 2, "balanced")
		require.NoError(t, err)

		require.NoError(t, batch.RecordJobCompleted())

		assert.Equal(t, valueobject.BatchStatusRunning, batch.Status())
		assert.Nil(t, batch.CompletedAt())
	})
}

func TestBatchSessionCounters(t *testing.T) {
	t.Run("counters stay consistent across random terminal orderings", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))

		for trial := 0; trial < 20; trial++ {
			total := 1 + rng.Intn(15)
			batch, err := NewBatchSession(uuid.New(), total, 4, "balanced")
			require.NoError(t, err)

			for i := 0; i < total; i++ {
				if rng.Intn(2) == 0 {
					require.NoError(t, batch.RecordJobCompleted())
				} else {
					require.NoError(t, batch.RecordJobFailed())
				}
				assert.True(t, batch.CountersConsistent())
			}

			assert.True(t, batch.IsTerminal())
			assert.Equal(t, 0, batch.FilesPending())
		}
	})

	t.Run("rejects terminal updates once all files are accounted for", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 1, 1, "balanced")
		require.NoError(t, err)
		require.NoError(t, batch.RecordJobCompleted())

		err = batch.RecordJobCompleted()

		require.Error(t, err)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "BATCH_ALREADY_TERMINAL", domainErr.Code())
	})
}

func TestBatchSessionCancel(t *testing.T) {
	t.Run("cancel running batch is terminal", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 5, 2, "balanced")
		require.NoError(t, err)
		require.NoError(t, batch.RecordJobCompleted())

		require.NoError(t, batch.Cancel())

		assert.Equal(t, valueobject.BatchStatusCancelled, batch.Status())
		assert.True(t, batch.IsTerminal())
	})

	t.Run("cancel is idempotent-rejected once terminal", func(t *testing.T) {
		batch, err := NewBatchSession(uuid.New(), 1, 1, "balanced")
		require.NoError(t, err)
		require.NoError(t, batch.RecordJobFailed())

		err = batch.Cancel()

		require.Error(t, err)
	})
}
