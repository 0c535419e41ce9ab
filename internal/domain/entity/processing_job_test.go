package entity

import (
	"testing"
	"time"

	"receiptflow/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessingJob(t *testing.T) {
	t.Run("should create pending job with correct defaults", func(t *testing.T) {
		// Arrange
		sourceID := uuid.New()

		// Act
		job := NewProcessingJob("receipt", sourceID, valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)

		// Assert
		require.NotNil(t, job)
		assert.NotEqual(t, uuid.Nil, job.ID())
		assert.Equal(t, "receipt", job.SourceType())
		assert.Equal(t, sourceID, job.SourceID())
		assert.Equal(t, valueobject.JobStatusPending, job.Status())
		assert.Equal(t, 0, job.RetryCount())
		assert.Equal(t, 3, job.MaxRetries())
		assert.Nil(t, job.ClaimedBy())
		assert.Nil(t, job.ClaimedAt())
		assert.Nil(t, job.BatchID())
		assert.WithinDuration(t, time.Now(), job.RunAfter(), time.Second)
	})

	t.Run("should create jobs with unique IDs", func(t *testing.T) {
		sourceID := uuid.New()

		job1 := NewProcessingJob("receipt", sourceID, valueobject.OperationReceiptExtraction, valueobject.JobPriorityLow, 3)
		job2 := NewProcessingJob("receipt", sourceID, valueobject.OperationEmbeddingGeneration, valueobject.JobPriorityLow, 3)

		assert.NotEqual(t, job1.ID(), job2.ID())
		assert.False(t, job1.Equal(job2))
	})
}

func TestProcessingJobClaim(t *testing.T) {
	t.Run("should claim pending job and record worker", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityHigh, 3)

		err := job.Claim("worker-1")

		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusClaimed, job.Status())
		require.NotNil(t, job.ClaimedBy())
		assert.Equal(t, "worker-1", *job.ClaimedBy())
		require.NotNil(t, job.ClaimedAt())
	})

	t.Run("should reject claiming a terminal job", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityHigh, 3)
		require.NoError(t, job.Claim("worker-1"))
		require.NoError(t, job.Start())
		require.NoError(t, job.Complete())

		err := job.Claim("worker-2")

		require.Error(t, err)
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_STATUS_TRANSITION", domainErr.Code())
	})
}

func TestProcessingJobFail(t *testing.T) {
	t.Run("retryable failure within budget requeues with backoff", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)
		require.NoError(t, job.Claim("worker-1"))
		require.NoError(t, job.Start())

		err := job.Fail("provider timeout", true)

		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusPending, job.Status())
		assert.Equal(t, 1, job.RetryCount())
		assert.Nil(t, job.ClaimedBy())
		assert.True(t, job.RunAfter().After(time.Now()), "requeued job must carry a backoff delay")
		require.NotNil(t, job.LastError())
		assert.Equal(t, "provider timeout", *job.LastError())
	})

	t.Run("non-retryable failure is terminal", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)
		require.NoError(t, job.Claim("worker-1"))
		require.NoError(t, job.Start())

		err := job.Fail("unsupported input type", false)

		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		assert.Equal(t, 0, job.RetryCount())
		require.NotNil(t, job.CompletedAt())
	})

	t.Run("retry count never exceeds max retries before terminal failure", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 2)

		for {
			require.NoError(t, job.Claim("worker-1"))
			require.NoError(t, job.Start())
			require.NoError(t, job.Fail("transient", true))
			assert.LessOrEqual(t, job.RetryCount(), job.MaxRetries())
			if job.IsTerminal() {
				break
			}
		}

		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		assert.Equal(t, 2, job.RetryCount())
	})
}

func TestProcessingJobRelease(t *testing.T) {
	t.Run("release returns claim without touching retry budget", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)
		require.NoError(t, job.Claim("worker-1"))

		err := job.Release(5 * time.Second)

		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusPending, job.Status())
		assert.Equal(t, 0, job.RetryCount())
		assert.Nil(t, job.ClaimedBy())
		assert.True(t, job.RunAfter().After(time.Now()))
	})

	t.Run("release of an unclaimed job is rejected", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)

		err := job.Release(time.Second)

		require.Error(t, err)
	})
}

func TestProcessingJobCancel(t *testing.T) {
	t.Run("cancel pending job is terminal", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityLow, 3)

		require.NoError(t, job.Cancel())

		assert.Equal(t, valueobject.JobStatusCancelled, job.Status())
		assert.True(t, job.IsTerminal())
	})

	t.Run("claimed job cannot be cancelled", func(t *testing.T) {
		job := NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityLow, 3)
		require.NoError(t, job.Claim("worker-1"))

		err := job.Cancel()

		require.Error(t, err)
	})
}

func TestRetryBackoff(t *testing.T) {
	t.Run("doubles per attempt and caps", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), RetryBackoff(0))
		assert.Equal(t, 2*time.Second, RetryBackoff(1))
		assert.Equal(t, 4*time.Second, RetryBackoff(2))
		assert.Equal(t, 8*time.Second, RetryBackoff(3))
		assert.Equal(t, 10*time.Minute, RetryBackoff(20))
	})
}
