package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"receiptflow/internal/application/ratelimit"
	"receiptflow/internal/application/router"
	"receiptflow/internal/application/service"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryQueue is a claim-capable in-memory queue for pipeline tests.
type memoryQueue struct {
	mu   sync.Mutex
	jobs []*entity.ProcessingJob
}

func (q *memoryQueue) Enqueue(_ context.Context, job *entity.ProcessingJob) (*entity.ProcessingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *memoryQueue) ClaimNext(_ context.Context, workerID string, limit int) ([]*entity.ProcessingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var claimed []*entity.ProcessingJob
	for _, job := range q.jobs {
		if len(claimed) == limit {
			break
		}
		if job.Status() == valueobject.JobStatusPending && !job.RunAfter().After(time.Now()) {
			if err := job.Claim(workerID); err == nil {
				claimed = append(claimed, job)
			}
		}
	}
	return claimed, nil
}

func (q *memoryQueue) FindByID(_ context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.ID() == id {
			return job, nil
		}
	}
	return nil, nil
}

func (q *memoryQueue) FindByBatchID(_ context.Context, batchID uuid.UUID) ([]*entity.ProcessingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var jobs []*entity.ProcessingJob
	for _, job := range q.jobs {
		if job.BatchID() != nil && *job.BatchID() == batchID {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (q *memoryQueue) Update(_ context.Context, _ *entity.ProcessingJob) error { return nil }

func (q *memoryQueue) ReclaimStale(_ context.Context, _ time.Duration) (int, error) { return 0, nil }

func (q *memoryQueue) CancelPendingByBatch(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

func (q *memoryQueue) CleanupTerminal(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

func (q *memoryQueue) Statistics(_ context.Context) (*outbound.QueueStatistics, error) {
	return &outbound.QueueStatistics{}, nil
}

func (q *memoryQueue) allTerminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if !job.IsTerminal() {
			return false
		}
	}
	return true
}

type memoryBatchRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*entity.BatchSession
}

func (r *memoryBatchRepo) Save(_ context.Context, batch *entity.BatchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID()] = batch
	return nil
}

func (r *memoryBatchRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.BatchSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[id], nil
}

func (r *memoryBatchRepo) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*entity.BatchSession, error) {
	return r.FindByID(nil, id)
}

func (r *memoryBatchRepo) FindByOwnerID(_ context.Context, _ uuid.UUID, _, _ int) ([]*entity.BatchSession, int, error) {
	return nil, 0, nil
}

func (r *memoryBatchRepo) Update(_ context.Context, _ *entity.BatchSession) error { return nil }

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// rateLimitingProvider answers 429 for the first rateLimited calls, then
// succeeds.
type rateLimitingProvider struct {
	mu          sync.Mutex
	rateLimited int
	calls       int
}

func (p *rateLimitingProvider) Name() string { return "gemini" }

func (p *rateLimitingProvider) ExtractReceipt(_ context.Context, req outbound.ExtractionRequest) (*outbound.ExtractionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.rateLimited > 0 {
		p.rateLimited--
		return nil, &outbound.ProviderError{
			Code:       outbound.ProviderErrCodeRateLimit,
			Type:       "server",
			Message:    "429 too many requests",
			RetryAfter: 10 * time.Millisecond,
		}
	}
	return &outbound.ExtractionResult{
		Extraction: &entity.ReceiptExtraction{
			SourceID: req.SourceID,
			Merchant: "Mydin",
			Total:    31.20,
			Currency: "MYR",
			FullText: "MYDIN TOTAL 31.20",
		},
		TokensUsed: 400,
		Latency:    5 * time.Millisecond,
	}, nil
}

func (p *rateLimitingProvider) GenerateEmbedding(_ context.Context, _ string, _ string) (*outbound.EmbeddingResult, error) {
	return &outbound.EmbeddingResult{Vector: []float64{0.1}, Dimensions: 1}, nil
}

func (p *rateLimitingProvider) ValidateAPIKey(_ context.Context) error { return nil }

// TestPipeline_BatchDrain pushes a ten-file batch through claim and process
// cycles with the first two provider calls rate limited. Every file must
// complete, the rate-limited attempts must not consume retry budget, and
// each attempt must leave a metric record.
func TestPipeline_BatchDrain(t *testing.T) {
	// Arrange
	queue := &memoryQueue{}
	sources := newFakeSourceStore()
	recorder := &fakeRecorder{}
	provider := &rateLimitingProvider{rateLimited: 2}
	resolver := &staticResolver{provider: provider, model: "gemini-2.5-flash"}
	quota := ratelimit.NewQuotaTracker(nil, []ratelimit.ProviderBudget{{
		Provider:          "gemini",
		RequestsPerMinute: 1000,
		TokensPerMinute:   1000000,
		Cooldown:          10 * time.Millisecond,
	}})
	jobRouter := router.NewRouter(resolver, quota)

	batchRepo := &memoryBatchRepo{batches: make(map[uuid.UUID]*entity.BatchSession)}
	batch, err := entity.NewBatchSession(uuid.New(), 10, 4, "parallel")
	require.NoError(t, err)
	require.NoError(t, batchRepo.Save(context.Background(), batch))
	progress := service.NewBatchProgressService(passthroughTx{}, batchRepo, nil)

	processor := NewJobProcessor(queue, sources, jobRouter, recorder, progress, nil, time.Second)

	for range 10 {
		job := entity.NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)
		require.NoError(t, job.AttachToBatch(batch.ID()))
		sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}
		_, err := queue.Enqueue(context.Background(), job)
		require.NoError(t, err)
	}

	// Act
	deadline := time.Now().Add(5 * time.Second)
	for !queue.allTerminal() && time.Now().Before(deadline) {
		claimed, err := queue.ClaimNext(context.Background(), "worker-pipeline-1", 10)
		require.NoError(t, err)
		for _, job := range claimed {
			require.NoError(t, processor.Process(context.Background(), job))
		}
		if len(claimed) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	// Assert
	require.True(t, queue.allTerminal(), "batch did not drain before the deadline")
	for _, job := range queue.jobs {
		assert.Equal(t, valueobject.JobStatusCompleted, job.Status())
		assert.Equal(t, 0, job.RetryCount())
	}

	assert.Equal(t, valueobject.BatchStatusCompleted, batch.Status())
	assert.Equal(t, 10, batch.FilesCompleted())
	assert.True(t, batch.CountersConsistent())

	retries := 0
	successes := 0
	for _, record := range recorder.records {
		switch record.Status {
		case entity.MetricStatusRetry:
			retries++
			assert.Equal(t, outbound.ProviderErrCodeRateLimit, record.ErrorType)
		case entity.MetricStatusSuccess:
			successes++
		}
	}
	assert.Equal(t, 2, retries)
	assert.Equal(t, 10, successes)
	assert.Len(t, sources.extractions, 10)
}
