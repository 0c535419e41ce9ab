package worker

import (
	"context"
	"testing"
	"time"

	"receiptflow/internal/application/ratelimit"
	"receiptflow/internal/application/router"
	"receiptflow/internal/config"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopWorkerRepo struct{}

func (noopWorkerRepo) Register(_ context.Context, _ *entity.WorkerRegistration) error  { return nil }
func (noopWorkerRepo) Heartbeat(_ context.Context, _ *entity.WorkerRegistration) error { return nil }
func (noopWorkerRepo) FindByID(_ context.Context, _ string) (*entity.WorkerRegistration, error) {
	return nil, nil
}
func (noopWorkerRepo) FindAll(_ context.Context) ([]*entity.WorkerRegistration, error) {
	return nil, nil
}
func (noopWorkerRepo) Deregister(_ context.Context, _ string) error { return nil }

// blockingProvider signals each extraction start and holds the call open
// until release is closed.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) Name() string { return "gemini" }

func (p *blockingProvider) ExtractReceipt(ctx context.Context, req outbound.ExtractionRequest) (*outbound.ExtractionResult, error) {
	p.started <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &outbound.ExtractionResult{
		Extraction: &entity.ReceiptExtraction{
			SourceID: req.SourceID,
			Merchant: "Tesco",
			Total:    8.40,
			Currency: "MYR",
			FullText: "TESCO TOTAL 8.40",
		},
		TokensUsed: 100,
		Latency:    time.Millisecond,
	}, nil
}

func (p *blockingProvider) GenerateEmbedding(_ context.Context, _ string, _ string) (*outbound.EmbeddingResult, error) {
	return &outbound.EmbeddingResult{Vector: []float64{0.1}, Dimensions: 1}, nil
}

func (p *blockingProvider) ValidateAPIKey(_ context.Context) error { return nil }

func newDispatchFixture(t *testing.T, concurrency int, provider *blockingProvider) (*Service, *memoryQueue, *fakeSourceStore) {
	t.Helper()
	queue := &memoryQueue{}
	sources := newFakeSourceStore()
	resolver := &staticResolver{provider: provider, model: "gemini-2.5-flash"}
	jobRouter := router.NewRouter(resolver, ratelimit.NewQuotaTracker(nil, nil))
	processor := NewJobProcessor(queue, sources, jobRouter, &fakeRecorder{}, &fakeBatchProgress{}, nil, time.Minute)

	svc, err := NewService(config.WorkerConfig{
		Concurrency:    concurrency,
		ClaimBatchSize: 4,
		PollInterval:   10 * time.Millisecond,
	}, config.QueueConfig{}, queue, noopWorkerRepo{}, processor, nil)
	require.NoError(t, err)
	svc.registration = entity.NewWorkerRegistration(svc.id)
	return svc, queue, sources
}

func enqueuePendingJobs(t *testing.T, queue *memoryQueue, sources *fakeSourceStore, count int) {
	t.Helper()
	for range count {
		job := entity.NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)
		sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}
		_, err := queue.Enqueue(context.Background(), job)
		require.NoError(t, err)
	}
}

func TestService_ClaimAndDispatch(t *testing.T) {
	t.Run("should return from the claim cycle while jobs are still running", func(t *testing.T) {
		// Arrange
		provider := &blockingProvider{started: make(chan struct{}, 2), release: make(chan struct{})}
		svc, queue, sources := newDispatchFixture(t, 4, provider)
		enqueuePendingJobs(t, queue, sources, 2)

		// Act
		type claimResult struct {
			claimed int
			err     error
		}
		results := make(chan claimResult, 1)
		go func() {
			claimed, dispatchErr := svc.claimAndDispatch(context.Background())
			results <- claimResult{claimed, dispatchErr}
		}()

		// Assert
		var result claimResult
		select {
		case result = <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("claim cycle did not return while jobs were in flight")
		}
		require.NoError(t, result.err)
		assert.Equal(t, 2, result.claimed)

		for range 2 {
			select {
			case <-provider.started:
			case <-time.After(2 * time.Second):
				t.Fatal("dispatched job never reached the provider")
			}
		}
		close(provider.release)

		deadline := time.Now().Add(2 * time.Second)
		for !queue.allTerminal() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		require.True(t, queue.allTerminal(), "jobs did not finish after release")
		for _, job := range queue.jobs {
			assert.Equal(t, valueobject.JobStatusCompleted, job.Status())
		}
	})

	t.Run("should claim nothing while the pool is saturated", func(t *testing.T) {
		// Arrange
		provider := &blockingProvider{started: make(chan struct{}, 1), release: make(chan struct{})}
		svc, queue, sources := newDispatchFixture(t, 1, provider)
		enqueuePendingJobs(t, queue, sources, 1)

		claimed, err := svc.claimAndDispatch(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, claimed)
		select {
		case <-provider.started:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatched job never reached the provider")
		}
		enqueuePendingJobs(t, queue, sources, 3)

		// Act
		claimed, err = svc.claimAndDispatch(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 0, claimed)
		close(provider.release)
	})
}
