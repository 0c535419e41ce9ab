package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"receiptflow/internal/adapter/outbound/provider"
	"receiptflow/internal/application/ratelimit"
	"receiptflow/internal/application/router"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	updates []*entity.ProcessingJob
}

func (q *fakeQueue) Enqueue(_ context.Context, job *entity.ProcessingJob) (*entity.ProcessingJob, error) {
	return job, nil
}

func (q *fakeQueue) ClaimNext(_ context.Context, _ string, _ int) ([]*entity.ProcessingJob, error) {
	return nil, nil
}

func (q *fakeQueue) FindByID(_ context.Context, _ uuid.UUID) (*entity.ProcessingJob, error) {
	return nil, nil
}

func (q *fakeQueue) FindByBatchID(_ context.Context, _ uuid.UUID) ([]*entity.ProcessingJob, error) {
	return nil, nil
}

func (q *fakeQueue) Update(_ context.Context, job *entity.ProcessingJob) error {
	q.updates = append(q.updates, job)
	return nil
}

func (q *fakeQueue) ReclaimStale(_ context.Context, _ time.Duration) (int, error) { return 0, nil }

func (q *fakeQueue) CancelPendingByBatch(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

func (q *fakeQueue) CleanupTerminal(_ context.Context, _ time.Duration) (int, error) { return 0, nil }

func (q *fakeQueue) Statistics(_ context.Context) (*outbound.QueueStatistics, error) {
	return &outbound.QueueStatistics{}, nil
}

type fakeSourceStore struct {
	images      map[uuid.UUID]*outbound.SourceImage
	texts       map[uuid.UUID]string
	extractions []*entity.ReceiptExtraction
	embeddings  map[uuid.UUID][]float64
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{
		images:     make(map[uuid.UUID]*outbound.SourceImage),
		texts:      make(map[uuid.UUID]string),
		embeddings: make(map[uuid.UUID][]float64),
	}
}

func (s *fakeSourceStore) SaveImage(_ context.Context, sourceID uuid.UUID, image *outbound.SourceImage) error {
	s.images[sourceID] = image
	return nil
}

func (s *fakeSourceStore) LoadImage(_ context.Context, sourceID uuid.UUID) (*outbound.SourceImage, error) {
	return s.images[sourceID], nil
}

func (s *fakeSourceStore) LoadExtractedText(_ context.Context, sourceID uuid.UUID) (string, error) {
	text, ok := s.texts[sourceID]
	if !ok {
		return "", errors.New("no extraction for source")
	}
	return text, nil
}

func (s *fakeSourceStore) SaveExtraction(_ context.Context, extraction *entity.ReceiptExtraction) error {
	s.extractions = append(s.extractions, extraction)
	return nil
}

func (s *fakeSourceStore) SaveEmbedding(_ context.Context, sourceID uuid.UUID, _ string, vector []float64) error {
	s.embeddings[sourceID] = vector
	return nil
}

type fakeRecorder struct {
	records []*entity.MetricRecord
}

func (r *fakeRecorder) Record(_ context.Context, record *entity.MetricRecord) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeRecorder) FindByJobID(_ context.Context, _ uuid.UUID) ([]*entity.MetricRecord, error) {
	return r.records, nil
}

func (r *fakeRecorder) Summarize(_ context.Context, _ time.Time) ([]*outbound.MetricSummary, error) {
	return nil, nil
}

type fakeBatchProgress struct {
	outcomes []bool
	batchIDs []uuid.UUID
}

func (b *fakeBatchProgress) RecordJobOutcome(_ context.Context, batchID uuid.UUID, succeeded bool) error {
	b.batchIDs = append(b.batchIDs, batchID)
	b.outcomes = append(b.outcomes, succeeded)
	return nil
}

type scriptedProvider struct {
	name  string
	calls int
	errs  []error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) ExtractReceipt(_ context.Context, req outbound.ExtractionRequest) (*outbound.ExtractionResult, error) {
	index := p.calls
	p.calls++
	if index < len(p.errs) && p.errs[index] != nil {
		return nil, p.errs[index]
	}
	return &outbound.ExtractionResult{
		Extraction: &entity.ReceiptExtraction{
			SourceID: req.SourceID,
			Merchant: "99 Speedmart",
			Total:    12.80,
			Currency: "MYR",
			FullText: "99 SPEEDMART TOTAL 12.80",
		},
		TokensUsed: 640,
		Latency:    90 * time.Millisecond,
	}, nil
}

func (p *scriptedProvider) GenerateEmbedding(_ context.Context, _ string, _ string) (*outbound.EmbeddingResult, error) {
	p.calls++
	return &outbound.EmbeddingResult{Vector: []float64{0.5, 0.25}, Dimensions: 2, TokensUsed: 8}, nil
}

func (p *scriptedProvider) ValidateAPIKey(_ context.Context) error { return nil }

type staticResolver struct {
	provider outbound.ModelProvider
	model    string
}

func (r *staticResolver) Resolve(modelID string, _ valueobject.JobOperation) (outbound.ModelRoute, outbound.ModelProvider, error) {
	return outbound.ModelRoute{ModelID: modelID, Provider: r.provider.Name()}, r.provider, nil
}

func (r *staticResolver) DefaultModel(_ valueobject.JobOperation) (string, error) {
	return r.model, nil
}

type processorFixture struct {
	queue     *fakeQueue
	sources   *fakeSourceStore
	recorder  *fakeRecorder
	batches   *fakeBatchProgress
	provider  *scriptedProvider
	processor *JobProcessor
}

func newProcessorFixture(providerErrs []error, budgets []ratelimit.ProviderBudget) *processorFixture {
	provider := &scriptedProvider{name: "gemini", errs: providerErrs}
	resolver := &staticResolver{provider: provider, model: "gemini-2.5-flash"}
	jobRouter := router.NewRouter(resolver, ratelimit.NewQuotaTracker(nil, budgets))

	queue := &fakeQueue{}
	sources := newFakeSourceStore()
	recorder := &fakeRecorder{}
	batches := &fakeBatchProgress{}

	return &processorFixture{
		queue:     queue,
		sources:   sources,
		recorder:  recorder,
		batches:   batches,
		provider:  provider,
		processor: NewJobProcessor(queue, sources, jobRouter, recorder, batches, nil, time.Minute),
	}
}

func claimedExtractionJob(t *testing.T, batchID *uuid.UUID) *entity.ProcessingJob {
	t.Helper()
	job := entity.NewProcessingJob("receipt", uuid.New(), valueobject.OperationReceiptExtraction, valueobject.JobPriorityMedium, 3)
	if batchID != nil {
		require.NoError(t, job.AttachToBatch(*batchID))
	}
	require.NoError(t, job.Claim("worker-test-1"))
	return job
}

func TestJobProcessor_Process(t *testing.T) {
	t.Run("should complete job and persist extraction on success", func(t *testing.T) {
		// Arrange
		fixture := newProcessorFixture(nil, nil)
		job := claimedExtractionJob(t, nil)
		fixture.sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusCompleted, job.Status())
		require.Len(t, fixture.sources.extractions, 1)
		assert.Equal(t, job.SourceID(), fixture.sources.extractions[0].SourceID)
		require.Len(t, fixture.recorder.records, 1)
		assert.Equal(t, entity.MetricStatusSuccess, fixture.recorder.records[0].Status)
		assert.Equal(t, 640, fixture.recorder.records[0].TokensUsed)
	})

	t.Run("should report success to batch session", func(t *testing.T) {
		// Arrange
		fixture := newProcessorFixture(nil, nil)
		batchID := uuid.New()
		job := claimedExtractionJob(t, &batchID)
		fixture.sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		require.Len(t, fixture.batches.outcomes, 1)
		assert.True(t, fixture.batches.outcomes[0])
		assert.Equal(t, batchID, fixture.batches.batchIDs[0])
	})

	t.Run("should release job without burning retry budget on rate limit", func(t *testing.T) {
		// Arrange
		rateLimitErr := &outbound.ProviderError{
			Code:       outbound.ProviderErrCodeRateLimit,
			Type:       "server",
			Message:    "429 too many requests",
			RetryAfter: 30 * time.Second,
		}
		fixture := newProcessorFixture([]error{rateLimitErr}, []ratelimit.ProviderBudget{{
			Provider:          "gemini",
			RequestsPerMinute: 100,
			TokensPerMinute:   100000,
			Cooldown:          time.Minute,
		}})
		job := claimedExtractionJob(t, nil)
		fixture.sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusPending, job.Status())
		assert.Equal(t, 0, job.RetryCount())
		assert.True(t, job.RunAfter().After(time.Now().Add(20*time.Second)))
		require.Len(t, fixture.recorder.records, 1)
		assert.Equal(t, entity.MetricStatusRetry, fixture.recorder.records[0].Status)
		assert.Equal(t, outbound.ProviderErrCodeRateLimit, fixture.recorder.records[0].ErrorType)
	})

	t.Run("should requeue with incremented retry count on retryable failure", func(t *testing.T) {
		// Arrange
		serverErr := &outbound.ProviderError{
			Code:      outbound.ProviderErrCodeServer,
			Type:      "server",
			Message:   "upstream 503",
			Retryable: true,
		}
		fixture := newProcessorFixture([]error{serverErr}, nil)
		job := claimedExtractionJob(t, nil)
		fixture.sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusPending, job.Status())
		assert.Equal(t, 1, job.RetryCount())
		require.Len(t, fixture.recorder.records, 1)
		assert.Equal(t, entity.MetricStatusRetry, fixture.recorder.records[0].Status)
	})

	t.Run("should fail terminally on non-retryable failure and notify batch", func(t *testing.T) {
		// Arrange
		authErr := &outbound.ProviderError{
			Code:    outbound.ProviderErrCodeAuth,
			Type:    "client",
			Message: "invalid api key",
		}
		fixture := newProcessorFixture([]error{authErr}, nil)
		batchID := uuid.New()
		job := claimedExtractionJob(t, &batchID)
		fixture.sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		require.Len(t, fixture.batches.outcomes, 1)
		assert.False(t, fixture.batches.outcomes[0])
		require.Len(t, fixture.recorder.records, 1)
		assert.Equal(t, entity.MetricStatusFailure, fixture.recorder.records[0].Status)
	})

	t.Run("should fail terminally without provider call when image is missing", func(t *testing.T) {
		// Arrange
		fixture := newProcessorFixture(nil, nil)
		job := claimedExtractionJob(t, nil)

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		assert.Equal(t, 0, fixture.provider.calls)
	})

	t.Run("should fail terminally without retry when the requested model cannot run the operation", func(t *testing.T) {
		// Arrange
		table := `
defaults:
  receipt_extraction: vision-model
  embedding_generation: embed-model
models:
  - id: vision-model
    provider: gemini
    capabilities: [receipt_extraction]
  - id: embed-model
    provider: gemini
    capabilities: [embedding_generation]
`
		registry, parseErr := provider.ParseRegistry([]byte(table))
		require.NoError(t, parseErr)
		scripted := &scriptedProvider{name: "gemini"}
		registry.RegisterProvider(scripted)
		jobRouter := router.NewRouter(registry, ratelimit.NewQuotaTracker(nil, nil))

		queue := &fakeQueue{}
		sources := newFakeSourceStore()
		recorder := &fakeRecorder{}
		batches := &fakeBatchProgress{}
		processor := NewJobProcessor(queue, sources, jobRouter, recorder, batches, nil, time.Minute)

		batchID := uuid.New()
		job := claimedExtractionJob(t, &batchID)
		job.SetRequestModel("embed-model")
		sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		processErr := processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, processErr)
		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		assert.Equal(t, 0, job.RetryCount())
		assert.Equal(t, 0, scripted.calls)
		require.Len(t, recorder.records, 1)
		assert.Equal(t, entity.MetricStatusFailure, recorder.records[0].Status)
		assert.Equal(t, outbound.ProviderErrCodeInvalidInput, recorder.records[0].ErrorType)
		require.Len(t, batches.outcomes, 1)
		assert.False(t, batches.outcomes[0])
	})

	t.Run("should fail terminally on unclassified errors instead of retrying", func(t *testing.T) {
		// Arrange
		fixture := newProcessorFixture([]error{errors.New("panic in template rendering")}, nil)
		job := claimedExtractionJob(t, nil)
		fixture.sources.images[job.SourceID()] = &outbound.SourceImage{Data: []byte("img"), Format: "jpeg"}

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusFailed, job.Status())
		assert.Equal(t, 0, job.RetryCount())
		require.Len(t, fixture.recorder.records, 1)
		assert.Equal(t, entity.MetricStatusFailure, fixture.recorder.records[0].Status)
	})

	t.Run("should generate and persist embedding for embedding jobs", func(t *testing.T) {
		// Arrange
		fixture := newProcessorFixture(nil, nil)
		job := entity.NewProcessingJob("receipt", uuid.New(), valueobject.OperationEmbeddingGeneration, valueobject.JobPriorityLow, 3)
		require.NoError(t, job.Claim("worker-test-1"))
		fixture.sources.texts[job.SourceID()] = "99 SPEEDMART TOTAL 12.80"

		// Act
		err := fixture.processor.Process(context.Background(), job)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, valueobject.JobStatusCompleted, job.Status())
		assert.Len(t, fixture.sources.embeddings[job.SourceID()], 2)
	})
}
