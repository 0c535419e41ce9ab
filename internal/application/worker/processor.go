package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/application/router"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
)

// BatchProgressTracker receives terminal job outcomes for batch
// bookkeeping.
type BatchProgressTracker interface {
	RecordJobOutcome(ctx context.Context, batchID uuid.UUID, succeeded bool) error
}

// JobProcessor runs one claimed job end to end: load the input, dispatch it
// through the router, persist the result, and move the job to its next
// queue state. Every attempt leaves a metric record behind.
type JobProcessor struct {
	queue    outbound.JobQueue
	sources  outbound.SourceStore
	router   *router.Router
	recorder outbound.MetricsRecorder
	batches  BatchProgressTracker
	metrics  *JobMetrics
	timeout  time.Duration
}

// NewJobProcessor creates a processor for claimed jobs.
func NewJobProcessor(
	queue outbound.JobQueue,
	sources outbound.SourceStore,
	jobRouter *router.Router,
	recorder outbound.MetricsRecorder,
	batches BatchProgressTracker,
	metrics *JobMetrics,
	timeout time.Duration,
) *JobProcessor {
	return &JobProcessor{
		queue:    queue,
		sources:  sources,
		router:   jobRouter,
		recorder: recorder,
		batches:  batches,
		metrics:  metrics,
		timeout:  timeout,
	}
}

// Process drives a claimed job through one attempt. Errors returned here
// mean queue bookkeeping itself failed; provider and parse failures are
// absorbed into the job's state.
func (p *JobProcessor) Process(ctx context.Context, job *entity.ProcessingJob) error {
	started := time.Now()

	if err := job.Start(); err != nil {
		return fmt.Errorf("start job %s: %w", job.ID(), err)
	}
	if err := p.queue.Update(ctx, job); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	attemptCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	provider, tokens, err := p.dispatch(attemptCtx, job)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		return p.finishCompleted(ctx, job, provider, tokens, elapsed)
	case isRateLimited(err):
		var rateLimited *router.RateLimitedError
		errors.As(err, &rateLimited)
		return p.finishRateLimited(ctx, job, rateLimited, elapsed)
	default:
		return p.finishFailed(ctx, job, provider, err, elapsed)
	}
}

// dispatch routes the job by operation and persists the provider's answer.
func (p *JobProcessor) dispatch(ctx context.Context, job *entity.ProcessingJob) (provider string, tokens int, err error) {
	switch job.Operation() {
	case valueobject.OperationReceiptExtraction:
		image, loadErr := p.sources.LoadImage(ctx, job.SourceID())
		if loadErr != nil {
			return "", 0, &storageFailure{fmt.Errorf("load source image: %w", loadErr)}
		}
		if image == nil {
			return "", 0, &outbound.ProviderError{
				Code:    outbound.ProviderErrCodeInvalidInput,
				Type:    "client",
				Message: fmt.Sprintf("no image stored for source %s", job.SourceID()),
			}
		}

		outcome, routeErr := p.router.RouteExtraction(ctx, job.SourceID(), job.RequestModel(), image)
		if routeErr != nil {
			return "", 0, routeErr
		}
		outcome.Extraction.SourceID = job.SourceID()
		outcome.Extraction.ExtractedAt = time.Now()
		if saveErr := p.sources.SaveExtraction(ctx, outcome.Extraction); saveErr != nil {
			return outcome.Provider, outcome.TokensUsed, &storageFailure{fmt.Errorf("save extraction: %w", saveErr)}
		}
		return outcome.Provider, outcome.TokensUsed, nil

	case valueobject.OperationEmbeddingGeneration:
		text, loadErr := p.sources.LoadExtractedText(ctx, job.SourceID())
		if loadErr != nil {
			return "", 0, &storageFailure{fmt.Errorf("load extracted text: %w", loadErr)}
		}

		outcome, routeErr := p.router.RouteEmbedding(ctx, job.RequestModel(), text)
		if routeErr != nil {
			return "", 0, routeErr
		}
		if saveErr := p.sources.SaveEmbedding(ctx, job.SourceID(), outcome.ModelUsed, outcome.Vector); saveErr != nil {
			return outcome.Provider, outcome.TokensUsed, &storageFailure{fmt.Errorf("save embedding: %w", saveErr)}
		}
		return outcome.Provider, outcome.TokensUsed, nil

	default:
		return "", 0, fmt.Errorf("unsupported operation %q", job.Operation())
	}
}

func (p *JobProcessor) finishCompleted(ctx context.Context, job *entity.ProcessingJob, provider string, tokens int, elapsed time.Duration) error {
	if err := job.Complete(); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID(), err)
	}
	if err := p.queue.Update(ctx, job); err != nil {
		return fmt.Errorf("persist completed job: %w", err)
	}

	p.recordAttempt(ctx, job, entity.MetricStatusSuccess, elapsed, tokens, provider, "")
	if p.metrics != nil {
		p.metrics.RecordJobResult(ctx, elapsed, "completed", job.Operation().String(), provider)
	}
	p.notifyBatch(ctx, job, true)

	slogger.Info(ctx, "Job completed", slogger.Fields{
		"job_id":      job.ID().String(),
		"operation":   job.Operation().String(),
		"provider":    provider,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// finishRateLimited releases the claim without burning a retry attempt.
func (p *JobProcessor) finishRateLimited(ctx context.Context, job *entity.ProcessingJob, rateLimited *router.RateLimitedError, elapsed time.Duration) error {
	delay := rateLimited.Delay
	if delay <= 0 {
		delay = time.Minute
	}
	if err := job.Release(delay); err != nil {
		return fmt.Errorf("release rate-limited job %s: %w", job.ID(), err)
	}
	if err := p.queue.Update(ctx, job); err != nil {
		return fmt.Errorf("persist released job: %w", err)
	}

	// A denied admission made no provider call, so only provider-reported
	// rate limits count as attempts in the metrics log.
	if rateLimited.Reported {
		p.recordAttempt(ctx, job, entity.MetricStatusRetry, elapsed, 0, rateLimited.Provider, outbound.ProviderErrCodeRateLimit)
	}
	if p.metrics != nil {
		p.metrics.RecordRateLimited(ctx, rateLimited.Provider)
	}

	slogger.Warn(ctx, "Job released for provider rate limit", slogger.Fields{
		"job_id":   job.ID().String(),
		"provider": rateLimited.Provider,
		"delay":    delay.String(),
	})
	return nil
}

func (p *JobProcessor) finishFailed(ctx context.Context, job *entity.ProcessingJob, provider string, cause error, elapsed time.Duration) error {
	retryable, errorType := classifyFailure(cause)

	if err := job.Fail(cause.Error(), retryable); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID(), err)
	}
	if err := p.queue.Update(ctx, job); err != nil {
		return fmt.Errorf("persist failed job: %w", err)
	}

	if job.Status() == valueobject.JobStatusPending {
		p.recordAttempt(ctx, job, entity.MetricStatusRetry, elapsed, 0, provider, errorType)
		if p.metrics != nil {
			p.metrics.RecordRetry(ctx, job.Operation().String(), provider)
		}
		slogger.Warn(ctx, "Job failed, requeued for retry", slogger.Fields{
			"job_id":      job.ID().String(),
			"retry_count": job.RetryCount(),
			"error":       cause.Error(),
		})
		return nil
	}

	p.recordAttempt(ctx, job, entity.MetricStatusFailure, elapsed, 0, provider, errorType)
	if p.metrics != nil {
		p.metrics.RecordJobResult(ctx, elapsed, "failed", job.Operation().String(), provider)
	}
	p.notifyBatch(ctx, job, false)

	slogger.ErrorWithError(ctx, cause, "Job failed terminally", slogger.Fields2(
		"job_id", job.ID().String(),
		"retry_count", job.RetryCount(),
	))
	return nil
}

// recordAttempt appends one metric row; recording failures never affect the
// job outcome.
func (p *JobProcessor) recordAttempt(ctx context.Context, job *entity.ProcessingJob, status string, elapsed time.Duration, tokens int, provider, errorType string) {
	record := entity.NewMetricRecord(
		job.Operation(), job.SourceID(), status, elapsed, tokens,
		provider, job.RequestModel(), errorType,
	)
	if err := p.recorder.Record(ctx, record); err != nil {
		slogger.Warn(ctx, "Failed to record processing metric", slogger.Fields2(
			"job_id", job.ID().String(),
			"error", err.Error(),
		))
	}
}

func (p *JobProcessor) notifyBatch(ctx context.Context, job *entity.ProcessingJob, succeeded bool) {
	if p.batches == nil || job.BatchID() == nil {
		return
	}
	if err := p.batches.RecordJobOutcome(ctx, *job.BatchID(), succeeded); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to update batch session for job outcome", slogger.Fields2(
			"job_id", job.ID().String(),
			"batch_id", job.BatchID().String(),
		))
	}
}

func isRateLimited(err error) bool {
	var rateLimited *router.RateLimitedError
	return errors.As(err, &rateLimited)
}

// storageFailure marks source-store errors, which are presumed transient
// and get the retry budget.
type storageFailure struct {
	err error
}

func (e *storageFailure) Error() string { return e.err.Error() }
func (e *storageFailure) Unwrap() error { return e.err }

// classifyFailure maps an attempt error to the queue's retry decision and
// the metric error label. Retryable failures are enumerated; anything
// unclassified fails terminally, since retrying it against the same input
// cannot make progress.
func classifyFailure(err error) (retryable bool, errorType string) {
	var providerErr *outbound.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable, providerErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, outbound.ProviderErrCodeTimeout
	}
	var storage *storageFailure
	if errors.As(err, &storage) {
		return true, "storage_error"
	}
	return false, "internal_error"
}
