// Package worker runs the queue-consuming side of the pipeline: claim
// loops, per-job processing, heartbeats, and stale-job reclamation.
package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names following OpenTelemetry semantic conventions.
const (
	JobDurationHistogramName = "worker_job_duration_seconds"
	JobCounterName           = "worker_jobs_total"
	RetryCounterName         = "worker_job_retries_total"
	RateLimitCounterName     = "worker_rate_limited_total"
	ReclaimCounterName       = "worker_jobs_reclaimed_total"
)

// Common attribute keys for consistent labeling.
const (
	AttrJobResult = "job_result" // completed, retried, failed, rate_limited
	AttrOperation = "operation"  // receipt_extraction, embedding_generation
	AttrProvider  = "provider"   // gemini, openrouter
	AttrWorkerID  = "worker_id"  // worker instance identifier
)

// JobMetrics provides OpenTelemetry-based metrics collection for job
// processing.
type JobMetrics struct {
	jobDuration      metric.Float64Histogram
	jobsTotal        metric.Int64Counter
	retriesTotal     metric.Int64Counter
	rateLimitedTotal metric.Int64Counter
	reclaimedTotal   metric.Int64Counter

	workerID string
}

// NewJobMetrics creates a new OpenTelemetry metrics collector for job
// processing.
func NewJobMetrics(workerID string) (*JobMetrics, error) {
	meter := otel.Meter("receiptflow/worker", metric.WithInstrumentationVersion("1.0.0"))

	// Bucket boundaries sized for AI provider round-trips, which run from
	// sub-second cache hits to multi-minute vision calls.
	jobLatencyBuckets := []float64{
		0.1,   // 100ms
		0.5,   // 500ms
		1.0,   // 1s
		2.5,   // 2.5s
		5.0,   // 5s
		10.0,  // 10s
		30.0,  // 30s
		60.0,  // 1min
		120.0, // 2min
		300.0, // 5min
	}

	jobDuration, err := meter.Float64Histogram(
		JobDurationHistogramName,
		metric.WithDescription("Duration of job processing in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobLatencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	jobsTotal, err := meter.Int64Counter(
		JobCounterName,
		metric.WithDescription("Total number of jobs processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	retriesTotal, err := meter.Int64Counter(
		RetryCounterName,
		metric.WithDescription("Total number of job retry releases"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitedTotal, err := meter.Int64Counter(
		RateLimitCounterName,
		metric.WithDescription("Total number of jobs released for provider rate limits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	reclaimedTotal, err := meter.Int64Counter(
		ReclaimCounterName,
		metric.WithDescription("Total number of jobs reclaimed from stale workers"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &JobMetrics{
		jobDuration:      jobDuration,
		jobsTotal:        jobsTotal,
		retriesTotal:     retriesTotal,
		rateLimitedTotal: rateLimitedTotal,
		reclaimedTotal:   reclaimedTotal,
		workerID:         workerID,
	}, nil
}

// RecordJobResult records one finished processing attempt.
func (m *JobMetrics) RecordJobResult(ctx context.Context, duration time.Duration, result, operation, provider string) {
	attributes := []attribute.KeyValue{
		attribute.String(AttrJobResult, result),
		attribute.String(AttrOperation, operation),
		attribute.String(AttrProvider, provider),
		attribute.String(AttrWorkerID, m.workerID),
	}

	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attributes...))
	m.jobsTotal.Add(ctx, 1, metric.WithAttributes(attributes...))
}

// RecordRetry records one retry release.
func (m *JobMetrics) RecordRetry(ctx context.Context, operation, provider string) {
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrOperation, operation),
		attribute.String(AttrProvider, provider),
		attribute.String(AttrWorkerID, m.workerID),
	))
}

// RecordRateLimited records one rate-limit release.
func (m *JobMetrics) RecordRateLimited(ctx context.Context, provider string) {
	m.rateLimitedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrWorkerID, m.workerID),
	))
}

// RecordReclaimed records jobs recovered from a stale worker.
func (m *JobMetrics) RecordReclaimed(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.reclaimedTotal.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(AttrWorkerID, m.workerID),
	))
}
