package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"receiptflow/internal/application/common/logging"
	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/config"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

// Service is one worker process. It registers itself, claims jobs in
// batches, fans them out to a bounded goroutine pool, and keeps the shared
// liveness and hygiene loops running until the context is cancelled.
type Service struct {
	id        string
	cfg       config.WorkerConfig
	queueCfg  config.QueueConfig
	queue     outbound.JobQueue
	workers   outbound.WorkerRepository
	processor *JobProcessor
	metrics   *JobMetrics

	pool *ants.Pool

	mu           sync.Mutex
	registration *entity.WorkerRegistration
}

// NewService creates a worker service. The worker ID combines hostname and
// a random suffix so restarts register as fresh workers.
func NewService(
	cfg config.WorkerConfig,
	queueCfg config.QueueConfig,
	queue outbound.JobQueue,
	workers outbound.WorkerRepository,
	processor *JobProcessor,
	metrics *JobMetrics,
) (*Service, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Service{
		id:        id,
		cfg:       cfg,
		queueCfg:  queueCfg,
		queue:     queue,
		workers:   workers,
		processor: processor,
		metrics:   metrics,
		pool:      pool,
	}, nil
}

// ID returns the worker's registered identifier.
func (s *Service) ID() string {
	return s.id
}

// Run registers the worker and blocks until ctx is cancelled, then
// deregisters after in-flight jobs drain.
func (s *Service) Run(ctx context.Context) error {
	registration := entity.NewWorkerRegistration(s.id)
	if err := s.workers.Register(ctx, registration); err != nil {
		return fmt.Errorf("register worker %s: %w", s.id, err)
	}
	s.mu.Lock()
	s.registration = registration
	s.mu.Unlock()

	slogger.Info(ctx, "Worker started", slogger.Fields{
		"worker_id":   s.id,
		"concurrency": s.cfg.Concurrency,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.claimLoop(groupCtx) })
	group.Go(func() error { return s.heartbeatLoop(groupCtx) })
	group.Go(func() error { return s.reclaimLoop(groupCtx) })
	group.Go(func() error { return s.cleanupLoop(groupCtx) })

	err := group.Wait()

	s.shutdown()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// claimLoop polls the queue and dispatches claimed jobs to the pool. An
// empty claim backs off by the poll interval; a full claim polls again
// immediately.
func (s *Service) claimLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		claimed, err := s.claimAndDispatch(ctx)
		if err != nil {
			slogger.ErrorWithError(ctx, err, "Claim cycle failed", slogger.Field("worker_id", s.id))
		}

		if claimed == s.cfg.ClaimBatchSize {
			// Queue likely has more work; skip the poll delay.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) claimAndDispatch(ctx context.Context) (int, error) {
	// Claim no more than the pool can absorb to keep claims short-lived.
	limit := s.cfg.ClaimBatchSize
	if free := s.pool.Free(); free < limit {
		limit = free
	}
	if limit <= 0 {
		return 0, nil
	}

	jobs, err := s.queue.ClaimNext(ctx, s.id, limit)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}

	// Dispatch is fire-and-forget: the pool runs jobs in the background
	// and its free capacity bounds the next claim, so one slow call never
	// stalls the claim loop.
	for _, job := range jobs {
		job := job
		if submitErr := s.pool.Submit(func() { s.runJob(ctx, job) }); submitErr != nil {
			s.releaseUnprocessed(ctx, job)
		}
	}
	return len(jobs), nil
}

func (s *Service) runJob(ctx context.Context, job *entity.ProcessingJob) {
	jobCtx := logging.WithCorrelationID(ctx, job.ID().String())

	s.trackJob(func(r *entity.WorkerRegistration) { r.BeginJob(job.ID()) })
	err := s.processor.Process(jobCtx, job)
	succeeded := err == nil && job.Status() == valueobject.JobStatusCompleted
	s.trackJob(func(r *entity.WorkerRegistration) { r.FinishJob(succeeded) })

	if err != nil {
		slogger.ErrorWithError(jobCtx, err, "Job bookkeeping failed", slogger.Fields2(
			"worker_id", s.id,
			"job_id", job.ID().String(),
		))
	}
}

// releaseUnprocessed puts a claimed job back when the pool rejected it.
func (s *Service) releaseUnprocessed(ctx context.Context, job *entity.ProcessingJob) {
	if err := job.Release(0); err != nil {
		return
	}
	if err := s.queue.Update(ctx, job); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to release undispatched job", slogger.Field("job_id", job.ID().String()))
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			s.registration.Heartbeat()
			registration := s.registration
			s.mu.Unlock()

			if err := s.workers.Heartbeat(ctx, registration); err != nil {
				slogger.Warn(ctx, "Heartbeat failed", slogger.Fields2(
					"worker_id", s.id,
					"error", err.Error(),
				))
			}
		}
	}
}

// reclaimLoop returns jobs held by dead workers to the queue. Every worker
// runs it; the row locks make concurrent reclaims safe.
func (s *Service) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.queueCfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reclaimed, err := s.queue.ReclaimStale(ctx, s.cfg.StaleThreshold)
			if err != nil {
				slogger.Warn(ctx, "Stale job reclaim failed", slogger.Field("error", err.Error()))
				continue
			}
			if reclaimed > 0 {
				if s.metrics != nil {
					s.metrics.RecordReclaimed(ctx, reclaimed)
				}
				slogger.Info(ctx, "Reclaimed jobs from stale workers", slogger.Fields2(
					"worker_id", s.id,
					"reclaimed", reclaimed,
				))
			}
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.queueCfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := s.queue.CleanupTerminal(ctx, s.queueCfg.TerminalRetention)
			if err != nil {
				slogger.Warn(ctx, "Terminal job cleanup failed", slogger.Field("error", err.Error()))
				continue
			}
			if removed > 0 {
				slogger.Info(ctx, "Removed expired terminal jobs", slogger.Field("removed", removed))
			}
		}
	}
}

func (s *Service) trackJob(update func(*entity.WorkerRegistration)) {
	s.mu.Lock()
	update(s.registration)
	s.mu.Unlock()
}

// shutdown drains the pool and deregisters. Uses a fresh context because
// the run context is already cancelled.
func (s *Service) shutdown() {
	if err := s.pool.ReleaseTimeout(10 * time.Second); err != nil {
		slogger.WarnNoCtx("Worker pool did not drain before timeout", slogger.Field("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	s.registration.Stop()
	s.mu.Unlock()

	if err := s.workers.Deregister(ctx, s.id); err != nil {
		slogger.WarnNoCtx("Failed to deregister worker", slogger.Fields2(
			"worker_id", s.id,
			"error", err.Error(),
		))
	}
	slogger.InfoNoCtx("Worker stopped", slogger.Field("worker_id", s.id))
}
