package service

import (
	"context"
	"fmt"

	"receiptflow/internal/application/dto"
	"receiptflow/internal/port/outbound"
)

// DefaultQueueStatisticsService implements the QueueStatisticsService
// inbound port.
type DefaultQueueStatisticsService struct {
	queue   outbound.JobQueue
	workers outbound.WorkerRepository
}

func NewDefaultQueueStatisticsService(queue outbound.JobQueue, workers outbound.WorkerRepository) *DefaultQueueStatisticsService {
	return &DefaultQueueStatisticsService{
		queue:   queue,
		workers: workers,
	}
}

// GetStatistics returns a point-in-time queue health snapshot.
func (s *DefaultQueueStatisticsService) GetStatistics(ctx context.Context) (*dto.QueueStatisticsResponse, error) {
	stats, err := s.queue.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue statistics: %w", err)
	}

	counts := make(map[string]int, len(stats.CountsByStatus))
	for status, count := range stats.CountsByStatus {
		counts[status.String()] = count
	}
	return &dto.QueueStatisticsResponse{
		CountsByStatus:    counts,
		OldestPendingSecs: stats.OldestPendingAge.Seconds(),
		AvgProcessingMs:   stats.AvgProcessingMs,
		ActiveWorkers:     stats.ActiveWorkers,
	}, nil
}

// ListWorkers returns the registered workers.
func (s *DefaultQueueStatisticsService) ListWorkers(ctx context.Context) (*dto.WorkerListResponse, error) {
	workers, err := s.workers.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	response := &dto.WorkerListResponse{Workers: make([]dto.WorkerResponse, 0, len(workers))}
	for _, worker := range workers {
		response.Workers = append(response.Workers, dto.WorkerResponse{
			ID:             worker.ID(),
			Status:         worker.Status().String(),
			LastHeartbeat:  worker.LastHeartbeat(),
			CurrentJob:     worker.CurrentJob(),
			ProcessedCount: worker.ProcessedCount(),
			ErrorCount:     worker.ErrorCount(),
		})
	}
	return response, nil
}
