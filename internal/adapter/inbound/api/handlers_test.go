package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"receiptflow/internal/application/dto"
	"receiptflow/internal/application/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJobService struct {
	enqueueResponse *dto.JobResponse
	enqueueErr      error
	getResponse     *dto.JobResponse
	getErr          error
}

func (s *stubJobService) EnqueueJob(_ context.Context, _ dto.EnqueueJobRequest) (*dto.JobResponse, error) {
	return s.enqueueResponse, s.enqueueErr
}

func (s *stubJobService) GetJob(_ context.Context, _ uuid.UUID) (*dto.JobResponse, error) {
	return s.getResponse, s.getErr
}

type stubBatchService struct {
	createResponse *dto.BatchResponse
	createErr      error
	getResponse    *dto.BatchDetailResponse
	getErr         error
	cancelResponse *dto.CancelBatchResponse
	cancelErr      error
}

func (s *stubBatchService) CreateBatch(_ context.Context, _ dto.CreateBatchRequest) (*dto.BatchResponse, error) {
	return s.createResponse, s.createErr
}

func (s *stubBatchService) GetBatch(_ context.Context, _ uuid.UUID) (*dto.BatchDetailResponse, error) {
	return s.getResponse, s.getErr
}

func (s *stubBatchService) CancelBatch(_ context.Context, _ uuid.UUID) (*dto.CancelBatchResponse, error) {
	return s.cancelResponse, s.cancelErr
}

type stubStatisticsService struct {
	statistics *dto.QueueStatisticsResponse
	workers    *dto.WorkerListResponse
}

func (s *stubStatisticsService) GetStatistics(_ context.Context) (*dto.QueueStatisticsResponse, error) {
	return s.statistics, nil
}

func (s *stubStatisticsService) ListWorkers(_ context.Context) (*dto.WorkerListResponse, error) {
	return s.workers, nil
}

type stubHealthService struct {
	response *dto.HealthResponse
}

func (s *stubHealthService) GetHealth(_ context.Context) (*dto.HealthResponse, error) {
	return s.response, nil
}

func testRouter(jobs *stubJobService, batches *stubBatchService, stats *stubStatisticsService, health *stubHealthService) http.Handler {
	if jobs == nil {
		jobs = &stubJobService{}
	}
	if batches == nil {
		batches = &stubBatchService{}
	}
	if stats == nil {
		stats = &stubStatisticsService{
			statistics: &dto.QueueStatisticsResponse{},
			workers:    &dto.WorkerListResponse{},
		}
	}
	if health == nil {
		health = &stubHealthService{response: &dto.HealthResponse{Status: "healthy"}}
	}
	errorHandler := NewErrorHandler()
	return NewRouter(
		NewJobHandler(jobs, errorHandler),
		NewBatchHandler(batches, errorHandler),
		NewQueueHandler(stats, errorHandler),
		NewHealthHandler(health, errorHandler),
	)
}

func TestJobHandler_EnqueueJob(t *testing.T) {
	t.Run("should return 202 with the enqueued job", func(t *testing.T) {
		// Arrange
		jobID := uuid.New()
		jobs := &stubJobService{enqueueResponse: &dto.JobResponse{
			ID:        jobID,
			Status:    "pending",
			Operation: "receipt_extraction",
		}}
		router := testRouter(jobs, nil, nil, nil)
		body, err := json.Marshal(dto.EnqueueJobRequest{
			SourceType: "receipt",
			SourceID:   uuid.New(),
			Operation:  "receipt_extraction",
		})
		require.NoError(t, err)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body)))

		// Assert
		assert.Equal(t, http.StatusAccepted, recorder.Code)
		var response dto.JobResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, jobID, response.ID)
		assert.Equal(t, "pending", response.Status)
	})

	t.Run("should return 400 for malformed JSON", func(t *testing.T) {
		// Arrange
		router := testRouter(nil, nil, nil, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{not json")))

		// Assert
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		var response dto.ErrorResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, "invalid_request", response.Error)
	})

	t.Run("should return 400 when service reports validation failure", func(t *testing.T) {
		// Arrange
		jobs := &stubJobService{enqueueErr: fmt.Errorf("%w: source_id is required", service.ErrValidation)}
		router := testRouter(jobs, nil, nil, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString("{}")))

		// Assert
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestJobHandler_GetJob(t *testing.T) {
	t.Run("should return 404 for unknown job", func(t *testing.T) {
		// Arrange
		jobs := &stubJobService{getErr: service.ErrJobNotFound}
		router := testRouter(jobs, nil, nil, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil))

		// Assert
		assert.Equal(t, http.StatusNotFound, recorder.Code)
		var response dto.ErrorResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, "not_found", response.Error)
	})

	t.Run("should return 400 for a malformed job ID", func(t *testing.T) {
		// Arrange
		router := testRouter(nil, nil, nil, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil))

		// Assert
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestBatchHandler(t *testing.T) {
	t.Run("should return 202 with the created batch", func(t *testing.T) {
		// Arrange
		batchID := uuid.New()
		batches := &stubBatchService{createResponse: &dto.BatchResponse{
			ID:         batchID,
			TotalFiles: 5,
			Status:     "running",
		}}
		router := testRouter(nil, batches, nil, nil)
		body, err := json.Marshal(dto.CreateBatchRequest{
			OwnerID:   uuid.New(),
			Operation: "receipt_extraction",
			Files:     []dto.BatchFileInput{{SourceID: uuid.New()}},
		})
		require.NoError(t, err)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/batches", bytes.NewReader(body)))

		// Assert
		assert.Equal(t, http.StatusAccepted, recorder.Code)
		var response dto.BatchResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, batchID, response.ID)
		assert.Equal(t, 5, response.TotalFiles)
	})

	t.Run("should cancel a batch via DELETE", func(t *testing.T) {
		// Arrange
		batchID := uuid.New()
		batches := &stubBatchService{cancelResponse: &dto.CancelBatchResponse{
			BatchID:       batchID,
			JobsCancelled: 2,
			Status:        "cancelled",
		}}
		router := testRouter(nil, batches, nil, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/batches/"+batchID.String(), nil))

		// Assert
		assert.Equal(t, http.StatusOK, recorder.Code)
		var response dto.CancelBatchResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, 2, response.JobsCancelled)
	})

	t.Run("should return 404 for unknown batch", func(t *testing.T) {
		// Arrange
		batches := &stubBatchService{getErr: service.ErrBatchNotFound}
		router := testRouter(nil, batches, nil, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/batches/"+uuid.NewString(), nil))

		// Assert
		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

func TestQueueHandler(t *testing.T) {
	t.Run("should return queue statistics", func(t *testing.T) {
		// Arrange
		stats := &stubStatisticsService{
			statistics: &dto.QueueStatisticsResponse{
				CountsByStatus:  map[string]int{"pending": 4, "processing": 2},
				AvgProcessingMs: 1250,
				ActiveWorkers:   3,
			},
			workers: &dto.WorkerListResponse{},
		}
		router := testRouter(nil, nil, stats, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/queue/statistics", nil))

		// Assert
		assert.Equal(t, http.StatusOK, recorder.Code)
		var response dto.QueueStatisticsResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, 4, response.CountsByStatus["pending"])
		assert.Equal(t, 3, response.ActiveWorkers)
	})

	t.Run("should list registered workers", func(t *testing.T) {
		// Arrange
		stats := &stubStatisticsService{
			statistics: &dto.QueueStatisticsResponse{},
			workers: &dto.WorkerListResponse{Workers: []dto.WorkerResponse{
				{ID: "host-1a2b3c4d", Status: "active", LastHeartbeat: time.Now()},
			}},
		}
		router := testRouter(nil, nil, stats, nil)

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/workers", nil))

		// Assert
		assert.Equal(t, http.StatusOK, recorder.Code)
		var response dto.WorkerListResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		require.Len(t, response.Workers, 1)
		assert.Equal(t, "active", response.Workers[0].Status)
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("should return 200 when healthy", func(t *testing.T) {
		// Arrange
		router := testRouter(nil, nil, nil, &stubHealthService{
			response: &dto.HealthResponse{Status: "healthy", Version: "1.0.0"},
		})

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

		// Assert
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("should return 503 when unhealthy", func(t *testing.T) {
		// Arrange
		router := testRouter(nil, nil, nil, &stubHealthService{
			response: &dto.HealthResponse{Status: "unhealthy"},
		})

		// Act
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

		// Assert
		assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	})
}
