package api

import "net/http"

// NewRouter wires every endpoint onto a Go 1.22 pattern-routing ServeMux.
func NewRouter(
	jobHandler *JobHandler,
	batchHandler *BatchHandler,
	queueHandler *QueueHandler,
	healthHandler *HealthHandler,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.GetHealth)

	mux.HandleFunc("POST /jobs", jobHandler.EnqueueJob)
	mux.HandleFunc("GET /jobs/{id}", jobHandler.GetJob)

	mux.HandleFunc("POST /batches", batchHandler.CreateBatch)
	mux.HandleFunc("GET /batches/{id}", batchHandler.GetBatch)
	mux.HandleFunc("DELETE /batches/{id}", batchHandler.CancelBatch)

	mux.HandleFunc("GET /queue/statistics", queueHandler.GetStatistics)
	mux.HandleFunc("GET /workers", queueHandler.ListWorkers)

	return mux
}
