package service

import (
	"context"
	"time"

	"receiptflow/internal/application/dto"
	"receiptflow/internal/port/outbound"
)

// DatabaseChecker reports whether the database is reachable.
type DatabaseChecker interface {
	IsHealthy(ctx context.Context) bool
}

// DefaultHealthService implements the HealthService inbound port. The
// database is a hard dependency; the progress publisher only degrades the
// report because queue coordination never depends on it.
type DefaultHealthService struct {
	version   string
	database  DatabaseChecker
	publisher outbound.PublisherHealth
}

func NewDefaultHealthService(version string, database DatabaseChecker, publisher outbound.PublisherHealth) *DefaultHealthService {
	return &DefaultHealthService{
		version:   version,
		database:  database,
		publisher: publisher,
	}
}

// GetHealth checks the service's dependencies.
func (s *DefaultHealthService) GetHealth(ctx context.Context) (*dto.HealthResponse, error) {
	response := &dto.HealthResponse{
		Status:       "healthy",
		Version:      s.version,
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]dto.DependencyHealth),
	}

	if s.database != nil {
		if s.database.IsHealthy(ctx) {
			response.Dependencies["database"] = dto.DependencyHealth{Status: "healthy"}
		} else {
			response.Status = "unhealthy"
			response.Dependencies["database"] = dto.DependencyHealth{
				Status:  "unhealthy",
				Message: "database unreachable",
			}
		}
	}

	if s.publisher != nil {
		health := s.publisher.GetConnectionHealth()
		if health.Connected {
			response.Dependencies["messaging"] = dto.DependencyHealth{Status: "healthy"}
		} else {
			if response.Status == "healthy" {
				response.Status = "degraded"
			}
			response.Dependencies["messaging"] = dto.DependencyHealth{
				Status:  "unhealthy",
				Message: health.LastError,
			}
		}
	}

	return response, nil
}
