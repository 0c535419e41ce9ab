package outbound

import (
	"context"

	"receiptflow/internal/domain/entity"
)

// QuotaRepository defines the outbound port for per-provider quota window
// persistence. In-memory windows are authoritative within a process; the
// stored row lets restarted workers resume mid-window instead of starting
// from a clean budget.
type QuotaRepository interface {
	// Load returns the stored window for provider, or nil when none exists.
	Load(ctx context.Context, provider string) (*entity.QuotaWindow, error)

	// Store upserts the window state keyed by provider.
	Store(ctx context.Context, window *entity.QuotaWindow) error
}
