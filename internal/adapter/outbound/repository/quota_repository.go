package repository

import (
	"context"
	"time"

	"receiptflow/internal/domain/entity"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLQuotaRepository implements the QuotaRepository port on
// provider_quota. One row per provider; the in-process tracker owns the
// window between stores.
type PostgreSQLQuotaRepository struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLQuotaRepository creates a new quota repository.
func NewPostgreSQLQuotaRepository(pool *pgxpool.Pool) *PostgreSQLQuotaRepository {
	return &PostgreSQLQuotaRepository{
		pool: pool,
	}
}

// Load returns the stored window for provider, or nil when none exists.
func (r *PostgreSQLQuotaRepository) Load(ctx context.Context, provider string) (*entity.QuotaWindow, error) {
	if provider == "" {
		return nil, ErrInvalidArgument
	}

	query := `
		SELECT provider, window_start, window_length_ms, requests_used, tokens_used,
			   request_limit, token_limit, cooldown_until, updated_at
		FROM provider_quota
		WHERE provider = $1`

	qi := GetQueryInterface(ctx, r.pool)

	var (
		name           string
		windowStart    time.Time
		windowLengthMs int64
		requestsUsed   int
		tokensUsed     int
		requestLimit   int
		tokenLimit     int
		cooldownUntil  *time.Time
		updatedAt      time.Time
	)

	err := qi.QueryRow(ctx, query, provider).Scan(
		&name, &windowStart, &windowLengthMs, &requestsUsed, &tokensUsed,
		&requestLimit, &tokenLimit, &cooldownUntil, &updatedAt,
	)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "load provider quota")
	}

	return entity.RestoreQuotaWindow(
		name, windowStart, time.Duration(windowLengthMs)*time.Millisecond,
		requestsUsed, tokensUsed, requestLimit, tokenLimit, cooldownUntil, updatedAt,
	), nil
}

// Store upserts the window state keyed by provider.
func (r *PostgreSQLQuotaRepository) Store(ctx context.Context, window *entity.QuotaWindow) error {
	if window == nil {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO provider_quota (
			provider, window_start, window_length_ms, requests_used, tokens_used,
			request_limit, token_limit, cooldown_until, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (provider) DO UPDATE
		SET window_start = EXCLUDED.window_start,
			window_length_ms = EXCLUDED.window_length_ms,
			requests_used = EXCLUDED.requests_used,
			tokens_used = EXCLUDED.tokens_used,
			request_limit = EXCLUDED.request_limit,
			token_limit = EXCLUDED.token_limit,
			cooldown_until = EXCLUDED.cooldown_until,
			updated_at = EXCLUDED.updated_at`

	qi := GetQueryInterface(ctx, r.pool)
	_, err := qi.Exec(ctx, query,
		window.Provider(),
		window.WindowStart(),
		window.WindowLength().Milliseconds(),
		window.RequestsUsed(),
		window.TokensUsed(),
		window.RequestLimit(),
		window.TokenLimit(),
		window.CooldownUntil(),
		window.UpdatedAt(),
	)
	if err != nil {
		return WrapError(err, "store provider quota")
	}

	return nil
}
