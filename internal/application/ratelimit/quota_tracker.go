package ratelimit

import (
	"context"
	"sync"
	"time"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/port/outbound"
)

// ProviderBudget configures one provider's quota window.
type ProviderBudget struct {
	Provider            string
	RequestsPerMinute   int
	TokensPerMinute     int
	Cooldown            time.Duration
	EstimatedCallTokens int
}

// QuotaTracker enforces per-provider request and token budgets. Admission is
// pessimistic: the estimated cost is charged up front and reconciled once the
// provider reports actual usage. State lives in memory and is mirrored to the
// quota repository so a restarted worker resumes mid-window.
type QuotaTracker struct {
	mu      sync.Mutex
	windows map[string]*entity.QuotaWindow
	budgets map[string]ProviderBudget
	repo    outbound.QuotaRepository
}

// NewQuotaTracker creates a tracker for the given provider budgets.
func NewQuotaTracker(repo outbound.QuotaRepository, budgets []ProviderBudget) *QuotaTracker {
	tracker := &QuotaTracker{
		windows: make(map[string]*entity.QuotaWindow),
		budgets: make(map[string]ProviderBudget),
		repo:    repo,
	}
	for _, budget := range budgets {
		tracker.budgets[budget.Provider] = budget
		tracker.windows[budget.Provider] = entity.NewQuotaWindow(
			budget.Provider, time.Minute, budget.RequestsPerMinute, budget.TokensPerMinute,
		)
	}
	return tracker
}

// Restore replaces in-memory windows with persisted state where available.
func (t *QuotaTracker) Restore(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for provider := range t.budgets {
		stored, err := t.repo.Load(ctx, provider)
		if err != nil {
			return err
		}
		if stored != nil {
			t.windows[provider] = stored
		}
	}
	return nil
}

// Admit decides whether one call to provider may proceed now. When denied it
// returns the delay after which the caller should try again.
func (t *QuotaTracker) Admit(ctx context.Context, provider string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window, ok := t.windows[provider]
	if !ok {
		// Unbudgeted providers are admitted unconditionally.
		return true, 0
	}

	now := time.Now()
	window.ClearExpiredCooldown(now)

	estimated := t.budgets[provider].EstimatedCallTokens
	if window.Admit(now, estimated) {
		t.persist(ctx, window)
		return true, 0
	}

	return false, t.retryDelay(window, now)
}

// retryDelay computes how long until the window can plausibly admit again.
func (t *QuotaTracker) retryDelay(window *entity.QuotaWindow, now time.Time) time.Duration {
	if until := window.CooldownUntil(); until != nil && now.Before(*until) {
		return until.Sub(now)
	}

	remaining := window.WindowStart().Add(window.WindowLength()).Sub(now)
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}

// Reconcile replaces the pessimistic token estimate with actual usage.
func (t *QuotaTracker) Reconcile(ctx context.Context, provider string, actualTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window, ok := t.windows[provider]
	if !ok {
		return
	}

	window.Reconcile(t.budgets[provider].EstimatedCallTokens, actualTokens)
	t.persist(ctx, window)
}

// ReportRateLimit enters a provider cool-down after the provider itself
// signalled a rate limit. A Retry-After from the provider overrides the
// configured cool-down when longer.
func (t *QuotaTracker) ReportRateLimit(ctx context.Context, provider string, retryAfter time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	window, ok := t.windows[provider]
	if !ok {
		return retryAfter
	}

	cooldown := t.budgets[provider].Cooldown
	if retryAfter > cooldown {
		cooldown = retryAfter
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	until := time.Now().Add(cooldown)
	window.EnterCooldown(until)
	t.persist(ctx, window)

	slogger.Warn(ctx, "Provider entered rate-limit cool-down", slogger.Fields{
		"provider":       provider,
		"cooldown":       cooldown.String(),
		"cooldown_until": until.Format(time.RFC3339),
	})

	return cooldown
}

// InCooldown reports whether a provider is currently cooling down.
func (t *QuotaTracker) InCooldown(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	window, ok := t.windows[provider]
	if !ok {
		return false
	}
	return window.InCooldown(time.Now())
}

// persist mirrors window state to the repository; failures are logged and
// swallowed, the in-memory window stays authoritative.
func (t *QuotaTracker) persist(ctx context.Context, window *entity.QuotaWindow) {
	if t.repo == nil {
		return
	}
	if err := t.repo.Store(ctx, window); err != nil {
		slogger.ErrorWithError(ctx, err, "Failed to persist quota window", slogger.Fields{
			"provider": window.Provider(),
		})
	}
}
