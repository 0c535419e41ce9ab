package entity

import (
	"time"
)

// QuotaWindow tracks a provider's request and token usage over one quota
// window. Counters reset when the window elapses; a cool-down set by a
// provider rate-limit error rejects admission independently of the window.
type QuotaWindow struct {
	provider      string
	windowStart   time.Time
	windowLength  time.Duration
	requestsUsed  int
	tokensUsed    int
	requestLimit  int
	tokenLimit    int
	cooldownUntil *time.Time
	updatedAt     time.Time
}

// NewQuotaWindow creates an empty quota window for the provider.
func NewQuotaWindow(provider string, windowLength time.Duration, requestLimit, tokenLimit int) *QuotaWindow {
	now := time.Now()
	return &QuotaWindow{
		provider:     provider,
		windowStart:  now,
		windowLength: windowLength,
		requestLimit: requestLimit,
		tokenLimit:   tokenLimit,
		updatedAt:    now,
	}
}

// RestoreQuotaWindow creates a QuotaWindow from stored data.
func RestoreQuotaWindow(
	provider string,
	windowStart time.Time,
	windowLength time.Duration,
	requestsUsed int,
	tokensUsed int,
	requestLimit int,
	tokenLimit int,
	cooldownUntil *time.Time,
	updatedAt time.Time,
) *QuotaWindow {
	return &QuotaWindow{
		provider:      provider,
		windowStart:   windowStart,
		windowLength:  windowLength,
		requestsUsed:  requestsUsed,
		tokensUsed:    tokensUsed,
		requestLimit:  requestLimit,
		tokenLimit:    tokenLimit,
		cooldownUntil: cooldownUntil,
		updatedAt:     updatedAt,
	}
}

// Provider returns the provider name.
func (q *QuotaWindow) Provider() string {
	return q.provider
}

// WindowStart returns when the current window began.
func (q *QuotaWindow) WindowStart() time.Time {
	return q.windowStart
}

// WindowLength returns the fixed window duration.
func (q *QuotaWindow) WindowLength() time.Duration {
	return q.windowLength
}

// RequestsUsed returns the request count charged to the current window.
func (q *QuotaWindow) RequestsUsed() int {
	return q.requestsUsed
}

// TokensUsed returns the token count charged to the current window.
func (q *QuotaWindow) TokensUsed() int {
	return q.tokensUsed
}

// RequestLimit returns the per-window request budget.
func (q *QuotaWindow) RequestLimit() int {
	return q.requestLimit
}

// TokenLimit returns the per-window token budget; zero means unlimited.
func (q *QuotaWindow) TokenLimit() int {
	return q.tokenLimit
}

// CooldownUntil returns the active cool-down expiry, if any.
func (q *QuotaWindow) CooldownUntil() *time.Time {
	return q.cooldownUntil
}

// UpdatedAt returns the last update timestamp.
func (q *QuotaWindow) UpdatedAt() time.Time {
	return q.updatedAt
}

// InCooldown reports whether a provider cool-down is active at now.
func (q *QuotaWindow) InCooldown(now time.Time) bool {
	return q.cooldownUntil != nil && now.Before(*q.cooldownUntil)
}

// Roll resets the counters if the window has elapsed at now.
func (q *QuotaWindow) Roll(now time.Time) {
	if now.Sub(q.windowStart) < q.windowLength {
		return
	}
	q.windowStart = now
	q.requestsUsed = 0
	q.tokensUsed = 0
	q.updatedAt = now
}

// Admit pessimistically charges one request and estimatedTokens against the
// window. It returns false without charging when the budget or an active
// cool-down forbids the call.
func (q *QuotaWindow) Admit(now time.Time, estimatedTokens int) bool {
	if q.InCooldown(now) {
		return false
	}

	q.Roll(now)

	if q.requestLimit > 0 && q.requestsUsed >= q.requestLimit {
		return false
	}
	if q.tokenLimit > 0 && q.tokensUsed+estimatedTokens > q.tokenLimit {
		return false
	}

	q.requestsUsed++
	q.tokensUsed += estimatedTokens
	q.updatedAt = now
	return true
}

// Reconcile replaces the pessimistic token estimate with the actual usage
// reported by the provider call.
func (q *QuotaWindow) Reconcile(estimatedTokens, actualTokens int) {
	q.tokensUsed += actualTokens - estimatedTokens
	if q.tokensUsed < 0 {
		q.tokensUsed = 0
	}
	q.updatedAt = time.Now()
}

// EnterCooldown rejects all admission for the provider until the deadline,
// independent of the nominal window.
func (q *QuotaWindow) EnterCooldown(until time.Time) {
	q.cooldownUntil = &until
	q.updatedAt = time.Now()
}

// ClearExpiredCooldown drops a cool-down that has elapsed at now.
func (q *QuotaWindow) ClearExpiredCooldown(now time.Time) {
	if q.cooldownUntil != nil && !now.Before(*q.cooldownUntil) {
		q.cooldownUntil = nil
		q.updatedAt = now
	}
}
