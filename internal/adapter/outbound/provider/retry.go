package provider

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/port/outbound"
)

// RetryConfig holds the retry configuration for provider calls.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts including the first
	BaseDelay   time.Duration // Base delay between retries
	MaxDelay    time.Duration // Maximum delay between retries
	Multiplier  float64       // Backoff multiplier
	Jitter      bool          // Whether to apply jitter to delays
}

// ApplyDefaults applies default values to the retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2.0
	}
	r.Jitter = true
}

// CalculateBackoffDelay calculates the backoff delay for a given attempt.
func (r *RetryConfig) CalculateBackoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(r.BaseDelay) * math.Pow(r.Multiplier, float64(attempt-1))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	calculatedDelay := time.Duration(delay)

	// Jitter spreads retries across 50-100% of the calculated delay
	if r.Jitter {
		jitterRange := calculatedDelay / 2
		jitter := time.Duration(
			rand.Int64N(int64(jitterRange) + 1), //nolint:gosec // math/rand is acceptable for retry jitter
		)
		calculatedDelay = jitterRange + jitter
	}

	return calculatedDelay
}

// RetryExecutor retries transient provider failures with exponential
// backoff. Rate limits are never retried here: they bubble up so the quota
// tracker can start a cool-down instead of hammering the provider.
type RetryExecutor struct {
	config RetryConfig
}

// NewRetryExecutor creates a retry executor with defaults applied.
func NewRetryExecutor(config RetryConfig) *RetryExecutor {
	config.ApplyDefaults()
	return &RetryExecutor{config: config}
}

// ExecuteWithRetry runs operation until success, a non-retryable error, a
// rate limit, or attempt exhaustion.
func (r *RetryExecutor) ExecuteWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if !r.isRetryable(lastErr) {
			return lastErr
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.config.CalculateBackoffDelay(attempt)
		slogger.Warn(ctx, "Retrying provider call after transient failure", slogger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (r *RetryExecutor) isRetryable(err error) bool {
	var providerErr *outbound.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.IsRateLimit() {
			return false
		}
		return providerErr.Retryable
	}
	return false
}

// CircuitBreakerState tracks the breaker's position.
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// CircuitBreaker stops calling a provider after consecutive server-side
// failures and probes it again after a timeout.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureThreshold int
	timeout          time.Duration
	failureCount     int
	openedAt         time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
	}
}

// Execute runs operation unless the breaker is open. A half-open probe that
// fails re-opens the breaker immediately.
func (c *CircuitBreaker) Execute(operation func() error) error {
	if !c.allow() {
		return ErrCircuitOpen
	}

	err := operation()
	c.record(err)
	return err
}

// State returns the breaker's current position.
func (c *CircuitBreaker) State() CircuitBreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitOpen && time.Since(c.openedAt) >= c.timeout {
		return CircuitHalfOpen
	}
	return c.state
}

func (c *CircuitBreaker) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CircuitOpen {
		return true
	}
	if time.Since(c.openedAt) >= c.timeout {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

func (c *CircuitBreaker) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.state = CircuitClosed
		c.failureCount = 0
		return
	}

	// Only server-side and transport failures count against the breaker.
	var providerErr *outbound.ProviderError
	if errors.As(err, &providerErr) && providerErr.Type == "client" {
		return
	}

	c.failureCount++
	if c.state == CircuitHalfOpen || c.failureCount >= c.failureThreshold {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		c.failureCount = 0
	}
}
