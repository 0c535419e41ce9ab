package outbound

import (
	"context"
	"fmt"
	"time"

	"receiptflow/internal/domain/entity"

	"github.com/google/uuid"
)

// ModelProvider defines the outbound port for one AI provider adapter. Each
// adapter hides a provider's transport and prompt conventions behind
// structured extraction calls.
type ModelProvider interface {
	// Name returns the provider identifier used for quota and metrics
	// attribution, e.g. "gemini" or "openrouter".
	Name() string

	// ExtractReceipt runs a vision extraction for the given image bytes
	// against the requested model.
	ExtractReceipt(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error)

	// GenerateEmbedding produces an embedding vector for text input.
	GenerateEmbedding(ctx context.Context, text string, model string) (*EmbeddingResult, error)

	// ValidateAPIKey verifies the configured credentials.
	ValidateAPIKey(ctx context.Context) error
}

// ExtractionRequest carries one receipt image to a provider.
type ExtractionRequest struct {
	Model       string
	ImageData   []byte
	ImageFormat string
	SourceID    uuid.UUID
	Timeout     time.Duration
}

// ExtractionResult is the provider's parsed answer plus usage accounting.
type ExtractionResult struct {
	Extraction  *entity.ReceiptExtraction
	TokensUsed  int
	Latency     time.Duration
	RawResponse string
}

// EmbeddingResult is a provider's embedding answer plus usage accounting.
type EmbeddingResult struct {
	Vector     []float64
	Dimensions int
	TokensUsed int
	Latency    time.Duration
}

// Provider error classification codes. The set is closed: adapters map every
// transport or parse failure into exactly one of these.
const (
	ProviderErrCodeAuth         = "auth_failed"
	ProviderErrCodeQuota        = "quota_exceeded"
	ProviderErrCodeRateLimit    = "rate_limited"
	ProviderErrCodeInvalidInput = "invalid_input"
	ProviderErrCodeMalformed    = "malformed_response"
	ProviderErrCodeTimeout      = "timeout"
	ProviderErrCodeServer       = "server_error"
	ProviderErrCodeNetwork      = "network_error"
)

// ProviderError is the typed failure every provider adapter returns. Type
// distinguishes where the failure originated; Retryable drives the queue's
// retry-vs-terminal decision.
type ProviderError struct {
	Code       string
	Type       string // "client", "server", "network", "parse"
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRateLimit reports whether the provider signalled a rate limit. Rate
// limits trigger a provider cool-down rather than a retry-budget charge.
func (e *ProviderError) IsRateLimit() bool {
	return e.Code == ProviderErrCodeRateLimit || e.Code == ProviderErrCodeQuota
}

// IsMalformed reports whether the provider answered but the payload failed
// schema validation. Malformed responses may trigger a fallback model.
func (e *ProviderError) IsMalformed() bool {
	return e.Code == ProviderErrCodeMalformed
}

// NewProviderError creates a provider error with the given classification.
func NewProviderError(code, errType, message string, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Code:      code,
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}
