package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/application/ratelimit"
	"receiptflow/internal/domain/entity"
	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
)

// RateLimitedError signals that a provider call was denied or rejected for
// rate-limit reasons. Callers release the job back to the queue with the
// suggested delay instead of burning a retry attempt. Reported is true when
// the provider itself answered 429; false means local admission was denied
// and no call went out.
type RateLimitedError struct {
	Provider string
	Delay    time.Duration
	Reported bool
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider %s rate limited, retry after %s", e.Provider, e.Delay)
}

// ExtractionOutcome is a completed extraction dispatch plus the usage
// accounting the worker records as metrics.
type ExtractionOutcome struct {
	Extraction *entity.ReceiptExtraction
	Provider   string
	TokensUsed int
	Latency    time.Duration
	FellBack   bool
}

// EmbeddingOutcome is a completed embedding dispatch.
type EmbeddingOutcome struct {
	Vector     []float64
	Dimensions int
	Provider   string
	ModelUsed  string
	TokensUsed int
	Latency    time.Duration
}

// Router dispatches jobs to provider adapters. It resolves the requested
// model against the routing table, admits the call through the quota
// tracker, and re-dispatches once to the fallback model when a primary
// model returns an unparseable response.
type Router struct {
	resolver outbound.ModelResolver
	quota    *ratelimit.QuotaTracker
}

func NewRouter(resolver outbound.ModelResolver, quota *ratelimit.QuotaTracker) *Router {
	return &Router{resolver: resolver, quota: quota}
}

// RouteExtraction runs one receipt extraction. An empty modelID selects the
// operation default. Exactly one fallback dispatch happens, and only when
// the primary model's route opts in and the failure was a malformed
// response.
func (r *Router) RouteExtraction(
	ctx context.Context,
	sourceID uuid.UUID,
	modelID string,
	image *outbound.SourceImage,
) (*ExtractionOutcome, error) {
	route, provider, err := r.resolve(modelID, valueobject.OperationReceiptExtraction)
	if err != nil {
		return nil, err
	}

	result, err := r.dispatchExtraction(ctx, route, provider, sourceID, image)
	if err == nil {
		result.Extraction.ModelRequested = route.ModelID
		result.Extraction.ModelUsed = route.ModelID
		return &ExtractionOutcome{
			Extraction: result.Extraction,
			Provider:   provider.Name(),
			TokensUsed: result.TokensUsed,
			Latency:    result.Latency,
		}, nil
	}

	if !shouldFallBack(route, err) {
		return nil, err
	}

	fallbackRoute, fallbackProvider, resolveErr := r.resolve(route.FallbackModel, valueobject.OperationReceiptExtraction)
	if resolveErr != nil {
		slogger.ErrorWithError(ctx, resolveErr, "Fallback model unresolvable, surfacing primary failure", slogger.Fields2(
			"model_id", route.ModelID,
			"fallback_model", route.FallbackModel,
		))
		return nil, err
	}

	slogger.Warn(ctx, "Primary model returned malformed response, dispatching fallback", slogger.Fields{
		"source_id":      sourceID.String(),
		"model_id":       route.ModelID,
		"fallback_model": fallbackRoute.ModelID,
	})

	result, fallbackErr := r.dispatchExtraction(ctx, fallbackRoute, fallbackProvider, sourceID, image)
	if fallbackErr != nil {
		return nil, fmt.Errorf("fallback model %s after malformed response from %s: %w",
			fallbackRoute.ModelID, route.ModelID, fallbackErr)
	}

	result.Extraction.ModelRequested = route.ModelID
	result.Extraction.ModelUsed = fallbackRoute.ModelID
	return &ExtractionOutcome{
		Extraction: result.Extraction,
		Provider:   fallbackProvider.Name(),
		TokensUsed: result.TokensUsed,
		Latency:    result.Latency,
		FellBack:   true,
	}, nil
}

// RouteEmbedding runs one embedding generation. Embeddings have no fallback
// path.
func (r *Router) RouteEmbedding(
	ctx context.Context,
	modelID string,
	text string,
) (*EmbeddingOutcome, error) {
	route, provider, err := r.resolve(modelID, valueobject.OperationEmbeddingGeneration)
	if err != nil {
		return nil, err
	}

	if err := r.admit(ctx, provider.Name()); err != nil {
		return nil, err
	}

	result, err := provider.GenerateEmbedding(ctx, text, route.ModelID)
	if err != nil {
		return nil, r.classifyDispatchError(ctx, provider.Name(), err)
	}
	r.quota.Reconcile(ctx, provider.Name(), result.TokensUsed)

	return &EmbeddingOutcome{
		Vector:     result.Vector,
		Dimensions: result.Dimensions,
		Provider:   provider.Name(),
		ModelUsed:  route.ModelID,
		TokensUsed: result.TokensUsed,
		Latency:    result.Latency,
	}, nil
}

func (r *Router) resolve(modelID string, operation valueobject.JobOperation) (outbound.ModelRoute, outbound.ModelProvider, error) {
	if modelID == "" {
		defaultModel, err := r.resolver.DefaultModel(operation)
		if err != nil {
			return outbound.ModelRoute{}, nil, err
		}
		modelID = defaultModel
	}
	return r.resolver.Resolve(modelID, operation)
}

func (r *Router) dispatchExtraction(
	ctx context.Context,
	route outbound.ModelRoute,
	provider outbound.ModelProvider,
	sourceID uuid.UUID,
	image *outbound.SourceImage,
) (*outbound.ExtractionResult, error) {
	if err := r.admit(ctx, provider.Name()); err != nil {
		return nil, err
	}

	result, err := provider.ExtractReceipt(ctx, outbound.ExtractionRequest{
		Model:       route.ModelID,
		ImageData:   image.Data,
		ImageFormat: image.Format,
		SourceID:    sourceID,
	})
	if err != nil {
		return nil, r.classifyDispatchError(ctx, provider.Name(), err)
	}
	r.quota.Reconcile(ctx, provider.Name(), result.TokensUsed)
	return result, nil
}

// admit charges the provider's quota window before the call goes out.
func (r *Router) admit(ctx context.Context, provider string) error {
	admitted, delay := r.quota.Admit(ctx, provider)
	if admitted {
		return nil
	}
	return &RateLimitedError{Provider: provider, Delay: delay}
}

// classifyDispatchError converts a provider-reported rate limit into a
// cool-down plus RateLimitedError; everything else passes through.
func (r *Router) classifyDispatchError(ctx context.Context, provider string, err error) error {
	var providerErr *outbound.ProviderError
	if errors.As(err, &providerErr) && providerErr.IsRateLimit() {
		cooldown := r.quota.ReportRateLimit(ctx, provider, providerErr.RetryAfter)
		return &RateLimitedError{Provider: provider, Delay: cooldown, Reported: true}
	}
	return err
}

func shouldFallBack(route outbound.ModelRoute, err error) bool {
	if !route.FallbackOnMalformed || route.FallbackModel == "" {
		return false
	}
	var providerErr *outbound.ProviderError
	return errors.As(err, &providerErr) && providerErr.IsMalformed()
}
