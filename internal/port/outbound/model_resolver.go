package outbound

import "receiptflow/internal/domain/valueobject"

// ModelRoute is the routing-table entry for one model.
type ModelRoute struct {
	ModelID             string
	Provider            string
	FallbackModel       string
	FallbackOnMalformed bool
}

// ModelResolver resolves model IDs against the routing table and the set of
// registered provider adapters.
type ModelResolver interface {
	// Resolve returns the route and provider for a model, verifying the
	// model supports the operation.
	Resolve(modelID string, operation valueobject.JobOperation) (ModelRoute, ModelProvider, error)

	// DefaultModel returns the configured default model for an operation.
	DefaultModel(operation valueobject.JobOperation) (string, error)
}
