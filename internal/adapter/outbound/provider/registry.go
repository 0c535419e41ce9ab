package provider

import (
	"fmt"
	"os"

	"receiptflow/internal/domain/valueobject"
	"receiptflow/internal/port/outbound"

	"gopkg.in/yaml.v3"
)

// ModelSpec describes one routable model from the routing table.
type ModelSpec struct {
	ID                  string   `yaml:"id"`
	Provider            string   `yaml:"provider"`
	Capabilities        []string `yaml:"capabilities"`
	FallbackModel       string   `yaml:"fallback_model"`
	FallbackOnMalformed bool     `yaml:"fallback_on_malformed"`
}

// Supports reports whether the model can run the given operation.
func (s ModelSpec) Supports(operation valueobject.JobOperation) bool {
	for _, capability := range s.Capabilities {
		if capability == operation.String() {
			return true
		}
	}
	return false
}

// routingTable is the on-disk shape of configs/models.yaml.
type routingTable struct {
	Defaults map[string]string `yaml:"defaults"` // operation -> model id
	Models   []ModelSpec       `yaml:"models"`
}

// Registry resolves model IDs to specs and registered provider adapters.
type Registry struct {
	specs     map[string]ModelSpec
	defaults  map[valueobject.JobOperation]string
	providers map[string]outbound.ModelProvider
}

// LoadRegistry reads the model routing table from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model routing table: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a registry from raw routing-table YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var table routingTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse model routing table: %w", err)
	}
	if len(table.Models) == 0 {
		return nil, fmt.Errorf("model routing table defines no models")
	}

	registry := &Registry{
		specs:     make(map[string]ModelSpec, len(table.Models)),
		defaults:  make(map[valueobject.JobOperation]string),
		providers: make(map[string]outbound.ModelProvider),
	}

	for _, spec := range table.Models {
		if spec.ID == "" || spec.Provider == "" {
			return nil, fmt.Errorf("model entry missing id or provider")
		}
		registry.specs[spec.ID] = spec
	}

	for operationStr, modelID := range table.Defaults {
		operation, err := valueobject.NewJobOperation(operationStr)
		if err != nil {
			return nil, fmt.Errorf("routing table default: %w", err)
		}
		if _, ok := registry.specs[modelID]; !ok {
			return nil, fmt.Errorf("default model %q for %s is not in the table", modelID, operationStr)
		}
		registry.defaults[operation] = modelID
	}

	// Fallback targets must exist and share the operation surface.
	for _, spec := range table.Models {
		if spec.FallbackModel == "" {
			continue
		}
		if _, ok := registry.specs[spec.FallbackModel]; !ok {
			return nil, fmt.Errorf("model %q names unknown fallback %q", spec.ID, spec.FallbackModel)
		}
	}

	return registry, nil
}

// RegisterProvider attaches a provider adapter under its name.
func (r *Registry) RegisterProvider(p outbound.ModelProvider) {
	r.providers[p.Name()] = p
}

// Lookup resolves a model ID to its spec and provider adapter. Resolution
// failures are non-retryable: redispatching the same job cannot change the
// routing table.
func (r *Registry) Lookup(modelID string) (ModelSpec, outbound.ModelProvider, error) {
	spec, ok := r.specs[modelID]
	if !ok {
		return ModelSpec{}, nil, outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client",
			fmt.Sprintf("unknown model %q", modelID), false, nil,
		)
	}

	p, ok := r.providers[spec.Provider]
	if !ok {
		return ModelSpec{}, nil, outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client",
			fmt.Sprintf("no provider registered for %q (model %q)", spec.Provider, modelID), false, nil,
		)
	}

	return spec, p, nil
}

// DefaultModel returns the configured default model for an operation.
func (r *Registry) DefaultModel(operation valueobject.JobOperation) (string, error) {
	modelID, ok := r.defaults[operation]
	if !ok {
		return "", outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client",
			fmt.Sprintf("no default model configured for %s", operation), false, nil,
		)
	}
	return modelID, nil
}

// Models returns every registered model spec.
func (r *Registry) Models() []ModelSpec {
	specs := make([]ModelSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	return specs
}

// Resolve implements the ModelResolver port: it checks the model exists,
// supports the operation, and has a registered provider.
func (r *Registry) Resolve(
	modelID string,
	operation valueobject.JobOperation,
) (outbound.ModelRoute, outbound.ModelProvider, error) {
	spec, p, err := r.Lookup(modelID)
	if err != nil {
		return outbound.ModelRoute{}, nil, err
	}

	if !spec.Supports(operation) {
		return outbound.ModelRoute{}, nil, outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client",
			fmt.Sprintf("model %q does not support %s", modelID, operation), false, nil,
		)
	}

	return outbound.ModelRoute{
		ModelID:             spec.ID,
		Provider:            spec.Provider,
		FallbackModel:       spec.FallbackModel,
		FallbackOnMalformed: spec.FallbackOnMalformed,
	}, p, nil
}
