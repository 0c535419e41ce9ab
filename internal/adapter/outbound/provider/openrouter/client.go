// Package openrouter implements the ModelProvider port against any
// OpenAI-compatible chat API, OpenRouter by default.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"receiptflow/internal/adapter/outbound/provider"
	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/port/outbound"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// ProviderName identifies this adapter for quota and metrics attribution.
	ProviderName = "openrouter"

	// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// ClientConfig holds the configuration for the OpenRouter client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key cannot be empty")
	}
	if c.Model == "" {
		return errors.New("model cannot be empty")
	}
	return nil
}

// Client talks to OpenAI-compatible chat APIs through langchaingo.
type Client struct {
	config ClientConfig
	llm    llms.Model
	retry  *provider.RetryExecutor
}

// NewClient creates a new OpenRouter client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid openrouter client config: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openrouter client: %w", err)
	}

	return &Client{
		config: config,
		llm:    llm,
		retry:  provider.NewRetryExecutor(provider.RetryConfig{MaxAttempts: config.MaxRetries + 1}),
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return ProviderName
}

// ExtractReceipt runs a vision extraction through the chat API with JSON
// mode requested.
func (c *Client) ExtractReceipt(
	ctx context.Context,
	req outbound.ExtractionRequest,
) (*outbound.ExtractionResult, error) {
	if len(req.ImageData) == 0 {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client", "empty image data", false, nil,
		)
	}

	mimeType := "image/" + req.ImageFormat
	if req.ImageFormat == "" {
		mimeType = "image/jpeg"
	}

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(provider.ExtractionPrompt),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, req.ImageData),
			},
		},
	}

	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	options := []llms.CallOption{
		llms.WithTemperature(0.0),
		llms.WithJSONMode(),
	}
	if req.Model != "" {
		options = append(options, llms.WithModel(req.Model))
	}

	start := time.Now()
	var response *llms.ContentResponse
	err := c.retry.ExecuteWithRetry(callCtx, func() error {
		var callErr error
		response, callErr = c.llm.GenerateContent(callCtx, content, options...)
		if callErr != nil {
			return classifyLLMError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	if len(response.Choices) == 0 {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeMalformed, "parse", "response carries no choices", false, nil,
		)
	}

	choice := response.Choices[0]
	extraction, err := provider.ParseExtraction(choice.Content, req.SourceID)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	extraction.ModelUsed = model

	tokens := totalTokens(choice.GenerationInfo)
	slogger.Debug(ctx, "OpenRouter extraction completed", slogger.Fields{
		"model":   model,
		"tokens":  tokens,
		"latency": latency.String(),
	})

	return &outbound.ExtractionResult{
		Extraction:  extraction,
		TokensUsed:  tokens,
		Latency:     latency,
		RawResponse: choice.Content,
	}, nil
}

// GenerateEmbedding is not offered by the chat surface this adapter wraps.
func (c *Client) GenerateEmbedding(
	_ context.Context,
	_ string,
	_ string,
) (*outbound.EmbeddingResult, error) {
	return nil, outbound.NewProviderError(
		outbound.ProviderErrCodeInvalidInput, "client",
		"openrouter adapter does not support embedding generation", false, nil,
	)
}

// ValidateAPIKey verifies credentials with a minimal chat call.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	_, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart("ping")},
		},
	}, llms.WithMaxTokens(1))
	if err != nil {
		return classifyLLMError(err)
	}
	return nil
}

// classifyLLMError maps langchaingo errors into the provider taxonomy by
// inspecting the message, the typed status is not surfaced.
func classifyLLMError(err error) *outbound.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return outbound.NewProviderError(
			outbound.ProviderErrCodeTimeout, "network", "request deadline exceeded", true, err,
		)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return outbound.NewProviderError(
			outbound.ProviderErrCodeRateLimit, "client", "provider rate limit", true, err,
		)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return outbound.NewProviderError(
			outbound.ProviderErrCodeAuth, "client", "authentication rejected", false, err,
		)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request"):
		return outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client", "provider rejected input", false, err,
		)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "overloaded"):
		return outbound.NewProviderError(
			outbound.ProviderErrCodeServer, "server", "provider server error", true, err,
		)
	default:
		return outbound.NewProviderError(
			outbound.ProviderErrCodeNetwork, "network", "transport failure", true, err,
		)
	}
}

// totalTokens digs the usage count out of langchaingo generation info,
// which varies by backend.
func totalTokens(info map[string]any) int {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		if v, ok := info[key]; ok {
			switch n := v.(type) {
			case int:
				return n
			case float64:
				return int(n)
			}
		}
	}
	return 0
}
