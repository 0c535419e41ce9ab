// Package gemini implements the ModelProvider port against the Gemini
// generateContent and embedContent REST APIs.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"receiptflow/internal/adapter/outbound/provider"
	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/port/outbound"
)

const (
	// ProviderName identifies this adapter for quota and metrics attribution.
	ProviderName = "gemini"

	// DefaultBaseURL is the Gemini REST endpoint root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultVisionModel is used when a request names no model.
	DefaultVisionModel = "gemini-2.5-flash"

	maxResponseBytes = 4 << 20
)

// ClientConfig holds the configuration for the Gemini API client.
type ClientConfig struct {
	APIKey     string        `json:"api_key"`
	BaseURL    string        `json:"base_url"`
	Model      string        `json:"model"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	UserAgent  string        `json:"user_agent"`
}

// Validate validates the client configuration.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key cannot be empty")
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil || !strings.HasPrefix(c.BaseURL, "http") {
			return errors.New("invalid base URL")
		}
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	return nil
}

// Client is a Gemini REST API client implementing the ModelProvider port.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retry      *provider.RetryExecutor
	breaker    *provider.CircuitBreaker
}

// NewClient creates a new Gemini API client.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gemini client config: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultVisionModel
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      provider.NewRetryExecutor(provider.RetryConfig{MaxAttempts: config.MaxRetries + 1}),
		breaker:    provider.NewCircuitBreaker(5, time.Minute),
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return ProviderName
}

// generateContent request/response wire types.

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *inlineDataPart `json:"inline_data,omitempty"`
}

type inlineDataPart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateContentRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ExtractReceipt runs a vision extraction against the generateContent API.
func (c *Client) ExtractReceipt(
	ctx context.Context,
	req outbound.ExtractionRequest,
) (*outbound.ExtractionResult, error) {
	if len(req.ImageData) == 0 {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client", "empty image data", false, nil,
		)
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	mimeType := "image/" + req.ImageFormat
	if req.ImageFormat == "" {
		mimeType = "image/jpeg"
	}

	body := generateContentRequest{
		Contents: []generateContent{{
			Parts: []generatePart{
				{Text: provider.ExtractionPrompt},
				{InlineData: &inlineDataPart{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(req.ImageData),
				}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      0,
			ResponseMimeType: "application/json",
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.config.BaseURL, model)

	start := time.Now()
	var parsed generateContentResponse
	if err := c.call(ctx, endpoint, body, &parsed); err != nil {
		return nil, err
	}
	latency := time.Since(start)

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeMalformed, "parse", "response carries no candidates", false, nil,
		)
	}

	raw := parsed.Candidates[0].Content.Parts[0].Text
	extraction, err := provider.ParseExtraction(raw, req.SourceID)
	if err != nil {
		return nil, err
	}
	extraction.ModelUsed = model

	slogger.Debug(ctx, "Gemini extraction completed", slogger.Fields{
		"model":   model,
		"tokens":  parsed.UsageMetadata.TotalTokenCount,
		"latency": latency.String(),
	})

	return &outbound.ExtractionResult{
		Extraction:  extraction,
		TokensUsed:  parsed.UsageMetadata.TotalTokenCount,
		Latency:     latency,
		RawResponse: raw,
	}, nil
}

// embedContent wire types.

type embedContentRequest struct {
	Content generateContent `json:"content"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// GenerateEmbedding produces an embedding vector via the embedContent API.
func (c *Client) GenerateEmbedding(
	ctx context.Context,
	text string,
	model string,
) (*outbound.EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client", "empty embedding input", false, nil,
		)
	}

	if model == "" {
		model = "gemini-embedding-001"
	}

	body := embedContentRequest{
		Content: generateContent{Parts: []generatePart{{Text: text}}},
	}
	endpoint := fmt.Sprintf("%s/models/%s:embedContent", c.config.BaseURL, model)

	start := time.Now()
	var parsed embedContentResponse
	if err := c.call(ctx, endpoint, body, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Embedding.Values) == 0 {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeMalformed, "parse", "response carries no embedding values", false, nil,
		)
	}

	// The embed API reports no usage; estimate from input length.
	estimatedTokens := len(text) / 4

	return &outbound.EmbeddingResult{
		Vector:     parsed.Embedding.Values,
		Dimensions: len(parsed.Embedding.Values),
		TokensUsed: estimatedTokens,
		Latency:    time.Since(start),
	}, nil
}

// ValidateAPIKey verifies the configured credentials with a minimal call.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/models/%s", c.config.BaseURL, c.config.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build validation request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return provider.ClassifyHTTPStatus(resp.StatusCode, string(payload), resp.Header)
	}

	return nil
}

// call posts the body and decodes the response, with retry and circuit
// breaking around the transport.
func (c *Client) call(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.retry.ExecuteWithRetry(ctx, func() error {
		return c.breaker.Execute(func() error {
			return c.doOnce(ctx, endpoint, payload, out)
		})
	})
}

func (c *Client) doOnce(ctx context.Context, endpoint string, payload []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return provider.ClassifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return provider.ClassifyHTTPStatus(resp.StatusCode, truncate(string(raw), 512), resp.Header)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return outbound.NewProviderError(
			outbound.ProviderErrCodeMalformed, "parse", "failed to decode provider response", false, err,
		)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
