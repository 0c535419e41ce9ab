package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"receiptflow/internal/port/outbound"
)

// ClassifyHTTPStatus maps a provider HTTP status into the closed
// ProviderError taxonomy.
func ClassifyHTTPStatus(statusCode int, body string, headers http.Header) *outbound.ProviderError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return outbound.NewProviderError(
			outbound.ProviderErrCodeAuth, "client", "authentication rejected: "+body, false, nil,
		)
	case statusCode == http.StatusTooManyRequests:
		providerErr := outbound.NewProviderError(
			outbound.ProviderErrCodeRateLimit, "client", "provider rate limit: "+body, true, nil,
		)
		providerErr.RetryAfter = parseRetryAfter(headers)
		return providerErr
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity ||
		statusCode == http.StatusRequestEntityTooLarge:
		return outbound.NewProviderError(
			outbound.ProviderErrCodeInvalidInput, "client", "provider rejected input: "+body, false, nil,
		)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return outbound.NewProviderError(
			outbound.ProviderErrCodeTimeout, "server", "provider timeout: "+body, true, nil,
		)
	case statusCode >= 500:
		return outbound.NewProviderError(
			outbound.ProviderErrCodeServer, "server", "provider server error: "+body, true, nil,
		)
	default:
		return outbound.NewProviderError(
			outbound.ProviderErrCodeServer, "server",
			"unexpected provider status "+strconv.Itoa(statusCode)+": "+body, false, nil,
		)
	}
}

// ClassifyTransportError maps network and context failures into the
// taxonomy.
func ClassifyTransportError(err error) *outbound.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return outbound.NewProviderError(
			outbound.ProviderErrCodeTimeout, "network", "request deadline exceeded", true, err,
		)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outbound.NewProviderError(
			outbound.ProviderErrCodeTimeout, "network", "network timeout", true, err,
		)
	}

	return outbound.NewProviderError(
		outbound.ProviderErrCodeNetwork, "network", "transport failure", true, err,
	)
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form; zero when absent or unparseable.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}

	return 0
}
