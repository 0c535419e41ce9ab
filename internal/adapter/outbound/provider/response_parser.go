// Package provider holds the pieces shared by every AI provider adapter:
// the extraction prompt, response parsing and schema validation, error
// classification, and retry plumbing.
package provider

import (
	"encoding/json"
	"strings"
	"time"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
)

// ExtractionPrompt instructs vision models to answer with the receipt JSON
// schema and nothing else.
const ExtractionPrompt = `You are a receipt data extraction system. Analyze the receipt image and respond with ONLY a JSON object, no prose, matching this schema:
{
  "merchant": string,
  "date": "YYYY-MM-DD",
  "total": number,
  "tax": number,
  "currency": "ISO 4217 code or empty string if not visible",
  "payment_method": string,
  "category": string,
  "line_items": [{"description": string, "quantity": number, "unit_price": number, "amount": number}],
  "full_text": "all visible text on the receipt",
  "confidence": {"merchant": number, "date": number, "total": number, "tax": number, "currency": number, "payment_method": number, "category": number, "line_items": number}
}
Confidence values are between 0 and 1. Use empty strings and zeros for fields you cannot read.`

// receiptPayload mirrors the JSON schema the prompt requests.
type receiptPayload struct {
	Merchant      string                  `json:"merchant"`
	Date          string                  `json:"date"`
	Total         float64                 `json:"total"`
	Tax           float64                 `json:"tax"`
	Currency      string                  `json:"currency"`
	PaymentMethod string                  `json:"payment_method"`
	Category      string                  `json:"category"`
	LineItems     []entity.LineItem       `json:"line_items"`
	FullText      string                  `json:"full_text"`
	Confidence    entity.FieldConfidences `json:"confidence"`
}

// StripFences removes markdown code fences models sometimes wrap around
// JSON answers despite being told not to.
func StripFences(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ParseExtraction parses and validates a model's raw answer into a receipt
// extraction. Failures return a ProviderError with the malformed_response
// code so the router can decide on a fallback model.
func ParseExtraction(raw string, sourceID uuid.UUID) (*entity.ReceiptExtraction, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeMalformed, "parse", "empty model response", false, nil,
		)
	}

	var payload receiptPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		// Some models prepend prose before the JSON object. One bounded
		// re-parse from the first brace covers that case.
		if idx := strings.Index(text, "{"); idx > 0 {
			if retryErr := json.Unmarshal([]byte(text[idx:]), &payload); retryErr == nil {
				return buildExtraction(payload, sourceID)
			}
		}
		return nil, outbound.NewProviderError(
			outbound.ProviderErrCodeMalformed, "parse", "model response is not valid JSON", false, err,
		)
	}

	return buildExtraction(payload, sourceID)
}

func buildExtraction(payload receiptPayload, sourceID uuid.UUID) (*entity.ReceiptExtraction, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	extraction := &entity.ReceiptExtraction{
		SourceID:      sourceID,
		Merchant:      strings.TrimSpace(payload.Merchant),
		Date:          strings.TrimSpace(payload.Date),
		Total:         payload.Total,
		Tax:           payload.Tax,
		Currency:      strings.ToUpper(strings.TrimSpace(payload.Currency)),
		PaymentMethod: strings.TrimSpace(payload.PaymentMethod),
		Category:      strings.TrimSpace(payload.Category),
		LineItems:     payload.LineItems,
		FullText:      payload.FullText,
		Confidence:    payload.Confidence,
		ExtractedAt:   time.Now(),
	}
	extraction.ApplyCurrencyFallback()

	return extraction, nil
}

// validatePayload enforces the closed schema: a structurally valid JSON
// answer that violates it is still malformed.
func validatePayload(payload receiptPayload) error {
	malformed := func(msg string) error {
		return outbound.NewProviderError(outbound.ProviderErrCodeMalformed, "parse", msg, false, nil)
	}

	if payload.Merchant == "" && payload.FullText == "" {
		return malformed("response carries neither merchant nor full text")
	}
	if payload.Total < 0 {
		return malformed("negative total")
	}
	if payload.Tax < 0 {
		return malformed("negative tax")
	}
	if payload.Date != "" {
		if _, err := time.Parse("2006-01-02", payload.Date); err != nil {
			return malformed("date is not YYYY-MM-DD")
		}
	}
	if !confidenceInRange(payload.Confidence) {
		return malformed("confidence score outside [0,1]")
	}
	for _, item := range payload.LineItems {
		if item.Amount < 0 || item.Quantity < 0 || item.UnitPrice < 0 {
			return malformed("negative line item value")
		}
	}

	return nil
}

func confidenceInRange(c entity.FieldConfidences) bool {
	for _, v := range []float64{
		c.Merchant, c.Date, c.Total, c.Tax, c.Currency, c.PaymentMethod, c.Category, c.LineItems,
	} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}
