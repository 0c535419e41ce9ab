package entity

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCurrency is the locale fallback applied when a model omits the
// receipt currency. The guess carries reduced confidence so callers can
// distinguish it from an extracted value.
const (
	DefaultCurrency           = "MYR"
	GuessedCurrencyConfidence = 0.5
)

// LineItem is one purchased item on a receipt.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

// FieldConfidences carries per-field confidence scores from the model,
// each in [0,1].
type FieldConfidences struct {
	Merchant      float64 `json:"merchant"`
	Date          float64 `json:"date"`
	Total         float64 `json:"total"`
	Tax           float64 `json:"tax"`
	Currency      float64 `json:"currency"`
	PaymentMethod float64 `json:"payment_method"`
	Category      float64 `json:"category"`
	LineItems     float64 `json:"line_items"`
}

// ReceiptExtraction is the structured result of one receipt-extraction job.
type ReceiptExtraction struct {
	SourceID       uuid.UUID        `json:"source_id"`
	Merchant       string           `json:"merchant"`
	Date           string           `json:"date"`
	Total          float64          `json:"total"`
	Tax            float64          `json:"tax"`
	Currency       string           `json:"currency"`
	PaymentMethod  string           `json:"payment_method"`
	Category       string           `json:"category"`
	LineItems      []LineItem       `json:"line_items"`
	FullText       string           `json:"full_text"`
	Confidence     FieldConfidences `json:"confidence"`
	ModelRequested string           `json:"model_requested"`
	ModelUsed      string           `json:"model_used"`
	ExtractedAt    time.Time        `json:"extracted_at"`
}

// ApplyCurrencyFallback fills in the default currency guess when the model
// omitted one, capping its confidence. All other confidence scores pass
// through unmodified.
func (r *ReceiptExtraction) ApplyCurrencyFallback() {
	if r.Currency != "" {
		return
	}
	r.Currency = DefaultCurrency
	if r.Confidence.Currency > GuessedCurrencyConfidence {
		r.Confidence.Currency = GuessedCurrencyConfidence
	}
}

// ModelSubstituted reports whether the fallback router answered with a
// different model than the one originally requested.
func (r *ReceiptExtraction) ModelSubstituted() bool {
	return r.ModelRequested != "" && r.ModelUsed != "" && r.ModelRequested != r.ModelUsed
}
