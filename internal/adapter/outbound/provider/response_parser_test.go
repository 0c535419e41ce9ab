package provider

import (
	"errors"
	"testing"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validResponse = `{
	"merchant": "Aeon Big",
	"date": "2026-03-14",
	"total": 58.90,
	"tax": 3.30,
	"currency": "MYR",
	"payment_method": "credit_card",
	"category": "groceries",
	"line_items": [
		{"description": "Rice 5kg", "quantity": 1, "unit_price": 28.50, "amount": 28.50}
	],
	"full_text": "AEON BIG ...",
	"confidence": {"merchant": 0.98, "date": 0.95, "total": 0.99, "tax": 0.9, "currency": 0.97, "payment_method": 0.8, "category": 0.7, "line_items": 0.85}
}`

func TestParseExtraction(t *testing.T) {
	t.Run("should parse a well-formed response", func(t *testing.T) {
		sourceID := uuid.New()

		extraction, err := ParseExtraction(validResponse, sourceID)

		require.NoError(t, err)
		assert.Equal(t, sourceID, extraction.SourceID)
		assert.Equal(t, "Aeon Big", extraction.Merchant)
		assert.Equal(t, "MYR", extraction.Currency)
		assert.InDelta(t, 58.90, extraction.Total, 0.001)
		require.Len(t, extraction.LineItems, 1)
	})

	t.Run("should strip markdown fences before parsing", func(t *testing.T) {
		fenced := "```json\n" + validResponse + "\n```"

		extraction, err := ParseExtraction(fenced, uuid.New())

		require.NoError(t, err)
		assert.Equal(t, "Aeon Big", extraction.Merchant)
	})

	t.Run("should recover JSON preceded by prose", func(t *testing.T) {
		noisy := "Here is the extracted data:\n" + validResponse

		extraction, err := ParseExtraction(noisy, uuid.New())

		require.NoError(t, err)
		assert.Equal(t, "Aeon Big", extraction.Merchant)
	})

	t.Run("should apply currency fallback with capped confidence", func(t *testing.T) {
		response := `{"merchant": "Kedai Runcit", "date": "", "total": 12, "tax": 0,
			"currency": "", "payment_method": "cash", "category": "", "line_items": [],
			"full_text": "KEDAI RUNCIT", "confidence": {"merchant": 0.9, "currency": 0.9}}`

		extraction, err := ParseExtraction(response, uuid.New())

		require.NoError(t, err)
		assert.Equal(t, entity.DefaultCurrency, extraction.Currency)
		assert.LessOrEqual(t, extraction.Confidence.Currency, entity.GuessedCurrencyConfidence)
	})

	t.Run("should classify invalid JSON as malformed", func(t *testing.T) {
		_, err := ParseExtraction("the receipt shows a total of RM58.90", uuid.New())

		require.Error(t, err)
		var providerErr *outbound.ProviderError
		require.True(t, errors.As(err, &providerErr))
		assert.True(t, providerErr.IsMalformed())
		assert.False(t, providerErr.Retryable)
	})

	t.Run("should classify schema violations as malformed", func(t *testing.T) {
		cases := map[string]string{
			"negative total":   `{"merchant": "X", "total": -5, "full_text": "X"}`,
			"bad date":         `{"merchant": "X", "date": "14/03/2026", "total": 5, "full_text": "X"}`,
			"confidence range": `{"merchant": "X", "total": 5, "full_text": "X", "confidence": {"merchant": 1.5}}`,
			"empty payload":    `{}`,
		}

		for name, raw := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := ParseExtraction(raw, uuid.New())

				require.Error(t, err)
				var providerErr *outbound.ProviderError
				require.True(t, errors.As(err, &providerErr))
				assert.True(t, providerErr.IsMalformed())
			})
		}
	})
}
