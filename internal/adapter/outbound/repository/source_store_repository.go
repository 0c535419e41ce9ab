package repository

import (
	"context"
	"encoding/json"

	"receiptflow/internal/domain/entity"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLSourceStore implements the SourceStore port across three
// tables: source_files holds the uploaded image bytes, receipt_extractions
// the structured results, and receipt_embeddings the vectors.
type PostgreSQLSourceStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLSourceStore creates a new source store.
func NewPostgreSQLSourceStore(pool *pgxpool.Pool) *PostgreSQLSourceStore {
	return &PostgreSQLSourceStore{
		pool: pool,
	}
}

// SaveImage stores the uploaded image bytes for a new source item.
func (s *PostgreSQLSourceStore) SaveImage(ctx context.Context, sourceID uuid.UUID, image *outbound.SourceImage) error {
	if image == nil || len(image.Data) == 0 {
		return ErrInvalidArgument
	}

	query := `
		INSERT INTO source_files (source_id, image_data, image_format, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source_id) DO UPDATE SET
			image_data = EXCLUDED.image_data,
			image_format = EXCLUDED.image_format`

	qi := GetQueryInterface(ctx, s.pool)
	if _, err := qi.Exec(ctx, query, sourceID, image.Data, image.Format); err != nil {
		return WrapError(err, "save source image")
	}
	return nil
}

// LoadImage returns the stored image for a source item.
func (s *PostgreSQLSourceStore) LoadImage(ctx context.Context, sourceID uuid.UUID) (*outbound.SourceImage, error) {
	query := `
		SELECT image_data, image_format
		FROM source_files
		WHERE source_id = $1`

	qi := GetQueryInterface(ctx, s.pool)

	image := &outbound.SourceImage{}
	err := qi.QueryRow(ctx, query, sourceID).Scan(&image.Data, &image.Format)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, WrapError(err, "load source image")
	}
	return image, nil
}

// LoadExtractedText returns the full text of a completed extraction, or
// empty string when none exists.
func (s *PostgreSQLSourceStore) LoadExtractedText(ctx context.Context, sourceID uuid.UUID) (string, error) {
	query := `
		SELECT full_text
		FROM receipt_extractions
		WHERE source_id = $1`

	qi := GetQueryInterface(ctx, s.pool)

	var fullText string
	err := qi.QueryRow(ctx, query, sourceID).Scan(&fullText)
	if err != nil {
		if IsNotFoundError(err) {
			return "", ErrNotFound
		}
		return "", WrapError(err, "load extracted text")
	}
	return fullText, nil
}

// SaveExtraction upserts the structured extraction result for a source.
func (s *PostgreSQLSourceStore) SaveExtraction(ctx context.Context, extraction *entity.ReceiptExtraction) error {
	if extraction == nil {
		return ErrInvalidArgument
	}

	lineItems, err := json.Marshal(extraction.LineItems)
	if err != nil {
		return WrapError(err, "marshal line items")
	}
	confidence, err := json.Marshal(extraction.Confidence)
	if err != nil {
		return WrapError(err, "marshal confidence")
	}

	query := `
		INSERT INTO receipt_extractions (
			source_id, merchant, receipt_date, total, tax, currency,
			payment_method, category, line_items, full_text, confidence,
			model_requested, model_used, extracted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (source_id) DO UPDATE SET
			merchant = EXCLUDED.merchant,
			receipt_date = EXCLUDED.receipt_date,
			total = EXCLUDED.total,
			tax = EXCLUDED.tax,
			currency = EXCLUDED.currency,
			payment_method = EXCLUDED.payment_method,
			category = EXCLUDED.category,
			line_items = EXCLUDED.line_items,
			full_text = EXCLUDED.full_text,
			confidence = EXCLUDED.confidence,
			model_requested = EXCLUDED.model_requested,
			model_used = EXCLUDED.model_used,
			extracted_at = EXCLUDED.extracted_at`

	qi := GetQueryInterface(ctx, s.pool)
	_, err = qi.Exec(ctx, query,
		extraction.SourceID, extraction.Merchant, extraction.Date,
		extraction.Total, extraction.Tax, extraction.Currency,
		extraction.PaymentMethod, extraction.Category, lineItems,
		extraction.FullText, confidence,
		extraction.ModelRequested, extraction.ModelUsed, extraction.ExtractedAt,
	)
	if err != nil {
		return WrapError(err, "save receipt extraction")
	}
	return nil
}

// SaveEmbedding upserts the embedding vector for a source.
func (s *PostgreSQLSourceStore) SaveEmbedding(ctx context.Context, sourceID uuid.UUID, model string, vector []float64) error {
	if len(vector) == 0 {
		return ErrInvalidArgument
	}

	encoded, err := json.Marshal(vector)
	if err != nil {
		return WrapError(err, "marshal embedding vector")
	}

	query := `
		INSERT INTO receipt_embeddings (source_id, model, vector, dimensions, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (source_id) DO UPDATE SET
			model = EXCLUDED.model,
			vector = EXCLUDED.vector,
			dimensions = EXCLUDED.dimensions,
			created_at = NOW()`

	qi := GetQueryInterface(ctx, s.pool)
	if _, err := qi.Exec(ctx, query, sourceID, model, encoded, len(vector)); err != nil {
		return WrapError(err, "save receipt embedding")
	}
	return nil
}
