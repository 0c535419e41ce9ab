package outbound

import (
	"context"

	"receiptflow/internal/domain/entity"

	"github.com/google/uuid"
)

// SourceImage is one stored receipt image ready for provider submission.
type SourceImage struct {
	Data   []byte
	Format string // "jpeg", "png", "webp"
}

// SourceStore defines the outbound port for receipt source files and
// processing results.
type SourceStore interface {
	// SaveImage stores the uploaded image bytes for a source item.
	SaveImage(ctx context.Context, sourceID uuid.UUID, image *SourceImage) error

	// LoadImage returns the stored image for a source item.
	LoadImage(ctx context.Context, sourceID uuid.UUID) (*SourceImage, error)

	// LoadExtractedText returns the full text of a completed extraction,
	// used as embedding input.
	LoadExtractedText(ctx context.Context, sourceID uuid.UUID) (string, error)

	// SaveExtraction upserts the structured extraction result for a source.
	SaveExtraction(ctx context.Context, extraction *entity.ReceiptExtraction) error

	// SaveEmbedding upserts the embedding vector for a source.
	SaveEmbedding(ctx context.Context, sourceID uuid.UUID, model string, vector []float64) error
}
