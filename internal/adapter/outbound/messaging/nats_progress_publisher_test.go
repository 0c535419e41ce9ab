package messaging

import (
	"context"
	"testing"

	"receiptflow/internal/config"
	"receiptflow/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNATSProgressPublisher_Validation(t *testing.T) {
	t.Run("should reject empty URL", func(t *testing.T) {
		// Arrange
		cfg := config.NATSConfig{URL: ""}

		// Act
		publisher, err := NewNATSProgressPublisher(cfg, "receiptflow.batch.progress")

		// Assert
		require.Error(t, err)
		assert.Nil(t, publisher)
		assert.Contains(t, err.Error(), "URL cannot be empty")
	})

	t.Run("should reject non-nats URL scheme", func(t *testing.T) {
		// Arrange
		cfg := config.NATSConfig{URL: "http://localhost:4222"}

		// Act
		publisher, err := NewNATSProgressPublisher(cfg, "receiptflow.batch.progress")

		// Assert
		require.Error(t, err)
		assert.Nil(t, publisher)
		assert.Contains(t, err.Error(), "invalid NATS URL scheme")
	})

	t.Run("should reject empty subject", func(t *testing.T) {
		// Arrange
		cfg := config.NATSConfig{URL: "nats://localhost:4222"}

		// Act
		publisher, err := NewNATSProgressPublisher(cfg, "")

		// Assert
		require.Error(t, err)
		assert.Nil(t, publisher)
	})
}

func TestNoopProgressPublisher(t *testing.T) {
	t.Run("should accept events and report healthy", func(t *testing.T) {
		// Arrange
		publisher := NoopProgressPublisher{}
		event := outbound.BatchProgressEvent{BatchID: uuid.New(), TotalFiles: 3}

		// Act
		publishErr := publisher.PublishBatchProgress(context.Background(), event)
		health := publisher.GetConnectionHealth()

		// Assert
		require.NoError(t, publishErr)
		assert.True(t, health.Connected)
		assert.NoError(t, publisher.Close())
	})
}
