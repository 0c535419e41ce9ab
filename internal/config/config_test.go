package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "receiptflow",
			Name:    "receiptflow",
			SSLMode: "disable",
		},
		Worker: WorkerConfig{
			Concurrency:       4,
			HeartbeatInterval: 10 * time.Second,
			StaleThreshold:    time.Minute,
		},
		Batch: BatchConfig{
			FailureThreshold: 0.5,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept valid configuration", func(t *testing.T) {
		cfg := validTestConfig()

		require.NoError(t, cfg.Validate())
	})

	t.Run("should require database user", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Database.User = ""

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.user")
	})

	t.Run("should reject out-of-range database port", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Database.Port = 70000

		require.Error(t, cfg.Validate())
	})

	t.Run("should reject zero worker concurrency", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Worker.Concurrency = 0

		require.Error(t, cfg.Validate())
	})

	t.Run("should reject stale threshold shorter than heartbeat interval", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Worker.StaleThreshold = 5 * time.Second
		cfg.Worker.HeartbeatInterval = 10 * time.Second

		require.Error(t, cfg.Validate())
	})

	t.Run("should reject failure threshold above one", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Batch.FailureThreshold = 1.5

		require.Error(t, cfg.Validate())
	})

	t.Run("should require a provider key in production log levels", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Log.Level = "error"

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})
}

func TestDatabaseDSN(t *testing.T) {
	t.Run("should format connection string", func(t *testing.T) {
		cfg := validTestConfig()

		dsn := cfg.Database.DSN()

		assert.Equal(t, "host=localhost port=5432 user=receiptflow password= dbname=receiptflow sslmode=disable", dsn)
	})
}
