package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Gemini     ProviderConfig   `mapstructure:"gemini"`
	OpenRouter ProviderConfig   `mapstructure:"openrouter"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Models     ModelsConfig     `mapstructure:"models"`
	Log        LogConfig        `mapstructure:"log"`
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	ClaimBatchSize    int           `mapstructure:"claim_batch_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleThreshold    time.Duration `mapstructure:"stale_threshold"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Name               string `mapstructure:"name"`
	SSLMode            string `mapstructure:"sslmode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections"`
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// NATSConfig holds NATS configuration for batch progress notifications.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Enabled       bool          `mapstructure:"enabled"`
}

// ProviderConfig holds one AI provider's credentials and quota budget.
type ProviderConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	DefaultModel        string        `mapstructure:"default_model"`
	MaxRetries          int           `mapstructure:"max_retries"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RequestsPerMinute   int           `mapstructure:"requests_per_minute"`
	TokensPerMinute     int           `mapstructure:"tokens_per_minute"`
	RateLimitCooldown   time.Duration `mapstructure:"rate_limit_cooldown"`
	EstimatedCallTokens int           `mapstructure:"estimated_call_tokens"`
}

// QueueConfig holds durable queue tuning.
type QueueConfig struct {
	DefaultMaxRetries int           `mapstructure:"default_max_retries"`
	TerminalRetention time.Duration `mapstructure:"terminal_retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	ReclaimInterval   time.Duration `mapstructure:"reclaim_interval"`
}

// BatchConfig holds batch session defaults.
type BatchConfig struct {
	MaxFiles         int     `mapstructure:"max_files"`
	DefaultStrategy  string  `mapstructure:"default_strategy"`
	MaxConcurrent    int     `mapstructure:"max_concurrent"`
	FailureThreshold float64 `mapstructure:"failure_threshold"`
	ProgressSubject  string  `mapstructure:"progress_subject"`
}

// ModelsConfig holds the model routing table location.
type ModelsConfig struct {
	RoutingFile string `mapstructure:"routing_file"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New creates a new Config instance from Viper.
func New(v *viper.Viper) *Config {
	var config Config

	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("invalid configuration: %w", err))
	}

	return &config
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}

	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return errors.New("database.port must be between 1 and 65535")
	}

	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be at least 1")
	}

	if c.Worker.StaleThreshold <= c.Worker.HeartbeatInterval {
		return errors.New("worker.stale_threshold must exceed worker.heartbeat_interval")
	}

	if c.Batch.FailureThreshold < 0 || c.Batch.FailureThreshold > 1 {
		return errors.New("batch.failure_threshold must be between 0 and 1")
	}

	// At least one provider credential is required in production
	if c.Log.Level == "error" || c.Log.Level == "fatal" {
		if c.Gemini.APIKey == "" && c.OpenRouter.APIKey == "" {
			return errors.New("at least one provider api_key is required in production")
		}
	}

	return nil
}
