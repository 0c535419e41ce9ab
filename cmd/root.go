// Package cmd provides command-line interface functionality for the receiptflow application.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"receiptflow/internal/application/common/logging"
	"receiptflow/internal/application/common/slogger"
	"receiptflow/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "receiptflow",
	Short: "A receipt image processing pipeline",
	Long: `ReceiptFlow is a production-grade pipeline for extracting structured data
from receipt images using AI model providers.

The system supports:
- Durable job queueing backed by PostgreSQL
- Worker coordination with heartbeats and stale-job reclamation
- Receipt extraction and embedding generation via Gemini and OpenRouter
- Per-provider rate limiting with persisted quota windows
- Batch sessions with progress notifications over NATS`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	// Bind flags to viper
	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-level flag: %v\n", err)
	}
	if err := viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-format flag: %v\n", err)
	}
}

func initConfig() {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("RECEIPTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found; use defaults and environment
	}

	// Load configuration
	cfg = config.New(v)

	initLogging(cfg)
}

// initLogging replaces the process-wide logger with one built from config.
func initLogging(cfg *config.Config) {
	logger, err := logging.NewApplicationLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger, using defaults: %v\n", err)
		return
	}
	slogger.SetGlobalLogger(logger)
}

func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.claim_batch_size", 8)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.heartbeat_interval", "15s")
	v.SetDefault("worker.stale_threshold", "60s")
	v.SetDefault("worker.job_timeout", "5m")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "receiptflow")
	v.SetDefault("database.name", "receiptflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_connections", 5)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.enabled", false)

	// Provider defaults
	v.SetDefault("gemini.timeout", "60s")
	v.SetDefault("gemini.max_retries", 3)
	v.SetDefault("gemini.requests_per_minute", 60)
	v.SetDefault("gemini.tokens_per_minute", 120000)
	v.SetDefault("gemini.rate_limit_cooldown", "30s")
	v.SetDefault("gemini.estimated_call_tokens", 2000)
	v.SetDefault("openrouter.timeout", "60s")
	v.SetDefault("openrouter.max_retries", 3)
	v.SetDefault("openrouter.requests_per_minute", 60)
	v.SetDefault("openrouter.tokens_per_minute", 120000)
	v.SetDefault("openrouter.rate_limit_cooldown", "30s")
	v.SetDefault("openrouter.estimated_call_tokens", 2000)

	// Queue defaults
	v.SetDefault("queue.default_max_retries", 3)
	v.SetDefault("queue.terminal_retention", "168h")
	v.SetDefault("queue.cleanup_interval", "1h")
	v.SetDefault("queue.reclaim_interval", "30s")

	// Batch defaults
	v.SetDefault("batch.max_files", 100)
	v.SetDefault("batch.default_strategy", "parallel")
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("batch.failure_threshold", 0.5)
	v.SetDefault("batch.progress_subject", "receiptflow.batch.progress")

	// Model routing defaults
	v.SetDefault("models.routing_file", "./configs/models.yaml")

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}
