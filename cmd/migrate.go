package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"receiptflow/internal/application/common/slogger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// newMigrateCmd creates and returns the migrate command.
func newMigrateCmd() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run database migrations to set up or update the database schema.

Migrations are plain SQL files applied in lexical order. Each file runs
in its own transaction and is recorded in schema_migrations, so rerunning
the command only applies files not seen before.

Configuration for the database connection is loaded from config files and
environment variables.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrations(migrationsDir)
		},
	}

	cmd.Flags().StringVar(&migrationsDir, "dir", "./migrations", "Directory containing migration SQL files")
	return cmd
}

func runMigrations(dir string) error {
	cfg := GetConfig()

	pool, err := setupDatabaseConnection(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	applied, err := applyMigrations(ctx, pool, dir)
	if err != nil {
		return err
	}

	slogger.InfoNoCtx("Migrations complete", slogger.Fields{
		"applied": applied,
		"dir":     dir,
	})
	return nil
}

// applyMigrations applies every unapplied .sql file in dir, in lexical
// order, and returns how many ran.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) (int, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations table: %w", err)
	}

	files, err := migrationFiles(dir)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, file := range files {
		ran, err := applyMigration(ctx, pool, dir, file)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", file, err)
		}
		if ran {
			applied++
			slogger.InfoNoCtx("Applied migration", slogger.Field("file", file))
		}
	}
	return applied, nil
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, dir, file string) (bool, error) {
	sql, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The insert doubles as a lock: a second migrator racing on the same
	// file blocks here and then skips it.
	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`, file)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func init() {
	rootCmd.AddCommand(newMigrateCmd())
}
