package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdca/api/internal/config"
	"pdca/api/internal/logger"
	"pdca/api/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "pdca-api",
	Short:         "PDCA goal management API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger every command uses.
func bootstrap() (config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, cfg config.Config, log *logger.Logger) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	version, err := store.MigrationVersion(ctx, db)
	if err != nil {
		log.Warn("read migration version", "error", err)
	}
	log.Info("database ready", "migration_version", version)
	return db, nil
}
