// Package main provides the bmsync CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/config"
	"github.com/hherb/bmlib/internal/db"
	"github.com/hherb/bmlib/internal/logging"
	"github.com/hherb/bmlib/internal/source"
	"github.com/hherb/bmlib/internal/source/builtin"
)

// Version is set at build time via ldflags
var Version = "dev"

// Global flags
var (
	humanOutput  bool
	databaseFlag string
	logLevelFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so cobra errors are printed here
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bmsync",
	Short: "Publication ingestion and sync",
	Long: `bmsync downloads biomedical publication metadata from PubMed, bioRxiv,
medRxiv and OpenAlex into one deduplicated store.

Each (source, day) fetch is recorded in a ledger, so repeated runs only
fetch days that are missing, failed, partial, or due for re-verification.

Configuration is read from ~/.config/bmlib/config.yml (or config.toml),
then overridden by BMLIB_* environment variables and a .env file.
All commands output JSON by default; use --human for tables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&databaseFlag, "database", "", "SQLite path or postgres:// URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.Version = Version
}

// mustLoadConfig loads the global config and applies flag overrides, exits on error.
func mustLoadConfig() *config.GlobalConfig {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if databaseFlag != "" {
		cfg.Database = config.ExpandTilde(databaseFlag)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	return cfg
}

// mustNewLogger builds the zap logger for cfg, exits on error.
func mustNewLogger(cfg *config.GlobalConfig) *zap.Logger {
	logger, err := logging.New(logging.Options{Mode: cfg.LogMode, Level: cfg.LogLevel})
	if err != nil {
		exitWithError(ExitConfigError, "configuring logging: %v", err)
	}
	return logger
}

// mustOpenDatabase opens the configured database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(ctx context.Context, cfg *config.GlobalConfig) *db.DB {
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return conn
}

// newRegistry builds the built-in source registry for cfg.
func newRegistry(cfg *config.GlobalConfig, logger *zap.Logger) *source.Registry {
	return builtin.NewRegistry(builtin.Options{
		Config: source.Config{
			Email:      cfg.Email,
			UserAgent:  "bmsync/" + Version,
			HTTPClient: newHTTPClient(cfg.Timeout()),
		},
		APIKeys: cfg.APIKeys,
		Logger:  logger,
	})
}
