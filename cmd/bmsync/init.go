package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/ingest"
	"github.com/hherb/bmlib/internal/logging"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the publication and ledger tables",
	Long: `Create the publication and ledger tables in the configured database.

Safe to run repeatedly; existing tables and data are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := mustLoadConfig()
	logger := mustNewLogger(cfg)
	defer logging.Sync(logger)

	conn := mustOpenDatabase(ctx, cfg)
	defer conn.Close()

	syncer := ingest.New(conn, newRegistry(cfg, logger), ingest.WithLogger(logger))
	if err := syncer.EnsureSchema(ctx); err != nil {
		exitWithError(ExitError, "creating schema: %v", err)
	}
	logger.Info("schema ready", zap.String("database", conn.Target()))

	if humanOutput {
		outputHuman("Initialized %s\n", conn.Target())
		return nil
	}
	return outputJSON(StatusResponse{Status: "initialized", Database: conn.Target()})
}
