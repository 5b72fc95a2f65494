package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hherb/bmlib/internal/storage"
)

var exportOutput string

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all publications as JSONL",
	Long: `Export every canonical publication as one JSON object per line, in ID order.

Examples:
  bmsync export > publications.jsonl
  bmsync export -o publications.jsonl`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg := mustLoadConfig()
	conn := mustOpenDatabase(ctx, cfg)
	defer conn.Close()

	store := storage.New(conn)
	if err := store.EnsureSchema(ctx); err != nil {
		exitWithError(ExitError, "creating schema: %v", err)
	}

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			exitWithError(ExitError, "creating %s: %v", exportOutput, err)
		}
		defer f.Close()
		w = f
	}

	n, err := store.ExportJSONL(ctx, w)
	if err != nil {
		exitWithError(ExitError, "exporting: %v", err)
	}

	// stdout carries the data itself, so only report when writing a file
	if exportOutput == "" {
		return nil
	}
	if humanOutput {
		outputHuman("Exported %d publications to %s\n", n, exportOutput)
		return nil
	}
	return outputJSON(StatusResponse{Status: "exported", Path: exportOutput, Count: n})
}
