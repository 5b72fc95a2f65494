package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/config"
	"github.com/hherb/bmlib/internal/ingest"
	"github.com/hherb/bmlib/internal/logging"
	"github.com/hherb/bmlib/internal/metrics"
	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/source"
)

var (
	syncSources     []string
	syncFrom        string
	syncTo          string
	syncRecheckDays int
	syncMetricsFile string
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringSliceVarP(&syncSources, "source", "s", nil, "Source to sync (repeatable; default: config sources, else all)")
	syncCmd.Flags().StringVar(&syncFrom, "from", "", "First day to sync, YYYY-MM-DD (default: yesterday)")
	syncCmd.Flags().StringVar(&syncTo, "to", "", "Last day to sync, YYYY-MM-DD (default: today)")
	syncCmd.Flags().IntVar(&syncRecheckDays, "recheck-days", -1, "Re-fetch completed days verified this many days ago (default: config, 0 disables)")
	syncCmd.Flags().StringVar(&syncMetricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch publications for a date range",
	Long: `Fetch publications from each source for every day in the range that the
ledger says needs fetching, merging them into the canonical store.

Only one sync may write to a database at a time; a second concurrent run
fails immediately.

Examples:
  bmsync sync
  bmsync sync --source pubmed --from 2024-01-01 --to 2024-01-31
  bmsync sync --recheck-days 30 --human`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := mustLoadConfig()

	opts, err := syncOptions(cfg)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	logger := mustNewLogger(cfg)
	defer logging.Sync(logger)

	registry := newRegistry(cfg, logger)
	if err := cfg.Validate(sourcesToRun(opts.Sources, registry)); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	lock, err := acquireLock(config.LockPath(cfg.Database))
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	defer lock.Unlock()

	conn := mustOpenDatabase(ctx, cfg)
	defer conn.Close()

	recorder := metrics.New()
	syncer := ingest.New(conn, registry,
		ingest.WithLogger(logger),
		ingest.WithRecorder(recorder),
	)
	if err := syncer.EnsureSchema(ctx); err != nil {
		exitWithError(ExitError, "creating schema: %v", err)
	}

	if humanOutput {
		opts.OnProgress = func(p publication.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s %s: %d/%d", p.Source, p.Date, p.RecordsProcessed, p.RecordsTotal)
		}
	}

	report, err := syncer.Sync(ctx, opts)
	if humanOutput && opts.OnProgress != nil {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		exitWithError(ExitError, "sync: %v", err)
	}

	metricsFile := syncMetricsFile
	if metricsFile == "" {
		metricsFile = cfg.MetricsFile
	}
	if metricsFile != "" {
		if err := recorder.WriteTextfile(metricsFile); err != nil {
			logger.Warn("writing metrics", zap.Error(err))
		}
	}

	if humanOutput {
		renderSyncReport(report)
	} else if err := outputJSON(report); err != nil {
		return err
	}

	if len(report.Errors) > 0 || report.RecordsFailed > 0 {
		// os.Exit skips deferred calls
		conn.Close()
		lock.Unlock()
		logging.Sync(logger)
		os.Exit(ExitDataError)
	}
	return nil
}

// syncOptions builds ingest options from flags, falling back to cfg.
func syncOptions(cfg *config.GlobalConfig) (ingest.Options, error) {
	from, err := parseDayFlag("from", syncFrom)
	if err != nil {
		return ingest.Options{}, err
	}
	to, err := parseDayFlag("to", syncTo)
	if err != nil {
		return ingest.Options{}, err
	}

	recheck := cfg.RecheckDays
	if syncRecheckDays >= 0 {
		recheck = syncRecheckDays
	}

	sources := syncSources
	if len(sources) == 0 {
		sources = cfg.Sources
	}

	return ingest.Options{
		Sources:     sources,
		DateFrom:    from,
		DateTo:      to,
		RecheckDays: recheck,
		APIKeys:     cfg.APIKeys,
	}, nil
}

// sourcesToRun returns the sources a sync with these names will fetch:
// every registered source when none are named.
func sourcesToRun(names []string, registry *source.Registry) []string {
	if len(names) == 0 {
		return registry.Names()
	}
	return names
}

// acquireLock takes the exclusive writer lock without blocking.
func acquireLock(path string) (*flock.Flock, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another sync is already running (lock %s is held)", path)
	}
	return lock, nil
}

func renderSyncReport(report *publication.SyncReport) {
	t := newTable()
	t.SetTitle("Sync " + report.RunID)
	t.AppendRows([]table.Row{
		{"Sources", fmt.Sprint(report.SourcesSynced)},
		{"Days processed", report.DaysProcessed},
		{"Records added", report.RecordsAdded},
		{"Records merged", report.RecordsMerged},
		{"Records failed", report.RecordsFailed},
		{"Duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String()},
	})
	t.Render()

	if len(report.Errors) == 0 {
		return
	}
	color := colorEnabled()
	outputHuman("\nErrors (%d):\n", len(report.Errors))
	for _, e := range report.Errors {
		if color {
			e = text.FgRed.Sprint(e)
		}
		outputHuman("  %s\n", e)
	}
}
