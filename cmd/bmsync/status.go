package main

import (
	"context"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hherb/bmlib/internal/ledger"
	"github.com/hherb/bmlib/internal/publication"
)

var (
	statusSource string
	statusFrom   string
	statusTo     string
)

// StatusResult is the response for the status command.
type StatusResult struct {
	Days    []publication.DownloadDay `json:"days"`
	Summary map[string]map[string]int `json:"summary"`
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusSource, "source", "s", "", "Only show this source")
	statusCmd.Flags().StringVar(&statusFrom, "from", "", "First day, YYYY-MM-DD (default: 30 days ago)")
	statusCmd.Flags().StringVar(&statusTo, "to", "", "Last day, YYYY-MM-DD (default: today)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the download ledger",
	Long: `Show the ledger rows recording which source-days have been fetched,
with their status and record counts.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	from, err := parseDayFlag("from", statusFrom)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	to, err := parseDayFlag("to", statusTo)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	today := publication.Day(time.Now().UTC())
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	cfg := mustLoadConfig()
	conn := mustOpenDatabase(ctx, cfg)
	defer conn.Close()

	l := ledger.New(conn)
	if err := l.EnsureSchema(ctx); err != nil {
		exitWithError(ExitError, "creating ledger schema: %v", err)
	}
	days, err := l.List(ctx, statusSource, from, to)
	if err != nil {
		exitWithError(ExitError, "listing ledger: %v", err)
	}

	result := StatusResult{Days: days, Summary: summarizeDays(days)}
	if result.Days == nil {
		result.Days = []publication.DownloadDay{}
	}

	if !humanOutput {
		return outputJSON(result)
	}

	if len(days) == 0 {
		outputHuman("No ledger rows between %s and %s\n", publication.FormatDay(from), publication.FormatDay(to))
		return nil
	}
	color := colorEnabled()
	t := newTable()
	t.AppendHeader(table.Row{"Source", "Date", "Status", "Records", "Downloaded", "Verified"})
	for _, d := range days {
		verified := ""
		if d.LastVerifiedAt != nil {
			verified = d.LastVerifiedAt.Format(time.DateTime)
		}
		t.AppendRow(table.Row{
			d.Source, publication.FormatDay(d.Date), statusText(d.Status, color),
			d.RecordCount, d.DownloadedAt.Format(time.DateTime), verified,
		})
	}
	t.Render()
	return nil
}

// summarizeDays counts days per source and status.
func summarizeDays(days []publication.DownloadDay) map[string]map[string]int {
	summary := make(map[string]map[string]int)
	for _, d := range days {
		if summary[d.Source] == nil {
			summary[d.Source] = make(map[string]int)
		}
		summary[d.Source][string(d.Status)]++
	}
	return summary
}
