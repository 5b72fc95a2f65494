package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hherb/bmlib/internal/logging"
)

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		logger := mustNewLogger(cfg)
		defer logging.Sync(logger)

		descs := newRegistry(cfg, logger).Descriptors()
		if !humanOutput {
			return outputJSON(descs)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Name", "Display name", "Rate limit", "Params", "Description"})
		for _, d := range descs {
			var params []string
			for _, p := range d.Params {
				params = append(params, p.Name)
			}
			t.AppendRow(table.Row{d.Name, d.DisplayName, fmt.Sprintf("%g/s", d.RateLimit), strings.Join(params, ", "), d.Description})
		}
		t.Render()
		return nil
	},
}
