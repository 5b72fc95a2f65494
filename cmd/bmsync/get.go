package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/storage"
)

var (
	getDOI  string
	getPMID string
)

// GetResult is the response for the get command.
type GetResult struct {
	Publication     *publication.Publication     `json:"publication"`
	FulltextSources []publication.FullTextSource `json:"fulltext_sources"`
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVar(&getDOI, "doi", "", "DOI (any common prefix is accepted)")
	getCmd.Flags().StringVar(&getPMID, "pmid", "", "PubMed ID")
	getCmd.MarkFlagsOneRequired("doi", "pmid")
	getCmd.MarkFlagsMutuallyExclusive("doi", "pmid")
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a publication by DOI or PMID",
	Long: `Show a canonical publication and its full-text sources.

Examples:
  bmsync get --doi 10.1101/2024.01.01.123456
  bmsync get --pmid 38000001 --human`,
	Args: cobra.NoArgs,
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg := mustLoadConfig()
	conn := mustOpenDatabase(ctx, cfg)
	defer conn.Close()

	store := storage.New(conn)
	if err := store.EnsureSchema(ctx); err != nil {
		exitWithError(ExitError, "creating schema: %v", err)
	}

	var (
		pub *publication.Publication
		err error
		key string
	)
	if getDOI != "" {
		key = publication.NormalizeDOI(getDOI)
		pub, err = store.GetByDOI(ctx, key)
	} else {
		key = strings.TrimSpace(getPMID)
		pub, err = store.GetByPMID(ctx, key)
	}
	if err != nil {
		exitWithError(ExitError, "looking up %s: %v", key, err)
	}
	if pub == nil {
		exitWithError(ExitDataError, "publication not found: %s", key)
	}

	fts, err := store.ListFulltextSources(ctx, pub.ID)
	if err != nil {
		exitWithError(ExitError, "listing fulltext sources: %v", err)
	}
	if fts == nil {
		fts = []publication.FullTextSource{}
	}

	if !humanOutput {
		return outputJSON(GetResult{Publication: pub, FulltextSources: fts})
	}

	outputHuman("%s\n\n", pub.Title)
	outputHuman("  DOI:      %s\n", publication.Deref(pub.DOI))
	outputHuman("  PMID:     %s\n", publication.Deref(pub.PMID))
	outputHuman("  Journal:  %s\n", publication.Deref(pub.Journal))
	outputHuman("  Date:     %s\n", publication.Deref(pub.PublicationDate))
	outputHuman("  Authors:  %s\n", strings.Join(pub.Authors, "; "))
	outputHuman("  Sources:  %s\n", strings.Join(pub.Sources, ", "))
	outputHuman("  Open:     %t\n", pub.IsOpenAccess)
	if abstract := publication.Deref(pub.Abstract); abstract != "" {
		outputHuman("\n%s\n", abstract)
	}
	if len(fts) > 0 {
		outputHuman("\nFull text:\n")
		for _, f := range fts {
			outputHuman("  [%s] %s (%s)\n", f.Format, f.URL, f.Source)
		}
	}
	return nil
}
