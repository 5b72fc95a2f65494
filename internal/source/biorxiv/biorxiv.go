// Package biorxiv fetches daily preprint listings from the bioRxiv and
// medRxiv details API.
package biorxiv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/source"
)

const (
	// BaseURL is the details API root shared by both servers.
	BaseURL = "https://api.biorxiv.org/details"

	// PageSize is the fixed page length of the details API.
	PageSize = 100

	// RateLimit is two requests per second.
	RateLimit = 2.0
)

// Server names accepted by New.
const (
	BioRxiv = "biorxiv"
	MedRxiv = "medrxiv"
)

// Descriptors for the two servers.
var (
	BioRxivDescriptor = source.Descriptor{
		Name:        BioRxiv,
		DisplayName: "bioRxiv",
		Description: "Preprint server for biology",
		RateLimit:   RateLimit,
	}
	MedRxivDescriptor = source.Descriptor{
		Name:        MedRxiv,
		DisplayName: "medRxiv",
		Description: "Preprint server for health sciences",
		RateLimit:   RateLimit,
	}
)

// Fetcher pages through one server's preprints for a day.
type Fetcher struct {
	server string
	client *source.Client
	logger *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the fetcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New returns a fetcher for server, which is BioRxiv or MedRxiv.
func New(server string, cfg source.Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		server: server,
		client: source.NewClient(cfg, BaseURL, RateLimit),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type detailsResponse struct {
	Messages   []message  `json:"messages"`
	Collection []preprint `json:"collection"`
}

type message struct {
	Status string  `json:"status"`
	Total  flexInt `json:"total"`
}

type preprint struct {
	DOI       string `json:"doi"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Date      string `json:"date"`
	Version   string `json:"version"`
	Type      string `json:"type"`
	License   string `json:"license"`
	Category  string `json:"category"`
	JATSXML   string `json:"jatsxml"`
	Abstract  string `json:"abstract"`
	Published string `json:"published"`
	Server    string `json:"server"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("total %s: %w", data, err)
	}
	*n = flexInt(v)
	return nil
}

// Fetch retrieves every preprint posted on day.
func (f *Fetcher) Fetch(ctx context.Context, day time.Time, sink source.RecordSink, progress source.ProgressSink) publication.FetchResult {
	date := publication.FormatDay(day)
	fetched := 0
	total := -1

	for cursor := 0; ; cursor += PageSize {
		path := fmt.Sprintf("/%s/%s/%s/%d", f.server, date, date, cursor)

		var page detailsResponse
		if err := f.client.GetJSON(ctx, path, nil, &page); err != nil {
			f.logger.Error("details request failed",
				zap.String("server", f.server), zap.String("date", date), zap.Int("cursor", cursor), zap.Error(err))
			return publication.Failed(f.server, day, fetched, err)
		}

		if total < 0 && len(page.Messages) > 0 {
			total = int(page.Messages[0].Total)
		}
		if len(page.Collection) == 0 {
			break
		}

		for _, p := range page.Collection {
			sink(p.toRecord(f.server))
			fetched++
		}

		recordsTotal := total
		if recordsTotal < fetched {
			recordsTotal = fetched
		}
		source.Report(progress, publication.Progress{
			Source:           f.server,
			Date:             date,
			RecordsProcessed: fetched,
			RecordsTotal:     recordsTotal,
			Status:           publication.ProgressInProgress,
		})

		if len(page.Collection) < PageSize {
			break
		}
	}

	f.logger.Info("preprints fetched", zap.String("server", f.server), zap.String("date", date), zap.Int("count", fetched))
	return publication.Completed(f.server, day, fetched)
}

func (p preprint) toRecord(server string) publication.Record {
	rec := publication.Record{
		Source:           server,
		Title:            p.Title,
		DOI:              publication.Str(strings.TrimSpace(p.DOI)),
		Abstract:         publication.Str(p.Abstract),
		PublicationDate:  publication.Str(p.Date),
		License:          publication.Str(p.License),
		IsOpenAccess:     true,
		Authors:          splitAuthors(p.Authors),
		PublicationTypes: []string{"preprint"},
		Keywords:         []string{},
	}
	if c := strings.TrimSpace(p.Category); c != "" {
		rec.Keywords = append(rec.Keywords, c)
	}

	preprintVersion := publication.Str("preprint")
	if rec.DOI != nil {
		version := strings.TrimSpace(p.Version)
		if version == "" {
			version = "1"
		}
		rec.FulltextSources = append(rec.FulltextSources, publication.FulltextRef{
			Source:  server,
			URL:     fmt.Sprintf("https://www.%s.org/content/%sv%s.full.pdf", server, *rec.DOI, version),
			Format:  "pdf",
			Version: preprintVersion,
		})
	}
	if p.JATSXML != "" {
		rec.FulltextSources = append(rec.FulltextSources, publication.FulltextRef{
			Source:  server,
			URL:     p.JATSXML,
			Format:  "xml",
			Version: preprintVersion,
		})
	}
	return rec
}

func splitAuthors(raw string) []string {
	authors := []string{}
	for _, a := range strings.Split(raw, ";") {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	return authors
}
