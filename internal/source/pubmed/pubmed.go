// Package pubmed fetches daily PubMed records through the NCBI E-utilities.
package pubmed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/source"
)

const (
	// Name is the source name PubMed records are tagged with.
	Name = "pubmed"

	// BaseURL is the E-utilities API root.
	BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// PageSize is the number of articles requested per EFetch call.
	PageSize = 500

	// NCBI allows 10 requests per second with an API key and 3 without.
	RateLimitWithKey    = 10.0
	RateLimitWithoutKey = 3.0
)

// Descriptor describes the PubMed source.
var Descriptor = source.Descriptor{
	Name:        Name,
	DisplayName: "PubMed",
	Description: "NCBI PubMed biomedical literature database",
	RateLimit:   RateLimitWithoutKey,
	Params: []source.Param{
		{Name: "api_key", Description: "NCBI API key for higher rate limits", Secret: true},
		{Name: "email", Description: "Contact address sent with E-utilities requests"},
	},
}

// Fetcher retrieves PubMed articles by publication date.
type Fetcher struct {
	cfg      source.Config
	client   *source.Client
	logger   *zap.Logger
	pageSize int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the fetcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New returns a PubMed fetcher. The request rate depends on whether
// cfg.APIKey is set.
func New(cfg source.Config, opts ...Option) *Fetcher {
	rps := RateLimitWithoutKey
	if cfg.APIKey != "" {
		rps = RateLimitWithKey
	}
	f := &Fetcher{
		cfg:      cfg,
		client:   source.NewClient(cfg, BaseURL, rps),
		logger:   zap.NewNop(),
		pageSize: PageSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithAPIKey returns a fetcher using key, with its own rate limiter.
func (f *Fetcher) WithAPIKey(key string) source.Fetcher {
	cfg := f.cfg
	cfg.APIKey = key
	return New(cfg, WithLogger(f.logger))
}

// Fetch retrieves every article whose publication date is day.
//
// The next EFetch page is requested while the current page is delivered,
// so records still reach sink in order.
func (f *Fetcher) Fetch(ctx context.Context, day time.Time, sink source.RecordSink, progress source.ProgressSink) publication.FetchResult {
	date := publication.FormatDay(day)

	search, err := f.esearch(ctx, day)
	if err != nil {
		f.logger.Error("esearch failed", zap.String("date", date), zap.Error(err))
		return publication.Failed(Name, day, 0, err)
	}
	if search.Count == 0 {
		f.logger.Info("no pubmed records", zap.String("date", date))
		return publication.Completed(Name, day, 0)
	}
	f.logger.Info("pubmed esearch", zap.String("date", date), zap.Int("count", search.Count))

	page, err := f.efetch(ctx, search, 0)
	if err != nil {
		f.logger.Error("efetch failed", zap.String("date", date), zap.Int("retstart", 0), zap.Error(err))
		return publication.Failed(Name, day, 0, err)
	}

	processed := 0
	for retstart := 0; retstart < search.Count; retstart += f.pageSize {
		var next []article
		var g errgroup.Group
		nextStart := retstart + f.pageSize
		if nextStart < search.Count {
			g.Go(func() error {
				var err error
				next, err = f.efetch(ctx, search, nextStart)
				return err
			})
		}

		for _, a := range page {
			sink(a.toRecord())
			processed++
		}

		source.Report(progress, publication.Progress{
			Source:           Name,
			Date:             date,
			RecordsProcessed: processed,
			RecordsTotal:     search.Count,
			Status:           publication.ProgressInProgress,
			Message:          fmt.Sprintf("Fetched %d/%d records", processed, search.Count),
		})

		if err := g.Wait(); err != nil {
			f.logger.Error("efetch failed", zap.String("date", date), zap.Int("retstart", nextStart), zap.Error(err))
			return publication.Failed(Name, day, processed, err)
		}
		page = next
	}

	return publication.Completed(Name, day, processed)
}

func (f *Fetcher) esearch(ctx context.Context, day time.Time) (eSearchResult, error) {
	q := f.baseQuery()
	q.Set("term", fmt.Sprintf(`("%s"[Date - Publication])`, day.Format("2006/01/02")))
	q.Set("retmax", "0")
	q.Set("usehistory", "y")

	body, err := f.client.Get(ctx, "/esearch.fcgi", q)
	if err != nil {
		return eSearchResult{}, fmt.Errorf("esearch: %w", err)
	}
	return parseESearch(body)
}

func (f *Fetcher) efetch(ctx context.Context, search eSearchResult, retstart int) ([]article, error) {
	q := f.baseQuery()
	q.Set("query_key", search.QueryKey)
	q.Set("WebEnv", search.WebEnv)
	q.Set("retstart", strconv.Itoa(retstart))
	q.Set("retmax", strconv.Itoa(f.pageSize))
	q.Set("retmode", "xml")

	body, err := f.client.Get(ctx, "/efetch.fcgi", q)
	if err != nil {
		return nil, fmt.Errorf("efetch at retstart=%d: %w", retstart, err)
	}
	return parseArticleSet(body)
}

func (f *Fetcher) baseQuery() url.Values {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("tool", "bmlib")
	if f.cfg.Email != "" {
		q.Set("email", f.cfg.Email)
	}
	if f.cfg.APIKey != "" {
		q.Set("api_key", f.cfg.APIKey)
	}
	return q
}
