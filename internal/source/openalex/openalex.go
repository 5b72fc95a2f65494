// Package openalex fetches works by publication date from the OpenAlex API.
package openalex

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/source"
)

const (
	// Name is the source name OpenAlex records are tagged with.
	Name = "openalex"

	// BaseURL is the OpenAlex API root.
	BaseURL = "https://api.openalex.org"

	// PageSize is the per_page value used with cursor pagination.
	PageSize = 200

	// RateLimit is 10 requests per second per OpenAlex documentation.
	RateLimit = 10.0

	// DefaultEmail is sent as mailto when none is configured.
	DefaultEmail = "user@example.com"
)

const (
	doiPrefix  = "https://doi.org/"
	pmidPrefix = "https://pubmed.ncbi.nlm.nih.gov/"
)

var versionNames = map[string]string{
	"publishedVersion": "published",
	"acceptedVersion":  "accepted",
	"submittedVersion": "preprint",
}

// Descriptor describes the OpenAlex source.
var Descriptor = source.Descriptor{
	Name:        Name,
	DisplayName: "OpenAlex",
	Description: "Open catalog of scholarly works",
	RateLimit:   RateLimit,
	Params: []source.Param{
		{Name: "email", Description: "Polite-pool contact address (mailto)"},
		{Name: "api_key", Description: "OpenAlex premium API key", Secret: true},
	},
}

// Fetcher walks OpenAlex works for one publication date.
type Fetcher struct {
	cfg    source.Config
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

// New returns an OpenAlex fetcher.
func New(cfg source.Config, opts ...Option) *Fetcher {
	if cfg.Email == "" {
		cfg.Email = DefaultEmail
	}
	f := &Fetcher{
		cfg:    cfg,
		client: source.NewClient(cfg, BaseURL, RateLimit),
		logger: zap.NewNop(),
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

type worksResponse struct {
	Meta    meta   `json:"meta"`
	Results []work `json:"results"`
}

type meta struct {
	Count      int     `json:"count"`
	NextCursor *string `json:"next_cursor"`
}

type work struct {
	DOI                   *string          `json:"doi"`
	Title                 *string          `json:"title"`
	PublicationDate       *string          `json:"publication_date"`
	Type                  *string          `json:"type"`
	License               *string          `json:"license"`
	IDs                   workIDs          `json:"ids"`
	Authorships           []authorship     `json:"authorships"`
	PrimaryLocation       *location        `json:"primary_location"`
	Locations             []location       `json:"locations"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	PrimaryTopic          *named           `json:"primary_topic"`
	OpenAccess            struct {
		IsOA bool `json:"is_oa"`
	} `json:"open_access"`
}

type workIDs struct {
	PMID *string `json:"pmid"`
}

type authorship struct {
	Author named `json:"author"`
}

type named struct {
	DisplayName *string `json:"display_name"`
}

type location struct {
	Source         *named  `json:"source"`
	LandingPageURL *string `json:"landing_page_url"`
	PDFURL         *string `json:"pdf_url"`
	Version        *string `json:"version"`
}

// Fetch retrieves every work with publication_date equal to day.
func (f *Fetcher) Fetch(ctx context.Context, day time.Time, sink source.RecordSink, progress source.ProgressSink) publication.FetchResult {
	date := publication.FormatDay(day)
	processed := 0
	total := 0
	cursor := "*"

	for first := true; ; first = false {
		q := url.Values{}
		q.Set("filter", "from_publication_date:"+date+",to_publication_date:"+date)
		q.Set("per_page", strconv.Itoa(PageSize))
		q.Set("cursor", cursor)
		q.Set("mailto", f.cfg.Email)
		if f.cfg.APIKey != "" {
			q.Set("api_key", f.cfg.APIKey)
		}

		var page worksResponse
		if err := f.client.GetJSON(ctx, "/works", q, &page); err != nil {
			f.logger.Error("works request failed", zap.String("date", date), zap.Int("processed", processed), zap.Error(err))
			return publication.Failed(Name, day, processed, err)
		}
		if first {
			total = page.Meta.Count
		}

		for _, w := range page.Results {
			sink(w.toRecord())
			processed++
		}

		source.Report(progress, publication.Progress{
			Source:           Name,
			Date:             date,
			RecordsProcessed: processed,
			RecordsTotal:     total,
			Status:           publication.ProgressInProgress,
		})

		if page.Meta.NextCursor == nil || *page.Meta.NextCursor == "" || len(page.Results) == 0 {
			break
		}
		cursor = *page.Meta.NextCursor
	}

	f.logger.Info("openalex works fetched", zap.String("date", date), zap.Int("count", processed))
	return publication.Completed(Name, day, processed)
}

func (w work) toRecord() publication.Record {
	rec := publication.Record{
		Source:           Name,
		Title:            publication.Deref(w.Title),
		DOI:              trimPrefix(w.DOI, doiPrefix),
		PMID:             trimPrefix(w.IDs.PMID, pmidPrefix),
		Abstract:         publication.Str(abstractFromIndex(w.AbstractInvertedIndex)),
		PublicationDate:  w.PublicationDate,
		License:          w.License,
		IsOpenAccess:     w.OpenAccess.IsOA,
		Authors:          []string{},
		Keywords:         []string{},
		PublicationTypes: []string{},
	}

	for _, a := range w.Authorships {
		if name := publication.Deref(a.Author.DisplayName); name != "" {
			rec.Authors = append(rec.Authors, name)
		}
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		rec.Journal = w.PrimaryLocation.Source.DisplayName
	}
	if w.PrimaryTopic != nil {
		if topic := publication.Deref(w.PrimaryTopic.DisplayName); topic != "" {
			rec.Keywords = append(rec.Keywords, topic)
		}
	}
	if t := publication.Deref(w.Type); t != "" {
		rec.PublicationTypes = append(rec.PublicationTypes, t)
	}

	for _, loc := range w.Locations {
		name := "unknown"
		if loc.Source != nil && publication.Deref(loc.Source.DisplayName) != "" {
			name = *loc.Source.DisplayName
		}
		version := mapVersion(loc.Version)

		if u := publication.Deref(loc.LandingPageURL); u != "" {
			rec.FulltextSources = append(rec.FulltextSources, publication.FulltextRef{
				Source: name, URL: u, Format: "html", Version: version,
			})
		}
		if u := publication.Deref(loc.PDFURL); u != "" {
			rec.FulltextSources = append(rec.FulltextSources, publication.FulltextRef{
				Source: name, URL: u, Format: "pdf", Version: version,
			})
		}
	}
	return rec
}

// abstractFromIndex rebuilds text from OpenAlex's word -> positions index.
func abstractFromIndex(index map[string][]int) string {
	type token struct {
		pos  int
		word string
	}
	var tokens []token
	for word, positions := range index {
		for _, p := range positions {
			tokens = append(tokens, token{p, word})
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].pos != tokens[j].pos {
			return tokens[i].pos < tokens[j].pos
		}
		return tokens[i].word < tokens[j].word
	})

	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.word
	}
	return strings.Join(words, " ")
}

func mapVersion(v *string) *string {
	raw := publication.Deref(v)
	if raw == "" {
		return nil
	}
	if mapped, ok := versionNames[raw]; ok {
		return &mapped
	}
	return &raw
}

func trimPrefix(v *string, prefix string) *string {
	if v == nil {
		return nil
	}
	return publication.Str(strings.TrimPrefix(*v, prefix))
}
