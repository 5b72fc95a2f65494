// Package source defines the fetcher adapter contract and the registry of
// known publication sources.
package source

import (
	"context"
	"net/http"
	"time"

	"github.com/hherb/bmlib/internal/publication"
)

// RecordSink receives each fetched record, one at a time, in fetch order.
type RecordSink func(publication.Record)

// ProgressSink receives progress updates. It may be nil.
type ProgressSink func(publication.Progress)

// Fetcher retrieves every record a source published on one calendar day.
//
// Fetch streams records through sink and returns exactly one terminal
// result. Transport failures are reported as a failed result, never as a
// panic or a separate error.
type Fetcher interface {
	Fetch(ctx context.Context, day time.Time, sink RecordSink, progress ProgressSink) publication.FetchResult
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, day time.Time, sink RecordSink, progress ProgressSink) publication.FetchResult

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, day time.Time, sink RecordSink, progress ProgressSink) publication.FetchResult {
	return f(ctx, day, sink, progress)
}

// KeyedFetcher is implemented by adapters that accept an API key after
// construction. WithAPIKey returns a fetcher using key; the receiver is
// left unchanged.
type KeyedFetcher interface {
	Fetcher
	WithAPIKey(key string) Fetcher
}

// Config carries the construction parameters shared by the HTTP adapters.
type Config struct {
	HTTPClient *http.Client
	APIKey     string
	Email      string // Contact address sent to polite-pool APIs
	BaseURL    string // Overrides the adapter's API root (for testing)
	UserAgent  string
}

// DefaultTimeout is the HTTP timeout used when Config.HTTPClient is nil.
const DefaultTimeout = 60 * time.Second

// Report sends p to progress if progress is non-nil.
func Report(progress ProgressSink, p publication.Progress) {
	if progress != nil {
		progress(p)
	}
}
