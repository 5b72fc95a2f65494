// Package ingest runs sync: for each requested source it selects the days
// the ledger reports as unsatisfied, fetches them, stores every record
// through the merge engine and records the outcome in the ledger.
//
// A Syncer assumes it is the only writer to its database for the duration
// of a run. Callers serialize concurrent runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/db"
	"github.com/hherb/bmlib/internal/ledger"
	"github.com/hherb/bmlib/internal/merge"
	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/source"
	"github.com/hherb/bmlib/internal/storage"
)

// ErrInvalidRange is returned when DateFrom is after DateTo.
var ErrInvalidRange = errors.New("invalid date range")

// Recorder receives sync metrics. metrics.Recorder implements it.
type Recorder interface {
	RecordResult(source string, result string)
	RecordDay(source string, status publication.DayStatus)
	RecordFetchError(source string)
	ObserveSyncDuration(d time.Duration)
}

// Options select what a Sync run fetches.
type Options struct {
	// Sources to sync; all registered sources when empty.
	Sources []string
	// Inclusive day range. DateFrom defaults to yesterday, DateTo to today.
	DateFrom time.Time
	DateTo   time.Time
	// RecheckDays re-fetches completed days last verified at least this many
	// days ago. Zero disables re-verification.
	RecheckDays int
	// APIKeys maps source name to API key, applied to adapters that accept one.
	APIKeys map[string]string

	// OnRecord is called after each record is stored or fails to store.
	OnRecord func(rec publication.Record, out merge.Outcome, err error)
	// OnProgress receives adapter progress updates.
	OnProgress func(publication.Progress)
}

// Syncer coordinates adapters, the merge engine and the day ledger.
type Syncer struct {
	store    *storage.Store
	engine   *merge.Engine
	ledger   *ledger.Ledger
	registry *source.Registry
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger used for the run and its components.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Syncer) {
		s.recorder = r
	}
}

// WithClock overrides the time source used for "today" and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// New returns a Syncer storing into conn and fetching through registry.
func New(conn db.Conn, registry *source.Registry, opts ...Option) *Syncer {
	s := &Syncer{
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = storage.New(conn)
	s.engine = merge.NewEngine(s.store, merge.WithLogger(s.logger), merge.WithClock(s.now))
	s.ledger = ledger.New(conn, ledger.WithClock(s.now))
	return s
}

// Ledger returns the day ledger the syncer writes to.
func (s *Syncer) Ledger() *ledger.Ledger {
	return s.ledger
}

// Store returns the canonical store the syncer writes to.
func (s *Syncer) Store() *storage.Store {
	return s.store
}

// EnsureSchema creates the publication and ledger tables.
func (s *Syncer) EnsureSchema(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.ledger.EnsureSchema(ctx)
}

// Sync fetches every unsatisfied (source, day) pair in opts.
//
// Failures inside a fetch or a single record are collected in the report's
// Errors and never abort the run. Only configuration and storage failures
// (schema, ledger reads and writes) are returned as errors, together with
// the report accumulated so far.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*publication.SyncReport, error) {
	started := s.now()
	report := &publication.SyncReport{
		RunID:         uuid.NewString(),
		SourcesSynced: []string{},
		Errors:        []string{},
		StartedAt:     started.UTC(),
	}
	defer func() {
		report.FinishedAt = s.now().UTC()
		if s.recorder != nil {
			s.recorder.ObserveSyncDuration(report.FinishedAt.Sub(report.StartedAt))
		}
	}()

	today := publication.Day(started.UTC())
	from, to := opts.DateFrom, opts.DateTo
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = today.AddDate(0, 0, -1)
	}
	from, to = publication.Day(from), publication.Day(to)
	if from.After(to) {
		return report, fmt.Errorf("%w: %s is after %s", ErrInvalidRange,
			publication.FormatDay(from), publication.FormatDay(to))
	}
	if opts.RecheckDays < 0 {
		return report, fmt.Errorf("recheck days must not be negative, got %d", opts.RecheckDays)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		return report, err
	}

	sources := uniqueSources(opts.Sources)
	if len(sources) == 0 {
		sources = s.registry.Names()
	}

	log := s.logger.With(zap.String("run_id", report.RunID))
	log.Info("sync started",
		zap.Strings("sources", sources),
		zap.String("from", publication.FormatDay(from)),
		zap.String("to", publication.FormatDay(to)),
		zap.Int("recheck_days", opts.RecheckDays),
	)

	for _, name := range sources {
		fetcher, _, err := s.registry.Get(name)
		if err != nil {
			report.Errors = append(report.Errors, "unknown source: "+name)
			log.Warn("unknown source", zap.String("source", name))
			continue
		}
		if key := opts.APIKeys[name]; key != "" {
			if kf, ok := fetcher.(source.KeyedFetcher); ok {
				fetcher = kf.WithAPIKey(key)
			}
		}

		days, err := s.ledger.DaysNeedingFetch(ctx, name, from, to, started.UTC(), opts.RecheckDays)
		if err != nil {
			return report, fmt.Errorf("selecting days for %s: %w", name, err)
		}
		if len(days) == 0 {
			log.Debug("source satisfied", zap.String("source", name))
			continue
		}
		report.SourcesSynced = append(report.SourcesSynced, name)

		for _, d := range days {
			if err := s.syncDay(ctx, log, name, fetcher, d, opts, report); err != nil {
				return report, err
			}
		}
	}

	log.Info("sync finished",
		zap.Int("days", report.DaysProcessed),
		zap.Int("added", report.RecordsAdded),
		zap.Int("merged", report.RecordsMerged),
		zap.Int("failed", report.RecordsFailed),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// dayTally counts record outcomes for one (source, day) fetch.
type dayTally struct {
	added, merged, failed int
}

func (s *Syncer) syncDay(ctx context.Context, log *zap.Logger, name string, fetcher source.Fetcher,
	d ledger.DayDecision, opts Options, report *publication.SyncReport) error {
	date := publication.FormatDay(d.Date)
	log = log.With(zap.String("source", name), zap.String("date", date))
	log.Debug("fetching day", zap.String("reason", string(d.Reason)))

	var tally dayTally
	sink := func(rec publication.Record) {
		out, err := s.storeRecord(ctx, rec)
		switch {
		case err != nil:
			tally.failed++
			log.Error("record failed",
				zap.String("doi", publication.Deref(rec.DOI)),
				zap.String("pmid", publication.Deref(rec.PMID)),
				zap.Error(err),
			)
		case out.Result == merge.Added:
			tally.added++
		default:
			tally.merged++
		}
		if out.Conflict != nil {
			report.Errors = append(report.Errors, "data-integrity: "+out.Conflict.String())
		}

		result := string(out.Result)
		if err != nil {
			result = "failed"
		}
		if s.recorder != nil {
			s.recorder.RecordResult(name, result)
		}
		if opts.OnRecord != nil {
			opts.OnRecord(rec, out, err)
		}
	}

	var progress source.ProgressSink
	if opts.OnProgress != nil {
		progress = opts.OnProgress
	}

	res := runFetch(ctx, fetcher, name, d.Date, sink, progress)

	status := publication.DayCompleted
	switch {
	case res.Status != publication.FetchCompleted:
		status = publication.DayFailed
	case tally.failed > 0:
		status = publication.DayPartial
	}

	if err := s.ledger.UpsertDay(ctx, name, d.Date, status, res.RecordCount); err != nil {
		return err
	}

	report.DaysProcessed++
	report.RecordsAdded += tally.added
	report.RecordsMerged += tally.merged
	report.RecordsFailed += tally.failed
	if res.Error != "" {
		report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %s", name, date, res.Error))
		if s.recorder != nil {
			s.recorder.RecordFetchError(name)
		}
	}
	if s.recorder != nil {
		s.recorder.RecordDay(name, status)
	}

	log.Info("day synced",
		zap.String("status", string(status)),
		zap.Int("record_count", res.RecordCount),
		zap.Int("added", tally.added),
		zap.Int("merged", tally.merged),
		zap.Int("failed", tally.failed),
	)
	return nil
}

// storeRecord stores one record, converting a panic into an error.
func (s *Syncer) storeRecord(ctx context.Context, rec publication.Record) (out merge.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = merge.Outcome{}, fmt.Errorf("panic storing record: %v", r)
		}
	}()
	return s.engine.Store(ctx, rec)
}

// runFetch invokes the adapter, converting a panic into a failed result.
func runFetch(ctx context.Context, f source.Fetcher, name string, day time.Time,
	sink source.RecordSink, progress source.ProgressSink) (res publication.FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = publication.Failed(name, day, 0, fmt.Errorf("fetcher panic: %v", r))
		}
	}()

	res = f.Fetch(ctx, day, sink, progress)
	if res.Source == "" {
		res.Source = name
	}
	if res.Date == "" {
		res.Date = publication.FormatDay(day)
	}
	switch {
	case res.Status == publication.FetchCompleted:
	case res.Status != publication.FetchFailed:
		msg := fmt.Sprintf("invalid fetch status %q", res.Status)
		if res.Error != "" {
			msg += ": " + res.Error
		}
		res.Status, res.Error = publication.FetchFailed, msg
	case res.Error == "":
		res.Error = "fetch failed"
	}
	return res
}

// uniqueSources drops repeated names, keeping first-occurrence order.
func uniqueSources(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
