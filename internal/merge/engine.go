package merge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/storage"
)

// Engine stores fetched records into the canonical store, deduplicating by
// DOI first and PMID second.
type Engine struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for identifier conflicts.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the time source used for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine returns an Engine writing through store.
func NewEngine(store *storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store normalizes rec and inserts or merges it, then adds its full-text
// sources. All writes for one record share a transaction, so a failure
// leaves nothing behind.
func (e *Engine) Store(ctx context.Context, rec publication.Record) (Outcome, error) {
	rec, err := rec.Normalize()
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err = e.store.WithTx(ctx, func(tx *storage.Store) error {
		var err error
		out, err = e.storeTx(ctx, tx, rec)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("storing %s: %w", rec.Label(), err)
	}

	if out.Conflict != nil {
		e.logger.Warn("identifier conflict",
			zap.String("kind", string(out.Conflict.Kind)),
			zap.String("source", rec.Source),
			zap.String("doi", out.Conflict.DOI),
			zap.String("pmid", out.Conflict.PMID),
			zap.Int64("doi_row_id", out.Conflict.DOIRowID),
			zap.Int64("pmid_row_id", out.Conflict.PMIDRowID),
			zap.String("existing_doi", out.Conflict.ExistingDOI),
		)
	}
	return out, nil
}

func (e *Engine) storeTx(ctx context.Context, tx *storage.Store, rec publication.Record) (Outcome, error) {
	existing, matchedBy, err := lookup(ctx, tx, rec)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{MatchedBy: matchedBy}
	now := e.now()

	if existing == nil {
		p := newPublication(rec, now)
		if _, err := tx.Insert(ctx, p); err != nil {
			return Outcome{}, err
		}
		out.Result = Added
		out.PublicationID = p.ID
	} else {
		switch matchedBy {
		case MatchedDOI:
			conflict, err := pmidConflict(ctx, tx, existing, rec)
			if err != nil {
				return Outcome{}, err
			}
			if conflict != nil {
				out.Conflict = conflict
				// The PMID already belongs to another row.
				rec.PMID = nil
			}
		case MatchedPMID:
			// Merge keeps the row's DOI; the record's DOI is reported, not stored.
			out.Conflict = doiMismatch(existing, rec)
		}

		merged := Merge(*existing, rec, now)
		if err := tx.Update(ctx, &merged); err != nil {
			return Outcome{}, err
		}
		out.Result = Merged
		out.PublicationID = merged.ID
	}

	for _, ref := range rec.FulltextSources {
		added, err := tx.AddFulltextSource(ctx, out.PublicationID, ref)
		if err != nil {
			return Outcome{}, err
		}
		if added {
			out.FulltextAdded++
		}
	}
	return out, nil
}

// lookup finds the publication a record belongs to, DOI before PMID.
func lookup(ctx context.Context, tx *storage.Store, rec publication.Record) (*publication.Publication, MatchedBy, error) {
	if rec.DOI != nil {
		p, err := tx.GetByDOI(ctx, *rec.DOI)
		if err != nil {
			return nil, MatchedNone, fmt.Errorf("looking up doi %s: %w", *rec.DOI, err)
		}
		if p != nil {
			return p, MatchedDOI, nil
		}
	}
	if rec.PMID != nil {
		p, err := tx.GetByPMID(ctx, *rec.PMID)
		if err != nil {
			return nil, MatchedNone, fmt.Errorf("looking up pmid %s: %w", *rec.PMID, err)
		}
		if p != nil {
			return p, MatchedPMID, nil
		}
	}
	return nil, MatchedNone, nil
}

// pmidConflict reports whether rec's PMID belongs to a row other than the
// DOI match.
func pmidConflict(ctx context.Context, tx *storage.Store, doiRow *publication.Publication, rec publication.Record) (*IdentifierConflict, error) {
	if rec.PMID == nil {
		return nil, nil
	}
	if doiRow.PMID != nil && *doiRow.PMID == *rec.PMID {
		return nil, nil
	}

	other, err := tx.GetByPMID(ctx, *rec.PMID)
	if err != nil {
		return nil, fmt.Errorf("looking up pmid %s: %w", *rec.PMID, err)
	}
	if other == nil || other.ID == doiRow.ID {
		return nil, nil
	}
	return &IdentifierConflict{
		Kind:      ConflictSplitRows,
		DOI:       *rec.DOI,
		PMID:      *rec.PMID,
		DOIRowID:  doiRow.ID,
		PMIDRowID: other.ID,
	}, nil
}

// doiMismatch reports whether the publication matched by PMID already
// carries a DOI different from rec's.
func doiMismatch(pmidRow *publication.Publication, rec publication.Record) *IdentifierConflict {
	if rec.DOI == nil || rec.PMID == nil || pmidRow.DOI == nil || *pmidRow.DOI == *rec.DOI {
		return nil
	}
	return &IdentifierConflict{
		Kind:        ConflictDOIMismatch,
		DOI:         *rec.DOI,
		PMID:        *rec.PMID,
		PMIDRowID:   pmidRow.ID,
		ExistingDOI: *pmidRow.DOI,
	}
}
