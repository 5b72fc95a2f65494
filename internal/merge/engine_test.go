package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hherb/bmlib/internal/db"
	"github.com/hherb/bmlib/internal/publication"
	"github.com/hherb/bmlib/internal/storage"
)

func setupEngine(t *testing.T, opts ...Option) (*Engine, *storage.Store) {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := storage.New(conn)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return NewEngine(store, opts...), store
}

// fixedClock never advances.
func fixedClock() time.Time { return t0 }

func TestEngine_IdempotentStorage(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t, WithClock(fixedClock))

	rec := publication.Record{Source: "pubmed", Title: "Paper", DOI: publication.Str("10.1/same")}

	first, err := engine.Store(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, Added, first.Result)

	before, err := store.GetByID(ctx, first.PublicationID)
	require.NoError(t, err)

	second, err := engine.Store(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, Merged, second.Result)
	assert.Equal(t, MatchedDOI, second.MatchedBy)
	assert.Equal(t, first.PublicationID, second.PublicationID)

	after, err := store.GetByID(ctx, first.PublicationID)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt), "updated_at must strictly increase")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngine_EndToEndPaperA(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	out1, err := engine.Store(ctx, publication.Record{
		Source: "pubmed", Title: "Paper A", DOI: publication.Str("10.1/x"),
	})
	require.NoError(t, err)
	assert.Equal(t, Added, out1.Result)

	out2, err := engine.Store(ctx, publication.Record{
		Source: "openalex", Title: "Paper A-dup", DOI: publication.Str("10.1/x"),
		Abstract: publication.Str("filled"),
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, out2.Result)

	p, err := store.GetByDOI(ctx, "10.1/x")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Paper A", p.Title)
	assert.Equal(t, "filled", publication.Deref(p.Abstract))
	assert.Equal(t, []string{"pubmed", "openalex"}, p.Sources)
	assert.Equal(t, "pubmed", p.FirstSeenSource)
}

func TestEngine_DOIPrecedesPMID(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	out1, err := engine.Store(ctx, publication.Record{
		Source: "pubmed", Title: "Row", DOI: publication.Str("10.1/d"), PMID: publication.Str("100"),
	})
	require.NoError(t, err)

	out2, err := engine.Store(ctx, publication.Record{
		Source: "openalex", Title: "Row", DOI: publication.Str("10.1/d"), PMID: publication.Str("200"),
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, out2.Result)
	assert.Equal(t, out1.PublicationID, out2.PublicationID)
	assert.Nil(t, out2.Conflict)

	p, err := store.GetByID(ctx, out1.PublicationID)
	require.NoError(t, err)
	assert.Equal(t, "100", publication.Deref(p.PMID), "existing pmid kept")
}

func TestEngine_MatchByPMID(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	out1, err := engine.Store(ctx, publication.Record{Source: "pubmed", Title: "P", PMID: publication.Str("42")})
	require.NoError(t, err)

	out2, err := engine.Store(ctx, publication.Record{
		Source: "openalex", Title: "P", PMID: publication.Str("42"), DOI: publication.Str("https://doi.org/10.1/NEW"),
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, out2.Result)
	assert.Equal(t, MatchedPMID, out2.MatchedBy)
	assert.Equal(t, out1.PublicationID, out2.PublicationID)

	p, err := store.GetByDOI(ctx, "10.1/new")
	require.NoError(t, err)
	require.NotNil(t, p, "doi filled in normalized form")
	assert.Equal(t, out1.PublicationID, p.ID)
}

func TestEngine_IdentifierConflict(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	engine, store := setupEngine(t, WithLogger(zap.New(core)))

	a, err := engine.Store(ctx, publication.Record{Source: "openalex", Title: "A", DOI: publication.Str("10.1/a")})
	require.NoError(t, err)
	b, err := engine.Store(ctx, publication.Record{Source: "pubmed", Title: "B", PMID: publication.Str("999")})
	require.NoError(t, err)

	out, err := engine.Store(ctx, publication.Record{
		Source: "pubmed", Title: "A", DOI: publication.Str("10.1/a"), PMID: publication.Str("999"),
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, out.Result)
	assert.Equal(t, a.PublicationID, out.PublicationID)
	require.NotNil(t, out.Conflict)
	assert.Equal(t, ConflictSplitRows, out.Conflict.Kind)
	assert.Equal(t, a.PublicationID, out.Conflict.DOIRowID)
	assert.Equal(t, b.PublicationID, out.Conflict.PMIDRowID)
	assert.Contains(t, out.Conflict.String(), "pmid 999")

	rowA, err := store.GetByID(ctx, a.PublicationID)
	require.NoError(t, err)
	assert.Nil(t, rowA.PMID, "conflicting pmid not copied")
	assert.Equal(t, []string{"openalex", "pubmed"}, rowA.Sources)

	assert.Equal(t, 1, logs.FilterMessage("identifier conflict").Len())
}

func TestEngine_PMIDMatchWithDifferentDOI(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	engine, store := setupEngine(t, WithLogger(zap.New(core)))

	first, err := engine.Store(ctx, publication.Record{
		Source: "pubmed", Title: "P", DOI: publication.Str("10.1/a"), PMID: publication.Str("5"),
	})
	require.NoError(t, err)

	out, err := engine.Store(ctx, publication.Record{
		Source: "openalex", Title: "P", DOI: publication.Str("10.1/b"), PMID: publication.Str("5"),
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, out.Result)
	assert.Equal(t, MatchedPMID, out.MatchedBy)
	assert.Equal(t, first.PublicationID, out.PublicationID)

	require.NotNil(t, out.Conflict)
	assert.Equal(t, ConflictDOIMismatch, out.Conflict.Kind)
	assert.Equal(t, "10.1/b", out.Conflict.DOI)
	assert.Equal(t, "10.1/a", out.Conflict.ExistingDOI)
	assert.Equal(t, first.PublicationID, out.Conflict.PMIDRowID)
	assert.Equal(t, "pmid 5 matches publication 1 with doi 10.1/a but record has doi 10.1/b", out.Conflict.String())

	row, err := store.GetByID(ctx, first.PublicationID)
	require.NoError(t, err)
	assert.Equal(t, "10.1/a", publication.Deref(row.DOI), "existing doi kept")
	assert.Equal(t, []string{"pubmed", "openalex"}, row.Sources)

	missing, err := store.GetByDOI(ctx, "10.1/b")
	require.NoError(t, err)
	assert.Nil(t, missing)

	entries := logs.FilterMessage("identifier conflict").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "doi-mismatch", entries[0].ContextMap()["kind"])

	// Same DOI on a PMID match is not a conflict.
	again, err := engine.Store(ctx, publication.Record{
		Source: "pubmed", Title: "P", DOI: publication.Str("10.1/a"), PMID: publication.Str("5"),
	})
	require.NoError(t, err)
	assert.Nil(t, again.Conflict)
}

func TestEngine_FulltextSources(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	rec := publication.Record{
		Source: "biorxiv", Title: "Preprint", DOI: publication.Str("10.1101/p"),
		FulltextSources: []publication.FulltextRef{
			{URL: "https://www.biorxiv.org/content/10.1101/pv1.full.pdf", Format: "pdf"},
			{URL: "https://example.org/p.xml", Format: "xml"},
		},
	}

	out, err := engine.Store(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, out.FulltextAdded)

	out, err = engine.Store(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, Merged, out.Result)
	assert.Equal(t, 0, out.FulltextAdded)

	sources, err := store.ListFulltextSources(ctx, out.PublicationID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "biorxiv", sources[0].Source)
}

func TestEngine_InvalidRecord(t *testing.T) {
	ctx := context.Background()
	engine, store := setupEngine(t)

	_, err := engine.Store(ctx, publication.Record{Source: "pubmed", Title: "   "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, publication.ErrInvalidRecord))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
