package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hherb/bmlib/internal/db"
	"github.com/hherb/bmlib/internal/publication"
)

func setupTestStore(t *testing.T) (*Store, *db.DB) {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s := New(conn)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s, conn
}

func testPublication(title, doi, pmid string) *publication.Publication {
	return &publication.Publication{
		DOI:             publication.Str(doi),
		PMID:            publication.Str(pmid),
		Title:           title,
		Abstract:        publication.Str("An abstract."),
		Authors:         []string{"Smith J", "Doe A"},
		Journal:         publication.Str("Nature"),
		PublicationDate: publication.Str("2024-01-15"),
		Keywords:        []string{"genomics"},
		Sources:         []string{"pubmed"},
		FirstSeenSource: "pubmed",
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	p := testPublication("Paper A", "10.1234/a", "111")
	id, err := s.Insert(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	byDOI, err := s.GetByDOI(ctx, "10.1234/a")
	require.NoError(t, err)
	require.NotNil(t, byDOI)
	assert.Equal(t, id, byDOI.ID)
	assert.Equal(t, "Paper A", byDOI.Title)
	assert.Equal(t, []string{"Smith J", "Doe A"}, byDOI.Authors)
	assert.Equal(t, []string{}, byDOI.PublicationTypes)
	assert.Equal(t, []string{"pubmed"}, byDOI.Sources)
	assert.Equal(t, "111", publication.Deref(byDOI.PMID))
	assert.Nil(t, byDOI.License)
	assert.True(t, p.CreatedAt.Equal(byDOI.CreatedAt))

	byPMID, err := s.GetByPMID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, byPMID)
	assert.Equal(t, id, byPMID.ID)

	byID, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "10.1234/a", publication.Deref(byID.DOI))
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	p, err := s.GetByDOI(ctx, "10.9999/none")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = s.GetByPMID(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = s.GetByID(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestStore_UniqueIdentifiers(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	_, err := s.Insert(ctx, testPublication("First", "10.1/x", "1"))
	require.NoError(t, err)

	tests := []struct {
		name string
		pub  *publication.Publication
	}{
		{"duplicate doi", testPublication("Dup DOI", "10.1/x", "")},
		{"duplicate pmid", testPublication("Dup PMID", "", "1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Insert(ctx, tt.pub)
			require.Error(t, err)
			assert.True(t, errors.Is(err, db.ErrUniqueViolation), "got %v", err)
		})
	}

	// Many rows may lack both identifiers.
	for i := 0; i < 3; i++ {
		_, err := s.Insert(ctx, testPublication("No identifiers", "", ""))
		require.NoError(t, err)
	}

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestStore_InsertValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	noTitle := testPublication("", "10.1/a", "")
	_, err := s.Insert(ctx, noTitle)
	assert.Error(t, err)

	noSources := testPublication("T", "10.1/b", "")
	noSources.Sources = nil
	_, err = s.Insert(ctx, noSources)
	assert.Error(t, err)
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	p := testPublication("Original", "10.1/u", "")
	_, err := s.Insert(ctx, p)
	require.NoError(t, err)

	p.Title = "Ignored"
	p.PMID = publication.Str("555")
	p.Sources = append(p.Sources, "openalex")
	p.IsOpenAccess = true
	p.UpdatedAt = p.UpdatedAt.Add(time.Second)
	require.NoError(t, s.Update(ctx, p))

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, "555", publication.Deref(got.PMID))
	assert.Equal(t, []string{"pubmed", "openalex"}, got.Sources)
	assert.True(t, got.IsOpenAccess)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	missing := testPublication("Missing", "", "")
	missing.ID = 9999
	err = s.Update(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FulltextSources(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	p := testPublication("Paper", "10.1/f", "")
	_, err := s.Insert(ctx, p)
	require.NoError(t, err)

	ref := publication.FulltextRef{Source: "biorxiv", URL: "https://example.org/a.pdf", Format: "pdf", Version: publication.Str("preprint")}
	added, err := s.AddFulltextSource(ctx, p.ID, ref)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddFulltextSource(ctx, p.ID, ref)
	require.NoError(t, err)
	assert.False(t, added, "same url must not be added twice")

	added, err = s.AddFulltextSource(ctx, p.ID, publication.FulltextRef{Source: "pmc", URL: "https://example.org/a.html"})
	require.NoError(t, err)
	assert.True(t, added)

	sources, err := s.ListFulltextSources(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "pdf", sources[0].Format)
	assert.Equal(t, "preprint", publication.Deref(sources[0].Version))
	assert.Equal(t, "html", sources[1].Format)
	assert.Nil(t, sources[1].Version)
}

func TestStore_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.Insert(ctx, testPublication("Rolled back", "10.1/r", "")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_EnsureSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	s, conn := setupTestStore(t)
	require.NoError(t, s.EnsureSchema(ctx))

	versions, err := db.AppliedVersions(ctx, conn, schemaComponent)
	require.NoError(t, err)
	assert.Len(t, versions, len(migrations))
}

func TestStore_ExportJSONL(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)

	for _, title := range []string{"One", "Two", "Three"} {
		_, err := s.Insert(ctx, testPublication(title, "", ""))
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := s.ExportJSONL(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var titles []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var p publication.Publication
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		titles = append(titles, p.Title)
	}
	assert.Equal(t, []string{"One", "Two", "Three"}, titles)
}
