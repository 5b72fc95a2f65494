// Package storage is the canonical store for publications and their
// full-text access points.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hherb/bmlib/internal/db"
	"github.com/hherb/bmlib/internal/publication"
)

// ErrNotFound is returned when an update targets a missing publication.
var ErrNotFound = errors.New("publication not found")

// selectPubFields contains the standard field list for SELECT queries.
const selectPubFields = `id, doi, pmid, title, abstract, authors, journal,
	publication_date, publication_types, keywords, is_open_access, license,
	sources, first_seen_source, created_at, updated_at`

// Store persists publications through a db.Conn.
type Store struct {
	conn db.Conn
}

// New returns a Store over conn. Call EnsureSchema before first use.
func New(conn db.Conn) *Store {
	return &Store{conn: conn}
}

// EnsureSchema creates the publication tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := db.RunMigrations(ctx, s.conn, schemaComponent, migrations); err != nil {
		return fmt.Errorf("creating publications schema: %w", err)
	}
	return nil
}

// WithTx runs fn against a Store bound to one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	return db.WithTx(ctx, s.conn, func(tx db.Conn) error {
		return fn(&Store{conn: tx})
	})
}

// Insert stores a new publication, assigns its ID and returns it.
// A duplicate non-null DOI or PMID fails with db.ErrUniqueViolation.
func (s *Store) Insert(ctx context.Context, p *publication.Publication) (int64, error) {
	if p.Title == "" {
		return 0, fmt.Errorf("inserting publication: title is required")
	}
	if len(p.Sources) == 0 || p.FirstSeenSource == "" {
		return 0, fmt.Errorf("inserting publication %q: sources are required", p.Title)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	lists, err := encodeLists(p)
	if err != nil {
		return 0, err
	}

	id, err := db.InsertReturningID(ctx, s.conn, `
		INSERT INTO publications (
			doi, pmid, title, abstract, authors, journal, publication_date,
			publication_types, keywords, is_open_access, license,
			sources, first_seen_source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(p.DOI), nullable(p.PMID), p.Title, nullable(p.Abstract),
		lists.authors, nullable(p.Journal), nullable(p.PublicationDate),
		lists.publicationTypes, lists.keywords, boolToInt(p.IsOpenAccess), nullable(p.License),
		lists.sources, p.FirstSeenSource, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting publication %q: %w", p.Title, err)
	}

	p.ID = id
	return id, nil
}

// GetByID retrieves a publication by its ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*publication.Publication, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+selectPubFields+` FROM publications WHERE id = ?`, id)
	return scanPublication(row)
}

// GetByDOI retrieves a publication by exact DOI, or nil if absent.
func (s *Store) GetByDOI(ctx context.Context, doi string) (*publication.Publication, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+selectPubFields+` FROM publications WHERE doi = ?`, doi)
	return scanPublication(row)
}

// GetByPMID retrieves a publication by exact PMID, or nil if absent.
func (s *Store) GetByPMID(ctx context.Context, pmid string) (*publication.Publication, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+selectPubFields+` FROM publications WHERE pmid = ?`, pmid)
	return scanPublication(row)
}

// Update rewrites the mutable columns of an existing publication.
// Title, ID, CreatedAt and FirstSeenSource are never written.
func (s *Store) Update(ctx context.Context, p *publication.Publication) error {
	lists, err := encodeLists(p)
	if err != nil {
		return err
	}

	res, err := s.conn.Exec(ctx, `
		UPDATE publications SET
			doi = ?, pmid = ?, abstract = ?, authors = ?, journal = ?,
			publication_date = ?, publication_types = ?, keywords = ?,
			is_open_access = ?, license = ?, sources = ?, updated_at = ?
		WHERE id = ?`,
		nullable(p.DOI), nullable(p.PMID), nullable(p.Abstract), lists.authors, nullable(p.Journal),
		nullable(p.PublicationDate), lists.publicationTypes, lists.keywords,
		boolToInt(p.IsOpenAccess), nullable(p.License), lists.sources, formatTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating publication %d: %w", p.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating publication %d: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating publication %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

// Count returns the total number of publications.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM publications").Scan(&count)
	return count, err
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPublication(s scanner) (*publication.Publication, error) {
	var p publication.Publication
	var doi, pmid, abstract, journal, pubDate, license sql.NullString
	var authorsJSON, typesJSON, keywordsJSON, sourcesJSON string
	var openAccess int64
	var createdAt, updatedAt string

	err := s.Scan(
		&p.ID, &doi, &pmid, &p.Title, &abstract, &authorsJSON, &journal,
		&pubDate, &typesJSON, &keywordsJSON, &openAccess, &license,
		&sourcesJSON, &p.FirstSeenSource, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	// Handle nullable fields
	p.DOI = fromNullable(doi)
	p.PMID = fromNullable(pmid)
	p.Abstract = fromNullable(abstract)
	p.Journal = fromNullable(journal)
	p.PublicationDate = fromNullable(pubDate)
	p.License = fromNullable(license)
	p.IsOpenAccess = openAccess != 0

	// Parse JSON fields
	for _, f := range []struct {
		name string
		raw  string
		dst  *[]string
	}{
		{"authors", authorsJSON, &p.Authors},
		{"publication_types", typesJSON, &p.PublicationTypes},
		{"keywords", keywordsJSON, &p.Keywords},
		{"sources", sourcesJSON, &p.Sources},
	} {
		if err := decodeList(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("parsing %s JSON for publication %d: %w", f.name, p.ID, err)
		}
	}

	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for publication %d: %w", p.ID, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for publication %d: %w", p.ID, err)
	}

	return &p, nil
}

type encodedLists struct {
	authors, publicationTypes, keywords, sources string
}

func encodeLists(p *publication.Publication) (encodedLists, error) {
	var out encodedLists
	for _, f := range []struct {
		name string
		src  []string
		dst  *string
	}{
		{"authors", p.Authors, &out.authors},
		{"publication_types", p.PublicationTypes, &out.publicationTypes},
		{"keywords", p.Keywords, &out.keywords},
		{"sources", p.Sources, &out.sources},
	} {
		src := f.src
		if src == nil {
			src = []string{}
		}
		data, err := json.Marshal(src)
		if err != nil {
			return out, fmt.Errorf("marshaling %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}
	return out, nil
}

func decodeList(raw string, dst *[]string) error {
	*dst = []string{}
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// nullable converts an optional string to sql.NullString, treating empty as NULL.
func nullable(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
