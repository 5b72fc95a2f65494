package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hherb/bmlib/internal/publication"
)

// AddFulltextSource records a full-text URL for a publication.
// It returns true if inserted, false if (publicationID, url) already existed.
func (s *Store) AddFulltextSource(ctx context.Context, publicationID int64, ref publication.FulltextRef) (bool, error) {
	format := ref.Format
	if format == "" {
		format = publication.DefaultFulltextFormat
	}

	res, err := s.conn.Exec(ctx, `
		INSERT INTO fulltext_sources (publication_id, source, url, format, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (publication_id, url) DO NOTHING`,
		publicationID, ref.Source, ref.URL, format, nullable(ref.Version), formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("adding fulltext source %s for publication %d: %w", ref.URL, publicationID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("adding fulltext source %s: %w", ref.URL, err)
	}
	return n > 0, nil
}

// ListFulltextSources returns the full-text sources of a publication in
// insertion order.
func (s *Store) ListFulltextSources(ctx context.Context, publicationID int64) ([]publication.FullTextSource, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, publication_id, source, url, format, version, retrieved_at, created_at
		FROM fulltext_sources
		WHERE publication_id = ?
		ORDER BY id`, publicationID)
	if err != nil {
		return nil, fmt.Errorf("listing fulltext sources: %w", err)
	}
	defer rows.Close()

	var sources []publication.FullTextSource
	for rows.Next() {
		var fts publication.FullTextSource
		var version, retrievedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&fts.ID, &fts.PublicationID, &fts.Source, &fts.URL, &fts.Format,
			&version, &retrievedAt, &createdAt); err != nil {
			return nil, err
		}
		fts.Version = fromNullable(version)
		if retrievedAt.Valid && retrievedAt.String != "" {
			t, err := parseTime(retrievedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing retrieved_at: %w", err)
			}
			fts.RetrievedAt = &t
		}
		if fts.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sources = append(sources, fts)
	}
	return sources, rows.Err()
}
