package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hherb/bmlib/internal/publication"
)

// exportPageSize is the number of rows read per query during export.
const exportPageSize = 500

// List returns up to limit publications with ID greater than afterID, in ID order.
func (s *Store) List(ctx context.Context, afterID int64, limit int) ([]publication.Publication, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+selectPubFields+` FROM publications WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing publications: %w", err)
	}
	defer rows.Close()

	var pubs []publication.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning publication: %w", err)
		}
		pubs = append(pubs, *p)
	}
	return pubs, rows.Err()
}

// ExportJSONL writes every publication to w as one JSON object per line,
// in ID order, and returns the number written.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	written := 0
	var afterID int64
	for {
		page, err := s.List(ctx, afterID, exportPageSize)
		if err != nil {
			return written, err
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			if err := enc.Encode(&page[i]); err != nil {
				return written, fmt.Errorf("encoding publication %d: %w", page[i].ID, err)
			}
			written++
		}
		afterID = page[len(page)-1].ID
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("writing export: %w", err)
	}
	return written, nil
}
