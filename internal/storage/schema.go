package storage

import "github.com/hherb/bmlib/internal/db"

// schemaComponent keys this package's rows in schema_version.
const schemaComponent = "publications"

// migrations creates the canonical publication tables.
var migrations = []db.Migration{
	{
		Version:    1,
		Name:       "initial_schema",
		Statements: initialSchema,
	},
}

func initialSchema(d db.Dialect) []string {
	idColumn, refType := "id INTEGER PRIMARY KEY AUTOINCREMENT", "INTEGER"
	if d == db.Postgres {
		idColumn, refType = "id BIGSERIAL PRIMARY KEY", "BIGINT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS publications (
			` + idColumn + `,
			doi TEXT,
			pmid TEXT,
			title TEXT NOT NULL,
			abstract TEXT,
			authors TEXT NOT NULL DEFAULT '[]',
			journal TEXT,
			publication_date TEXT,
			publication_types TEXT NOT NULL DEFAULT '[]',
			keywords TEXT NOT NULL DEFAULT '[]',
			is_open_access INTEGER NOT NULL DEFAULT 0,
			license TEXT,
			sources TEXT NOT NULL DEFAULT '[]',
			first_seen_source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		// At most one row per non-null identifier
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_publications_doi
			ON publications (doi) WHERE doi IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_publications_pmid
			ON publications (pmid) WHERE pmid IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS idx_publications_publication_date
			ON publications (publication_date)`,

		`CREATE TABLE IF NOT EXISTS fulltext_sources (
			` + idColumn + `,
			publication_id ` + refType + ` NOT NULL REFERENCES publications(id),
			source TEXT NOT NULL,
			url TEXT NOT NULL,
			format TEXT NOT NULL,
			version TEXT,
			retrieved_at TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (publication_id, url)
		)`,
	}
}
