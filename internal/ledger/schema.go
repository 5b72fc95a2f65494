package ledger

import "github.com/hherb/bmlib/internal/db"

const schemaComponent = "ledger"

var migrations = []db.Migration{
	{
		Version: 1,
		Name:    "download_days",
		Statements: func(d db.Dialect) []string {
			idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
			if d == db.Postgres {
				idColumn = "id BIGSERIAL PRIMARY KEY"
			}
			return []string{
				`CREATE TABLE IF NOT EXISTS download_days (
					` + idColumn + `,
					source TEXT NOT NULL,
					date TEXT NOT NULL,
					status TEXT NOT NULL,
					record_count INTEGER NOT NULL DEFAULT 0,
					downloaded_at TEXT NOT NULL,
					last_verified_at TEXT,
					UNIQUE (source, date)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_download_days_status
					ON download_days (status)`,
			}
		},
	},
}
