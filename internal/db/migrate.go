package db

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Migration is one versioned schema step owned by a component.
type Migration struct {
	Version int
	Name    string
	// Statements returns the DDL for the given dialect.
	Statements func(Dialect) []string
}

// schemaVersionDDL creates the table that records applied migrations.
const schemaVersionDDL = `CREATE TABLE IF NOT EXISTS schema_version (
	component TEXT NOT NULL,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL,
	PRIMARY KEY (component, version)
)`

// RunMigrations applies the component's pending migrations in version order,
// each in its own transaction, and returns how many were applied. Running it
// again is a no-op.
func RunMigrations(ctx context.Context, c Conn, component string, migrations []Migration) (int, error) {
	if _, err := c.Exec(ctx, schemaVersionDDL); err != nil {
		return 0, fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := AppliedVersions(ctx, c, component)
	if err != nil {
		return 0, err
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		err := WithTx(ctx, c, func(tx Conn) error {
			if err := ExecScript(ctx, tx, m.Statements(tx.Dialect())); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_version (component, version, name, applied_at) VALUES (?, ?, ?, ?)`,
				component, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano))
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("applying %s migration %d (%s): %w", component, m.Version, m.Name, err)
		}
	}

	return len(pending), nil
}

// AppliedVersions returns the migration versions recorded for component.
func AppliedVersions(ctx context.Context, c Conn, component string) (map[int]bool, error) {
	rows, err := c.Query(ctx, `SELECT version FROM schema_version WHERE component = ?`, component)
	if err != nil {
		return nil, fmt.Errorf("reading schema_version: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = true
	}
	return versions, rows.Err()
}
