// Package db provides the transactional SQL boundary shared by the stores.
//
// Queries are written with '?' placeholders and rebound per dialect, so the
// same statements run against SQLite and PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend behind a connection.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind rewrites '?' placeholders into the dialect's native form.
// Placeholders inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			sb.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			fmt.Fprintf(&sb, "$%d", n)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Conn is the minimal capability set the stores need: single-statement
// execute, fetch-one and fetch-all. Commit and rollback are reached through
// WithTx.
type Conn interface {
	Dialect() Dialect
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB wraps a database handle opened for one dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
	target  string
}

// Open opens target as a PostgreSQL DSN when it has a postgres:// or
// postgresql:// scheme, and as a SQLite file path otherwise.
func Open(ctx context.Context, target string) (*DB, error) {
	if IsPostgresURL(target) {
		return OpenPostgres(ctx, target)
	}
	return OpenSQLite(target)
}

// IsPostgresURL reports whether target names a PostgreSQL database.
func IsPostgresURL(target string) bool {
	return strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://")
}

// OpenSQLite opens or creates a SQLite database at path (":memory:" allowed).
func OpenSQLite(path string) (*DB, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	return &DB{db: sqlDB, dialect: SQLite, target: path}, nil
}

// OpenPostgres connects to PostgreSQL through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer per sync run
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &DB{db: sqlDB, dialect: Postgres, target: dsn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Dialect returns the backend dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Target returns the path or DSN the database was opened with.
func (d *DB) Target() string { return d.target }

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
	return res, classify(err)
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
}

// Tx is a Conn bound to an open transaction.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) Dialect() Dialect { return t.dialect }

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
	return res, classify(err)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// WithTx runs fn inside a transaction: commit on success, rollback on error
// or panic. When c is already a transaction, fn joins it.
func WithTx(ctx context.Context, c Conn, fn func(Conn) error) (err error) {
	var d *DB
	switch conn := c.(type) {
	case *Tx:
		return fn(conn)
	case *DB:
		d = conn
	default:
		// Unknown Conn implementations manage their own atomicity.
		return fn(c)
	}

	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx, dialect: d.dialect}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InsertReturningID executes an INSERT and returns the generated id column.
func InsertReturningID(ctx context.Context, c Conn, query string, args ...any) (int64, error) {
	if c.Dialect() == Postgres {
		var id int64
		err := c.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, classify(err)
	}

	res, err := c.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ExecScript executes statements one at a time.
func ExecScript(ctx context.Context, c Conn, statements []string) error {
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := c.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
