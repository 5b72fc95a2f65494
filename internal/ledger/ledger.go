// Package ledger records, per source and calendar day, whether ingestion
// finished, and decides which days a sync run must fetch.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hherb/bmlib/internal/db"
	"github.com/hherb/bmlib/internal/publication"
)

const selectDayFields = `id, source, date, status, record_count, downloaded_at, last_verified_at`

// Ledger persists DownloadDay rows.
type Ledger struct {
	conn db.Conn
	now  func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source for downloaded_at and last_verified_at.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New returns a Ledger over conn.
func New(conn db.Conn, opts ...Option) *Ledger {
	l := &Ledger{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureSchema creates the download_days table if it doesn't exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := db.RunMigrations(ctx, l.conn, schemaComponent, migrations); err != nil {
		return fmt.Errorf("creating ledger schema: %w", err)
	}
	return nil
}

// UpsertDay replaces the row for (source, date). The previous row, if any,
// is deleted and a fresh one inserted in the same transaction; counts are
// never accumulated across attempts.
func (l *Ledger) UpsertDay(ctx context.Context, source string, date time.Time, status publication.DayStatus, recordCount int) error {
	if !status.Valid() {
		return fmt.Errorf("upserting %s/%s: invalid status %q", source, publication.FormatDay(date), status)
	}

	day := publication.FormatDay(publication.Day(date))
	now := l.now().UTC().Format(time.RFC3339Nano)

	err := db.WithTx(ctx, l.conn, func(tx db.Conn) error {
		if _, err := tx.Exec(ctx, `DELETE FROM download_days WHERE source = ? AND date = ?`, source, day); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO download_days (source, date, status, record_count, downloaded_at, last_verified_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			source, day, string(status), recordCount, now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", source, day, err)
	}
	return nil
}

// Get returns the row for (source, date), or nil if none exists.
func (l *Ledger) Get(ctx context.Context, source string, date time.Time) (*publication.DownloadDay, error) {
	row := l.conn.QueryRow(ctx,
		`SELECT `+selectDayFields+` FROM download_days WHERE source = ? AND date = ?`,
		source, publication.FormatDay(publication.Day(date)))

	d, err := scanDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", source, publication.FormatDay(date), err)
	}
	return d, nil
}

// List returns rows between from and to inclusive, ordered by source then
// date. An empty source lists every source.
func (l *Ledger) List(ctx context.Context, source string, from, to time.Time) ([]publication.DownloadDay, error) {
	query := `SELECT ` + selectDayFields + ` FROM download_days WHERE date >= ? AND date <= ?`
	args := []any{publication.FormatDay(from), publication.FormatDay(to)}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY source, date`

	rows, err := l.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing download days: %w", err)
	}
	defer rows.Close()

	var days []publication.DownloadDay
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning download day: %w", err)
		}
		days = append(days, *d)
	}
	return days, rows.Err()
}

// NeedsFetch reports whether (source, date) must be fetched at instant now,
// and why.
func (l *Ledger) NeedsFetch(ctx context.Context, source string, date, now time.Time, recheckDays int) (bool, Reason, error) {
	row, err := l.Get(ctx, source, date)
	if err != nil {
		return false, "", err
	}
	reason := Decide(row, date, now, recheckDays)
	return reason.Fetch(), reason, nil
}

// DaysNeedingFetch returns the days between from and to inclusive that must
// be fetched for source, in ascending order. The ledger is read with a
// single range query. now is the current instant, as for Decide.
func (l *Ledger) DaysNeedingFetch(ctx context.Context, source string, from, to, now time.Time, recheckDays int) ([]DayDecision, error) {
	from, to = publication.Day(from), publication.Day(to)
	if from.After(to) {
		return nil, fmt.Errorf("date range %s..%s is empty", publication.FormatDay(from), publication.FormatDay(to))
	}

	rows, err := l.List(ctx, source, from, to)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]*publication.DownloadDay, len(rows))
	for i := range rows {
		byDate[publication.FormatDay(rows[i].Date)] = &rows[i]
	}

	var selected []DayDecision
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		reason := Decide(byDate[publication.FormatDay(d)], d, now, recheckDays)
		if reason.Fetch() {
			selected = append(selected, DayDecision{Date: d, Reason: reason})
		}
	}
	return selected, nil
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDay(s scanner) (*publication.DownloadDay, error) {
	var d publication.DownloadDay
	var date, status, downloadedAt string
	var lastVerified sql.NullString

	if err := s.Scan(&d.ID, &d.Source, &date, &status, &d.RecordCount, &downloadedAt, &lastVerified); err != nil {
		return nil, err
	}

	var err error
	if d.Date, err = publication.ParseDay(date); err != nil {
		return nil, fmt.Errorf("parsing date: %w", err)
	}
	d.Status = publication.DayStatus(status)
	if d.DownloadedAt, err = time.Parse(time.RFC3339Nano, downloadedAt); err != nil {
		return nil, fmt.Errorf("parsing downloaded_at: %w", err)
	}
	if lastVerified.Valid && lastVerified.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastVerified.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_verified_at: %w", err)
		}
		d.LastVerifiedAt = &t
	}
	return &d, nil
}
