// Package publication defines the core domain types for ingested publications.
package publication

import (
	"encoding/json"
	"time"
)

// Publication is the canonical record for one real-world paper.
type Publication struct {
	// Identity
	ID   int64   `json:"id"`
	DOI  *string `json:"doi"`  // Unique among non-null values
	PMID *string `json:"pmid"` // Unique among non-null values

	// Metadata
	Title            string   `json:"title"`
	Abstract         *string  `json:"abstract"`
	Authors          []string `json:"authors"`
	Journal          *string  `json:"journal"`
	PublicationDate  *string  `json:"publication_date"` // YYYY, YYYY-MM or YYYY-MM-DD
	PublicationTypes []string `json:"publication_types"`
	Keywords         []string `json:"keywords"`

	// Access
	IsOpenAccess bool    `json:"is_open_access"`
	License      *string `json:"license"`

	// Provenance
	Sources         []string `json:"sources"` // Ordered set, insertion order kept
	FirstSeenSource string   `json:"first_seen_source"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSource reports whether name is already in the publication's source set.
func (p *Publication) HasSource(name string) bool {
	for _, s := range p.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// FullTextSource is one access point for a publication's full text.
type FullTextSource struct {
	ID            int64      `json:"id"`
	PublicationID int64      `json:"publication_id"`
	Source        string     `json:"source"`
	URL           string     `json:"url"`
	Format        string     `json:"format"` // html, pdf, xml
	Version       *string    `json:"version,omitempty"`
	RetrievedAt   *time.Time `json:"retrieved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DayStatus is the ledger state of one (source, day) ingestion attempt.
type DayStatus string

const (
	// DayCompleted means the fetch finished and every record was stored.
	DayCompleted DayStatus = "completed"
	// DayPartial means the fetch finished but some records failed to store.
	DayPartial DayStatus = "partial"
	// DayFailed means the fetch itself failed.
	DayFailed DayStatus = "failed"
)

// Valid reports whether s is one of the known ledger states.
func (s DayStatus) Valid() bool {
	switch s {
	case DayCompleted, DayPartial, DayFailed:
		return true
	}
	return false
}

// Retry reports whether a day in this state must be fetched again.
func (s DayStatus) Retry() bool {
	return s == DayFailed || s == DayPartial
}

// DownloadDay tracks ingestion of one source on one calendar day.
type DownloadDay struct {
	ID             int64      `json:"id"`
	Source         string     `json:"source"`
	Date           time.Time  `json:"-"`
	Status         DayStatus  `json:"status"`
	RecordCount    int        `json:"record_count"`
	DownloadedAt   time.Time  `json:"downloaded_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at"`
}

// MarshalJSON renders Date as a YYYY-MM-DD string.
func (d DownloadDay) MarshalJSON() ([]byte, error) {
	type alias DownloadDay
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(d), Date: FormatDay(d.Date)})
}

// DayLayout is the storage and wire format of a calendar day.
const DayLayout = "2006-01-02"

// Day returns the calendar day of t as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay formats a calendar day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD calendar day.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// Str returns a pointer to s, or nil if s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of p, or "" if p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
