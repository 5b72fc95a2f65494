package publication

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidRecord indicates a fetched record that cannot be stored.
var ErrInvalidRecord = errors.New("invalid record")

// Prefixes stripped from identifiers during normalization.
var (
	doiPrefixes = []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi:",
	}
	pmidPrefixes = []string{
		"https://pubmed.ncbi.nlm.nih.gov/",
		"http://pubmed.ncbi.nlm.nih.gov/",
	}
)

// Accepted layouts for PublicationDate, most specific first.
var publicationDateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// DefaultFulltextFormat is used when an adapter omits a fulltext format.
const DefaultFulltextFormat = "html"

// FulltextRef is a full-text access point carried on a fetched record.
type FulltextRef struct {
	Source  string  `json:"source"`
	URL     string  `json:"url"`
	Format  string  `json:"format"`
	Version *string `json:"version,omitempty"`
}

// Record is the source-agnostic shape every fetcher adapter emits.
type Record struct {
	Source string `json:"source"` // Name of the origin feed
	Title  string `json:"title"`

	DOI   *string `json:"doi,omitempty"`
	PMID  *string `json:"pmid,omitempty"`
	PMCID *string `json:"pmcid,omitempty"`

	Abstract         *string  `json:"abstract,omitempty"`
	Authors          []string `json:"authors"`
	Journal          *string  `json:"journal,omitempty"`
	PublicationDate  *string  `json:"publication_date,omitempty"`
	PublicationTypes []string `json:"publication_types"`
	Keywords         []string `json:"keywords"`

	IsOpenAccess    bool          `json:"is_open_access"`
	License         *string       `json:"license,omitempty"`
	FulltextSources []FulltextRef `json:"fulltext_sources"`
}

// Normalize returns a cleaned copy of the record and validates it.
//
// Text is trimmed and NFC-normalized, empty optionals become nil, DOIs are
// lower-cased with resolver prefixes removed, and fulltext refs without a URL
// are dropped.
func (r Record) Normalize() (Record, error) {
	out := Record{
		Source:           strings.TrimSpace(r.Source),
		Title:            cleanText(r.Title),
		DOI:              normalizeDOI(r.DOI),
		PMID:             stripPrefixes(r.PMID, pmidPrefixes),
		PMCID:            cleanOptional(r.PMCID),
		Abstract:         cleanOptional(r.Abstract),
		Authors:          cleanList(r.Authors),
		Journal:          cleanOptional(r.Journal),
		PublicationDate:  cleanOptional(r.PublicationDate),
		PublicationTypes: cleanList(r.PublicationTypes),
		Keywords:         cleanList(r.Keywords),
		IsOpenAccess:     r.IsOpenAccess,
		License:          cleanOptional(r.License),
	}

	for _, ft := range r.FulltextSources {
		url := strings.TrimSpace(ft.URL)
		if url == "" {
			continue
		}
		ref := FulltextRef{
			Source:  strings.TrimSpace(ft.Source),
			URL:     url,
			Format:  strings.ToLower(strings.TrimSpace(ft.Format)),
			Version: cleanOptional(ft.Version),
		}
		if ref.Source == "" {
			ref.Source = out.Source
		}
		if ref.Format == "" {
			ref.Format = DefaultFulltextFormat
		}
		out.FulltextSources = append(out.FulltextSources, ref)
	}

	if err := out.Validate(); err != nil {
		return Record{}, err
	}
	return out, nil
}

// Validate checks the required fields of a record.
func (r Record) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidRecord)
	}
	if r.Title == "" {
		return fmt.Errorf("%w: missing title (doi=%s pmid=%s)", ErrInvalidRecord, Deref(r.DOI), Deref(r.PMID))
	}
	if r.PublicationDate != nil && !validPublicationDate(*r.PublicationDate) {
		return fmt.Errorf("%w: publication date %q is not an ISO date", ErrInvalidRecord, *r.PublicationDate)
	}
	return nil
}

// Label returns a short identifier for log and error messages.
func (r Record) Label() string {
	switch {
	case r.DOI != nil:
		return "doi:" + *r.DOI
	case r.PMID != nil:
		return "pmid:" + *r.PMID
	default:
		return fmt.Sprintf("title:%.40q", r.Title)
	}
}

func validPublicationDate(s string) bool {
	for _, layout := range publicationDateLayouts {
		if len(s) != len(layout) {
			continue
		}
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func cleanOptional(p *string) *string {
	if p == nil {
		return nil
	}
	return Str(cleanText(*p))
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = cleanText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripPrefixes(p *string, prefixes []string) *string {
	p = cleanOptional(p)
	if p == nil {
		return nil
	}
	s := *p
	for _, prefix := range prefixes {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = s[len(prefix):]
			break
		}
	}
	return Str(strings.TrimSpace(s))
}

// normalizeDOI lower-cases a DOI; DOIs are case-insensitive by definition.
func normalizeDOI(p *string) *string {
	p = stripPrefixes(p, doiPrefixes)
	if p == nil {
		return nil
	}
	return Str(strings.ToLower(*p))
}

// NormalizeDOI returns doi in the stored form: URL and "doi:" prefixes
// removed, lower case.
func NormalizeDOI(doi string) string {
	return Deref(normalizeDOI(&doi))
}
