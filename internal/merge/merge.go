package merge

import (
	"time"

	"github.com/hherb/bmlib/internal/publication"
)

// Merge folds an incoming record into an existing publication and returns
// the result. The existing value is not modified.
//
// Scalars are only filled when missing, lists only replaced when empty,
// sources are appended in order without duplicates and open access is
// sticky. Title, ID, CreatedAt and FirstSeenSource are never changed.
// UpdatedAt always moves forward to now, or by one microsecond when now
// does not lie after the previous value.
func Merge(existing publication.Publication, incoming publication.Record, now time.Time) publication.Publication {
	merged := existing

	merged.DOI = fillString(existing.DOI, incoming.DOI)
	merged.PMID = fillString(existing.PMID, incoming.PMID)
	merged.Abstract = fillString(existing.Abstract, incoming.Abstract)
	merged.Journal = fillString(existing.Journal, incoming.Journal)
	merged.PublicationDate = fillString(existing.PublicationDate, incoming.PublicationDate)
	merged.License = fillString(existing.License, incoming.License)

	merged.Authors = fillList(existing.Authors, incoming.Authors)
	merged.PublicationTypes = fillList(existing.PublicationTypes, incoming.PublicationTypes)
	merged.Keywords = fillList(existing.Keywords, incoming.Keywords)

	merged.Sources = unionSources(existing.Sources, incoming.Source)
	merged.IsOpenAccess = existing.IsOpenAccess || incoming.IsOpenAccess

	merged.UpdatedAt = advance(existing.UpdatedAt, now)
	return merged
}

// fillString returns existing unless it is missing.
func fillString(existing, incoming *string) *string {
	if existing != nil && *existing != "" {
		return existing
	}
	if incoming == nil || *incoming == "" {
		return existing
	}
	v := *incoming
	return &v
}

// fillList replaces an empty list wholesale; no element-wise union.
func fillList(existing, incoming []string) []string {
	if len(existing) > 0 || len(incoming) == 0 {
		return existing
	}
	return append([]string(nil), incoming...)
}

func unionSources(existing []string, source string) []string {
	out := append([]string(nil), existing...)
	if source == "" {
		return out
	}
	for _, s := range out {
		if s == source {
			return out
		}
	}
	return append(out, source)
}

func advance(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// newPublication builds the row inserted for a record with no match.
func newPublication(r publication.Record, now time.Time) *publication.Publication {
	now = now.UTC()
	return &publication.Publication{
		DOI:              r.DOI,
		PMID:             r.PMID,
		Title:            r.Title,
		Abstract:         r.Abstract,
		Authors:          r.Authors,
		Journal:          r.Journal,
		PublicationDate:  r.PublicationDate,
		PublicationTypes: r.PublicationTypes,
		Keywords:         r.Keywords,
		IsOpenAccess:     r.IsOpenAccess,
		License:          r.License,
		Sources:          []string{r.Source},
		FirstSeenSource:  r.Source,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
