// Package merge deduplicates fetched records against the canonical store
// and folds repeat observations into the existing publication.
package merge

import "fmt"

// Result is the outcome of storing one record.
type Result string

const (
	Added  Result = "added"  // A new publication was inserted
	Merged Result = "merged" // The record was folded into an existing publication
)

// MatchedBy names the identifier that matched an existing publication.
type MatchedBy string

const (
	MatchedNone MatchedBy = ""
	MatchedDOI  MatchedBy = "doi"
	MatchedPMID MatchedBy = "pmid"
)

// ConflictKind classifies an IdentifierConflict.
type ConflictKind string

const (
	// ConflictSplitRows: the DOI and the PMID each match a different publication.
	ConflictSplitRows ConflictKind = "split-rows"
	// ConflictDOIMismatch: the PMID matches a publication that already has
	// another DOI.
	ConflictDOIMismatch ConflictKind = "doi-mismatch"
)

// IdentifierConflict describes a record whose identifiers disagree with the
// canonical publications they match. It is reported, never reconciled.
type IdentifierConflict struct {
	Kind        ConflictKind `json:"kind"`
	DOI         string       `json:"doi"`
	PMID        string       `json:"pmid"`
	DOIRowID    int64        `json:"doi_row_id,omitempty"`   // Row the record was merged into by DOI
	PMIDRowID   int64        `json:"pmid_row_id"`            // Row holding the PMID
	ExistingDOI string       `json:"existing_doi,omitempty"` // DOI already on the PMID row
}

func (c *IdentifierConflict) String() string {
	if c.Kind == ConflictDOIMismatch {
		return fmt.Sprintf("pmid %s matches publication %d with doi %s but record has doi %s",
			c.PMID, c.PMIDRowID, c.ExistingDOI, c.DOI)
	}
	return fmt.Sprintf("doi %s matches publication %d but pmid %s matches publication %d",
		c.DOI, c.DOIRowID, c.PMID, c.PMIDRowID)
}

// Outcome reports what Store did with a record.
type Outcome struct {
	Result        Result
	PublicationID int64
	MatchedBy     MatchedBy
	FulltextAdded int
	Conflict      *IdentifierConflict
}
