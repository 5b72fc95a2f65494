package ledger

import (
	"time"

	"github.com/hherb/bmlib/internal/publication"
)

// Reason explains why a (source, day) pair is or is not fetched.
type Reason string

const (
	ReasonToday      Reason = "today"       // The current day is always fetched
	ReasonNoRow      Reason = "no-row"      // Never attempted
	ReasonFailed     Reason = "failed"      // Last attempt failed
	ReasonPartial    Reason = "partial"     // Last attempt lost records
	ReasonRecheckDue Reason = "recheck-due" // Completed but due for re-verification
	ReasonSatisfied  Reason = "satisfied"
)

// Fetch reports whether the reason selects the day for fetching.
func (r Reason) Fetch() bool {
	return r != ReasonSatisfied
}

// Decide classifies one (source, day) pair given its ledger row, which is
// nil when the pair was never attempted. Conditions are checked in order:
// today, missing row, failed or partial status, recheck due.
//
// now is the current instant. Its calendar day decides "today"; the recheck
// window is measured in elapsed time from last_verified_at to now.
func Decide(row *publication.DownloadDay, day, now time.Time, recheckDays int) Reason {
	day, today := publication.Day(day), publication.Day(now.UTC())

	switch {
	case day.Equal(today):
		return ReasonToday
	case row == nil:
		return ReasonNoRow
	case row.Status == publication.DayFailed:
		return ReasonFailed
	case row.Status == publication.DayPartial:
		return ReasonPartial
	case !row.Status.Valid():
		return ReasonFailed
	}

	if row.Status == publication.DayCompleted && recheckDays > 0 {
		if row.LastVerifiedAt == nil {
			return ReasonRecheckDue
		}
		if now.Sub(*row.LastVerifiedAt) >= RecheckWindow(recheckDays) {
			return ReasonRecheckDue
		}
	}
	return ReasonSatisfied
}

// RecheckWindow is the elapsed time after which a completed day is
// re-verified.
func RecheckWindow(recheckDays int) time.Duration {
	return time.Duration(recheckDays) * 24 * time.Hour
}

// DayDecision pairs a calendar day with the reason it was classified.
type DayDecision struct {
	Date   time.Time
	Reason Reason
}
