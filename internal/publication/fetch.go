package publication

import "time"

// FetchStatus is the terminal state of one adapter invocation.
type FetchStatus string

const (
	FetchCompleted FetchStatus = "completed"
	FetchFailed    FetchStatus = "failed"
)

// FetchResult is the single terminal result of fetching one (source, day).
type FetchResult struct {
	Source      string      `json:"source"`
	Date        string      `json:"date"`
	RecordCount int         `json:"record_count"`
	Status      FetchStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
}

// Completed builds a successful FetchResult.
func Completed(source string, day time.Time, count int) FetchResult {
	return FetchResult{Source: source, Date: FormatDay(day), RecordCount: count, Status: FetchCompleted}
}

// Failed builds a failed FetchResult carrying err's message.
func Failed(source string, day time.Time, count int, err error) FetchResult {
	res := FetchResult{Source: source, Date: FormatDay(day), RecordCount: count, Status: FetchFailed}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Progress reports adapter progress during a fetch.
type Progress struct {
	Source           string `json:"source"`
	Date             string `json:"date"`
	RecordsProcessed int    `json:"records_processed"`
	RecordsTotal     int    `json:"records_total"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
}

// ProgressInProgress is the Status adapters report between pages.
const ProgressInProgress = "in_progress"

// SyncReport summarizes one sync run.
type SyncReport struct {
	RunID         string    `json:"run_id"`
	SourcesSynced []string  `json:"sources_synced"`
	DaysProcessed int       `json:"days_processed"`
	RecordsAdded  int       `json:"records_added"`
	RecordsMerged int       `json:"records_merged"`
	RecordsFailed int       `json:"records_failed"`
	Errors        []string  `json:"errors"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
