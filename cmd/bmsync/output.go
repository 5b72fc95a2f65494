package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/hherb/bmlib/internal/publication"
)

// ErrorResponse is the JSON body written for failed commands.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Path     string `json:"path,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// colorEnabled reports whether stdout is a terminal.
func colorEnabled() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newTable returns a go-pretty table writer with the shared style.
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetOutputMirror(os.Stdout)
	return t
}

// statusText renders a day status, colored when color is set.
func statusText(s publication.DayStatus, color bool) string {
	if !color {
		return string(s)
	}
	switch s {
	case publication.DayCompleted:
		return text.FgGreen.Sprint(s)
	case publication.DayPartial:
		return text.FgYellow.Sprint(s)
	default:
		return text.FgRed.Sprint(s)
	}
}

// parseDayFlag parses a YYYY-MM-DD flag value; empty yields the zero time.
func parseDayFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := publication.ParseDay(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, value)
	}
	return d, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
