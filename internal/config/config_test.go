package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDatabasePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	want := filepath.Join(dir, "bmlib", "publications.db")
	if got := DefaultDatabasePath(); got != want {
		t.Errorf("DefaultDatabasePath() = %q, want %q", got, want)
	}
}

func TestLockPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	tests := []struct {
		database string
		want     string
	}{
		{"/var/lib/pubs.db", "/var/lib/pubs.db.lock"},
		{"postgres://user@host/pubs", filepath.Join(dir, "bmlib", "postgres.lock")},
	}
	for _, tt := range tests {
		if got := LockPath(tt.database); got != tt.want {
			t.Errorf("LockPath(%q) = %q, want %q", tt.database, got, tt.want)
		}
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"~", home},
		{"~/pubs.db", filepath.Join(home, "pubs.db")},
		{"/abs/path", "/abs/path"},
		{"rel/~path", "rel/~path"},
	}
	for _, tt := range tests {
		if got := ExpandTilde(tt.in); got != tt.want {
			t.Errorf("ExpandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
