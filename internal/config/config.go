// Package config handles bmlib paths and global configuration.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// AppDir is the directory name used under the XDG base directories.
	AppDir = "bmlib"
	// DBFile is the default SQLite database file name.
	DBFile = "publications.db"
	// LockSuffix is appended to a database path to form its lock file.
	LockSuffix = ".lock"
)

// DataDir returns $XDG_DATA_HOME/bmlib, defaulting to ~/.local/share/bmlib.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, AppDir)
}

// DefaultDatabasePath returns the SQLite database used when none is configured.
func DefaultDatabasePath() string {
	dir := DataDir()
	if dir == "" {
		return DBFile
	}
	return filepath.Join(dir, DBFile)
}

// LockPath returns the lock file guarding writes to database. PostgreSQL
// URLs are mapped to a file in the data directory.
func LockPath(database string) string {
	if strings.Contains(database, "://") {
		return filepath.Join(DataDir(), "postgres"+LockSuffix)
	}
	return database + LockSuffix
}

// ExpandTilde expands a leading ~ to the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
