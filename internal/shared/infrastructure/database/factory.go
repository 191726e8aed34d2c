package database

import (
	"os"
	"path/filepath"
)

// Config selects and configures the history store.
type Config struct {
	// URL is a PostgreSQL connection string or a SQLite location. When empty
	// SQLitePath is used.
	URL string

	// SQLitePath defaults to ~/.bulkreg/history.db.
	SQLitePath string

	// MaxConns caps the PostgreSQL pool. Zero keeps the pgx default.
	MaxConns int
}

// Driver returns the backend selected by the configuration.
func (c Config) Driver() Driver {
	return DetectDriver(c.URL)
}

// ResolvedSQLitePath returns the file a SQLite store should open.
func (c Config) ResolvedSQLitePath() string {
	if c.URL != "" {
		return SQLitePath(c.URL)
	}
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return DefaultSQLitePath()
}

// DefaultSQLitePath returns ~/.bulkreg/history.db, or a relative path when
// the home directory is unknown.
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".bulkreg", "history.db")
}

// EnsureDirectory creates the parent directory of path.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
