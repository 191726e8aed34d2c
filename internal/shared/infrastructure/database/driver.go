package database

import "strings"

// Driver is a history store backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

func (d Driver) String() string {
	return string(d)
}

// DetectDriver picks a backend from a connection string. An empty URL
// selects the local SQLite file.
func DetectDriver(url string) Driver {
	if url == "" {
		return DriverSQLite
	}

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}

	if strings.HasPrefix(url, "sqlite://") ||
		strings.HasPrefix(url, "file:") ||
		strings.HasSuffix(url, ".db") ||
		strings.HasSuffix(url, ".sqlite") ||
		strings.HasSuffix(url, ".sqlite3") {
		return DriverSQLite
	}

	return DriverPostgres
}

// SQLitePath strips the sqlite:// scheme from a SQLite URL. Other forms are
// returned unchanged.
func SQLitePath(url string) string {
	return strings.TrimPrefix(url, "sqlite://")
}
