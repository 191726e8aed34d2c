// Package sqlite opens the local history database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/bulkreg/internal/shared/infrastructure/database"
)

// pragmas: WAL journal, enforced foreign keys, 5s busy wait, NORMAL sync.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Open opens (creating if needed) the SQLite file at path.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = database.DefaultSQLitePath()
	}
	if err := database.EnsureDirectory(path); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + pragmas
	} else {
		dsn += "?" + pragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return db, nil
}
