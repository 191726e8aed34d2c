// Package migrations holds the history store schema for each driver.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

// RunSQLite applies the SQLite migrations in file name order. Statements are
// idempotent, so this runs on every open.
func RunSQLite(ctx context.Context, db *sql.DB) error {
	return apply("sqlite", func(stmt string) error {
		_, err := db.ExecContext(ctx, stmt)
		return err
	})
}

// RunPostgres applies the PostgreSQL migrations in file name order.
func RunPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	return apply("postgres", func(stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
}

func apply(dir string, exec func(stmt string) error) error {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, file := range upFiles {
		migration, err := migrationsFS.ReadFile(dir + "/" + file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if err := exec(string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file, err)
		}
	}
	return nil
}
