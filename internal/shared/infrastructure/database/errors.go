package database

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IsNoRows reports whether err means a single-row query found nothing, for
// either driver.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
