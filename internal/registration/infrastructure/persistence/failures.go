// Package persistence stores dispatch run history in SQLite or PostgreSQL.
package persistence

import (
	"github.com/felixgeelhaar/bulkreg/internal/registration/domain"
)

type failureRow struct {
	sessionID int64
	ticketID  string
}

// flatten lists failures in export order; the slice index is the stored
// position.
func flatten(groups []domain.FailureGroup) []failureRow {
	var rows []failureRow
	for _, group := range groups {
		for _, ticketID := range group.TicketIDs {
			rows = append(rows, failureRow{sessionID: group.SessionID, ticketID: ticketID})
		}
	}
	return rows
}

// regroup rebuilds failure groups from rows ordered by position.
func regroup(rows []failureRow) []domain.FailureGroup {
	if len(rows) == 0 {
		return nil
	}
	ledger := domain.NewFailureLedger()
	for _, row := range rows {
		ledger.RecordFailure(row.sessionID, row.ticketID)
	}
	return ledger.Export()
}
