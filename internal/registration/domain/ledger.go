package domain

import "strconv"

// FailureGroup lists the failed tickets of one session in failure order.
type FailureGroup struct {
	SessionID int64
	TicketIDs []string
}

// FailureLedger accumulates failed targets grouped by session. Groups keep
// the order in which each session first failed. Duplicates are kept.
//
// A FailureLedger is not safe for concurrent writers.
type FailureLedger struct {
	groups []FailureGroup
	index  map[int64]int
	count  int
}

// NewFailureLedger creates an empty ledger.
func NewFailureLedger() *FailureLedger {
	return &FailureLedger{index: make(map[int64]int)}
}

// RecordFailure appends a ticket to its session's group.
func (l *FailureLedger) RecordFailure(sessionID int64, ticketID string) {
	i, ok := l.index[sessionID]
	if !ok {
		i = len(l.groups)
		l.index[sessionID] = i
		l.groups = append(l.groups, FailureGroup{SessionID: sessionID})
	}
	l.groups[i].TicketIDs = append(l.groups[i].TicketIDs, ticketID)
	l.count++
}

// Len returns the number of recorded failures.
func (l *FailureLedger) Len() int {
	return l.count
}

// IsEmpty reports whether nothing was recorded.
func (l *FailureLedger) IsEmpty() bool {
	return l.count == 0
}

// Export returns a copy of the groups, or nil when no failure was recorded.
func (l *FailureLedger) Export() []FailureGroup {
	if l.IsEmpty() {
		return nil
	}
	out := make([]FailureGroup, len(l.groups))
	for i, g := range l.groups {
		out[i] = FailureGroup{
			SessionID: g.SessionID,
			TicketIDs: append([]string(nil), g.TicketIDs...),
		}
	}
	return out
}

// Columns converts exported groups back into session columns so that a
// previous run's failures can be expanded and dispatched again.
func Columns(groups []FailureGroup) []SessionColumn {
	cols := make([]SessionColumn, 0, len(groups))
	for _, g := range groups {
		cols = append(cols, SessionColumn{
			Header:    strconv.FormatInt(g.SessionID, 10),
			TicketIDs: append([]string(nil), g.TicketIDs...),
		})
	}
	return cols
}
