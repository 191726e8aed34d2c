package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SessionColumn is one spreadsheet column: a session id header and the
// ticket ids listed beneath it.
type SessionColumn struct {
	Header    string
	TicketIDs []string
}

// Expander turns session columns into registration targets for one event.
type Expander struct {
	baseURL string
	eventID string
}

// NewExpander creates an expander for the given event. An empty baseURL
// selects DefaultAPIBaseURL.
func NewExpander(baseURL, eventID string) (*Expander, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("%w: event id", ErrMissingField)
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Expander{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		eventID: eventID,
	}, nil
}

// Expand flattens the columns into targets, sessions first and tickets
// within each session, preserving input order.
func (e *Expander) Expand(columns []SessionColumn) ([]RegistrationTarget, error) {
	total := 0
	for _, col := range columns {
		total += len(col.TicketIDs)
	}

	targets := make([]RegistrationTarget, 0, total)
	for _, col := range columns {
		sessionID, err := ParseSessionID(col.Header)
		if err != nil {
			return nil, err
		}
		for _, ticketID := range col.TicketIDs {
			targets = append(targets, RegistrationTarget{
				SessionID: sessionID,
				TicketID:  ticketID,
				URL:       TargetURL(e.baseURL, e.eventID, sessionID, ticketID),
			})
		}
	}
	return targets, nil
}

// ParseSessionID validates a column header as a session id. Whole-number
// float spellings such as "101.0" are accepted since spreadsheets store
// numbers as floats.
func ParseSessionID(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if id, err := strconv.ParseInt(header, 10, 64); err == nil && id >= 0 {
		return id, nil
	}
	if f, err := strconv.ParseFloat(header, 64); err == nil && f >= 0 && f == float64(int64(f)) {
		return int64(f), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSessionID, header)
}
