package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// DefaultAPIBaseURL is the registration API root.
const DefaultAPIBaseURL = "https://api.bizzabo.com/v1"

var targetPathPattern = regexp.MustCompile(`/sessions/(\d+)/registrations/(\d+)`)

// RegistrationTarget is one (session, ticket) pair and the endpoint that manages it.
type RegistrationTarget struct {
	SessionID int64
	TicketID  string
	URL       string
}

// TargetURL builds the registration endpoint for a session and ticket.
// The session and ticket ids always occupy the same path segments so that
// ParseTargetURL can recover them.
func TargetURL(baseURL, eventID string, sessionID int64, ticketID string) string {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return fmt.Sprintf("%s/events/%s/agenda/sessions/%d/registrations/%s", baseURL, eventID, sessionID, ticketID)
}

// ParseTargetURL recovers the session and ticket ids from a registration URL.
// Only numeric ticket ids are recognized.
func ParseTargetURL(url string) (int64, string, error) {
	match := targetPathPattern.FindStringSubmatch(url)
	if match == nil {
		return 0, "", fmt.Errorf("%w: %s", ErrURLNotRecognized, url)
	}
	sessionID, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %s", ErrURLNotRecognized, url)
	}
	return sessionID, match[2], nil
}
