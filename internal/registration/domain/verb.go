package domain

import (
	"fmt"
	"net/http"
)

// Verb is the HTTP method applied to every target of a dispatch run.
type Verb string

const (
	// VerbRegister adds a ticket holder to a session.
	VerbRegister Verb = http.MethodPut
	// VerbUnregister removes a ticket holder from a session.
	VerbUnregister Verb = http.MethodDelete
)

// IsValid reports whether the verb is one the registration API accepts.
func (v Verb) IsValid() bool {
	switch v {
	case VerbRegister, VerbUnregister:
		return true
	default:
		return false
	}
}

// String returns the method name.
func (v Verb) String() string {
	return string(v)
}

// ParseVerb validates a method name. Matching is case-sensitive.
func ParseVerb(s string) (Verb, error) {
	v := Verb(s)
	if !v.IsValid() {
		return "", fmt.Errorf("%w: %q (expected PUT or DELETE)", ErrInvalidVerb, s)
	}
	return v, nil
}
