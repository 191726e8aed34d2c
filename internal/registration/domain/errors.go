package domain

import "errors"

var (
	ErrMissingField       = errors.New("required field is missing")
	ErrInvalidVerb        = errors.New("invalid request verb")
	ErrInvalidSessionID   = errors.New("session id must be a non-negative integer")
	ErrInvalidConcurrency = errors.New("concurrency limit must be positive")
	ErrEmptyToken         = errors.New("bearer token is empty")
	ErrAuthentication     = errors.New("failed to obtain access token")
	ErrInvalidTransition  = errors.New("invalid dispatch run state transition")
	ErrURLNotRecognized   = errors.New("url does not identify a session registration")
	ErrRequestFailed      = errors.New("registration request failed")
)
