package client

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all backends so callers can branch on the
// failure class without knowing the backend.
var (
	// ErrNotFound reports a twin, relationship, or model that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized reports missing or rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// QueryError reports a query the service rejected, carrying the service's
// own message so the user sees what to fix.
type QueryError struct {
	Query   string
	Message string
}

func (e *QueryError) Error() string {
	if e.Message == "" {
		return "query rejected"
	}
	return fmt.Sprintf("query rejected: %s", e.Message)
}

// IsQueryError reports whether err is a QueryError and returns it.
func IsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
