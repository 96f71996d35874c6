package connector

import (
	"errors"
	"fmt"
)

// ErrAuth is returned (wrapped) when a source rejects the connector's credentials.
var ErrAuth = errors.New("connector: authentication failed")

// HTTPError reports a non-success HTTP status from an upstream source.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// ParseError wraps a failure to decode upstream content.
type ParseError struct {
	Source string // file name or URL
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
