// Package classify maps connector and enrichment failures to an error
// category. RefreshJob uses the category to decide a source's health.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
)

// Category is an error category.
type Category string

const (
	Transient   Category = "transient"    // timeout, busy database
	Network     Category = "network"      // DNS, refused, reset
	AuthFailure Category = "auth_failure" // 401, 403, missing credentials
	HTTPError   Category = "http_error"   // any other non-2xx
	Parse       Category = "parse"        // malformed payload
	Unknown     Category = "unknown"
)

// Retriable reports whether the next scheduled run may succeed unaided.
func (c Category) Retriable() bool {
	return c == Transient || c == Network
}

// Of classifies err. Typed errors are checked first; the message is the
// fallback for errors that lost their type across a boundary.
func Of(err error) Category {
	if err == nil {
		return Unknown
	}

	if errors.Is(err, connector.ErrAuth) {
		return AuthFailure
	}
	var httpErr *connector.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return AuthFailure
		case httpErr.StatusCode == 408 || httpErr.StatusCode == 429 || httpErr.StatusCode >= 500:
			return Transient
		}
		return HTTPError
	}

	var parseErr *connector.ParseError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var yamlErr *yaml.TypeError
	if errors.As(err, &parseErr) || errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) || errors.As(err, &yamlErr) {
		return Parse
	}

	if errors.Is(err, context.DeadlineExceeded) || dbopen.IsBusy(err) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return Network
	}

	return fromMessage(strings.ToLower(err.Error()))
}

func fromMessage(msg string) Category {
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timed out"):
		return Transient
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "tls handshake") ||
		strings.Contains(msg, "eof"):
		return Network
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "api key") || strings.Contains(msg, "credentials"):
		return AuthFailure
	case strings.Contains(msg, "json") && (strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid")) ||
		strings.Contains(msg, "yaml") || strings.Contains(msg, "parse"):
		return Parse
	case strings.Contains(msg, "http ") || strings.Contains(msg, "status "):
		return HTTPError
	}
	return Unknown
}
