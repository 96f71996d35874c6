package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

func TestOf_Typed(t *testing.T) {
	var syntax *json.SyntaxError
	jsonErr := json.Unmarshal([]byte("{"), &struct{}{})
	if !errors.As(jsonErr, &syntax) {
		// json.Unmarshal reports truncated input as a SyntaxError.
		t.Fatalf("expected json syntax error, got %T", jsonErr)
	}

	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"auth sentinel", fmt.Errorf("va: %w", connector.ErrAuth), AuthFailure},
		{"http 401", &connector.HTTPError{URL: "u", StatusCode: 401}, AuthFailure},
		{"http 404", &connector.HTTPError{URL: "u", StatusCode: 404}, HTTPError},
		{"http 503", fmt.Errorf("fetch: %w", &connector.HTTPError{URL: "u", StatusCode: 503}), Transient},
		{"http 429", &connector.HTTPError{URL: "u", StatusCode: 429}, Transient},
		{"parse error", &connector.ParseError{Source: "a.json", Err: errors.New("bad")}, Parse},
		{"json syntax", fmt.Errorf("decode: %w", jsonErr), Parse},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), Transient},
		{"busy", errors.New("exec: database is locked"), Transient},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, Network},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, Network},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Of(tt.err); got != tt.want {
				t.Errorf("Of(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestOf_MessageFallback(t *testing.T) {
	// WHAT: Untyped errors are classified by message.
	// WHY: Errors from third-party clients often arrive as plain strings.
	tests := []struct {
		msg  string
		want Category
	}{
		{"i/o timeout", Transient},
		{"read tcp: connection reset by peer", Network},
		{"unexpected EOF", Network},
		{"invalid api key", AuthFailure},
		{"json: cannot unmarshal string", Parse},
		{"upstream returned status 418", HTTPError},
		{"something odd", Unknown},
	}
	for _, tt := range tests {
		if got := Of(errors.New(tt.msg)); got != tt.want {
			t.Errorf("Of(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestRetriable(t *testing.T) {
	for c, want := range map[Category]bool{
		Transient: true, Network: true,
		AuthFailure: false, HTTPError: false, Parse: false, Unknown: false,
	} {
		if c.Retriable() != want {
			t.Errorf("%s.Retriable() = %v", c, !want)
		}
	}
	if Of(nil) != Unknown {
		t.Error("nil error should be unknown")
	}
}
