package httpjson

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "" && got != "secret-key" {
			t.Errorf("header not expanded: %q", got)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_MapsNestedResults(t *testing.T) {
	// WHAT: Items at result_path are mapped via the field table; unmapped keys pass through.
	// WHY: Government portals nest results and use their own column names.
	t.Setenv("VA_API_KEY", "secret-key")
	srv := serve(t, 200, `{"data":{"results":[
		{"program_name":"GI Bill Help","summary":"Education benefits","link":"https://va.gov/gi","org_name":"VA","state":"DC"},
		"not-an-object"
	]}}`)

	c, err := New(Config{
		Name:       "va-api",
		URL:        srv.URL,
		Tier:       connector.TierOfficial,
		Headers:    map[string]string{"X-Api-Key": "${VA_API_KEY}"},
		ResultPath: "data.results",
		Fields:     map[string]string{"title": "program_name", "description": "summary", "source_url": "link"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	cand := got[0]
	if cand.Title != "GI Bill Help" || cand.Description != "Education benefits" || cand.SourceURL != "https://va.gov/gi" {
		t.Errorf("mapping: %+v", cand)
	}
	if cand.OrgName != "VA" || cand.State != "DC" {
		t.Errorf("pass-through: %+v", cand)
	}
	if cand.RawData["program_name"] != "GI Bill Help" {
		t.Errorf("raw data not kept: %v", cand.RawData)
	}
	if cand.FetchedAt.IsZero() {
		t.Error("FetchedAt should default to now")
	}
}

func TestRun_AuthFailure(t *testing.T) {
	srv := serve(t, http.StatusUnauthorized, `{}`)
	c, _ := New(Config{Name: "x", URL: srv.URL, Tier: 1})
	_, err := c.Run(context.Background())
	if !errors.Is(err, connector.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	var httpErr *connector.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 401 {
		t.Fatalf("expected HTTPError 401 in chain, got %v", err)
	}
}

func TestRun_HTTPError(t *testing.T) {
	srv := serve(t, http.StatusBadGateway, `oops`)
	c, _ := New(Config{Name: "x", URL: srv.URL, Tier: 1})
	_, err := c.Run(context.Background())
	var httpErr *connector.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 502 {
		t.Fatalf("expected HTTPError 502, got %v", err)
	}
	if errors.Is(err, connector.ErrAuth) {
		t.Fatal("502 is not an auth failure")
	}
}

func TestRun_ParseErrors(t *testing.T) {
	tests := []struct {
		name, body, path string
	}{
		{"invalid json", `{"data": [`, ""},
		{"root not array", `{"a":1}`, ""},
		{"missing key", `{"data":{}}`, "data.results"},
		{"wrong type", `[{"title": 42}]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, 200, tt.body)
			c, _ := New(Config{Name: "x", URL: srv.URL, Tier: 1, ResultPath: tt.path})
			_, err := c.Run(context.Background())
			var pe *connector.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	// WHAT: A hung upstream is cut off by the configured timeout.
	// WHY: No outbound call may block indefinitely.
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, _ := New(Config{Name: "slow", URL: srv.URL, Tier: 1, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not enforced")
	}
}
