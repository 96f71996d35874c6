package filedrop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_MixedFormatsInNameOrder(t *testing.T) {
	// WHAT: JSON list, JSON envelope and YAML files are all read, in file-name order.
	// WHY: Dedup keeps the first-seen record, so read order must be stable.
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{"resources":[{"title":"Legal Aid","description":"Free counsel","source_url":"https://b.org","org_name":"B Org"}]}`)
	writeFile(t, dir, "a.json", `[{"title":"Job Fair","description":"Hiring","source_url":"https://a.org","org_name":"A Org","categories":["employment"]}]`)
	writeFile(t, dir, "c.yaml", `
- title: Rent Help
  description: Emergency rental assistance
  source_url: https://c.org
  org_name: C Org
  state: ca
  scope: state
  states: [CA]
`)
	writeFile(t, dir, "notes.txt", "ignored")

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c, err := New(Config{Name: "drop", Dir: dir, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].Title != "Job Fair" || got[1].Title != "Legal Aid" || got[2].Title != "Rent Help" {
		t.Errorf("order: %q, %q, %q", got[0].Title, got[1].Title, got[2].Title)
	}
	if got[2].Scope != connector.ScopeState || len(got[2].States) != 1 {
		t.Errorf("yaml fields not decoded: %+v", got[2])
	}
	if !got[0].FetchedAt.Equal(fixed) {
		t.Errorf("FetchedAt default: got %v", got[0].FetchedAt)
	}
}

func TestRun_YAMLEnvelope(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.yml", "resources:\n  - title: A\n    description: B\n    source_url: https://x\n    org_name: O\n")
	c, _ := New(Config{Name: "drop", Dir: dir})
	got, err := c.Run(context.Background())
	if err != nil || len(got) != 1 || got[0].OrgName != "O" {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestRun_ParseError(t *testing.T) {
	// WHAT: A malformed file surfaces as *connector.ParseError.
	// WHY: The pipeline classifies it as "parse" and marks the source failing.
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", `[{"title": "unterminated`)
	c, _ := New(Config{Name: "drop", Dir: dir})
	_, err := c.Run(context.Background())
	var pe *connector.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestRun_MissingDir(t *testing.T) {
	c, _ := New(Config{Name: "drop", Dir: filepath.Join(t.TempDir(), "nope")})
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Dir: "x"}); err == nil {
		t.Error("missing name should fail")
	}
	if _, err := New(Config{Name: "x"}); err == nil {
		t.Error("missing dir should fail")
	}
	c, _ := New(Config{Name: "x", Dir: "/tmp/x"})
	m := c.Metadata()
	if m.Tier != connector.TierCommunity || m.Frequency != "daily" || m.URL != "file:///tmp/x" {
		t.Errorf("defaults: %+v", m)
	}
}
