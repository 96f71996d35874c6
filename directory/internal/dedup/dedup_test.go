package dedup

import (
	"testing"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/normalize"
)

func res(org, title, desc string) *normalize.Resource {
	return &normalize.Resource{
		OrgName: org, Title: title, Description: desc,
		Address: "1 Vet St", City: "Anytown", State: "CA", ZipCode: "90001",
	}
}

func TestDedupe_FirstSeenWins(t *testing.T) {
	// WHAT: Same org+address+title in order [A, B] keeps A and drops B.
	// WHY: Connector order decides the survivor; it must be deterministic.
	a := res("VA", "Job Fair", "first")
	b := res("va ", "JOB FAIR", "second")
	got := Dedupe([]*normalize.Resource{a, b})

	if len(got.Unique) != 1 || got.Unique[0] != a {
		t.Fatalf("expected A to survive, got %+v", got.Unique)
	}
	if got.Removed() != 1 || got.Dropped[0].Resource != b || got.Dropped[0].KeptIdx != 0 {
		t.Fatalf("dropped: %+v", got.Dropped)
	}
}

func TestDedupe_NarrowsNeverBroadens(t *testing.T) {
	// WHAT: len(unique) <= len(input) and removed == len(input) - len(unique).
	in := []*normalize.Resource{
		res("A", "x", "1"), res("B", "x", "2"), res("A", "x", "3"),
		res("A", "y", "4"), res("B", "x", "5"), res("C", "z", "6"),
	}
	got := Dedupe(in)
	if len(got.Unique) > len(in) {
		t.Fatal("dedup broadened the set")
	}
	if got.Removed() != len(in)-len(got.Unique) {
		t.Fatalf("removed=%d, in=%d, unique=%d", got.Removed(), len(in), len(got.Unique))
	}
	if len(got.Unique) != 4 {
		t.Fatalf("unique: %d", len(got.Unique))
	}
	order := []string{"1", "2", "4", "6"}
	for i, r := range got.Unique {
		if r.Description != order[i] {
			t.Errorf("position %d: got %s, want %s", i, r.Description, order[i])
		}
	}
}

func TestDedupe_LocationDistinguishes(t *testing.T) {
	a := res("VA", "Clinic", "a")
	b := res("VA", "Clinic", "b")
	b.ZipCode = "90002"
	c := res("VA", "Clinic", "c")
	c.ZipCode = ""
	got := Dedupe([]*normalize.Resource{a, b, c})
	if len(got.Unique) != 3 {
		t.Fatalf("different locations are different entities, got %d", len(got.Unique))
	}
}

func TestDedupe_Empty(t *testing.T) {
	got := Dedupe(nil)
	if len(got.Unique) != 0 || got.Removed() != 0 {
		t.Fatalf("empty input: %+v", got)
	}
}
