// Package dedup collapses normalized resources into unique entities.
//
// Matching is exact on Resource.DedupKey. The first resource presenting a
// key survives; later ones are dropped and counted. There is no fuzzy or
// similarity-based merging.
package dedup

import "github.com/GGPrompts/vibe4vets-sub003/directory/internal/normalize"

// Dropped records a resource removed as a duplicate.
type Dropped struct {
	Key      string
	Resource *normalize.Resource
	KeptIdx  int // index in the survivor slice
}

// Result is the outcome of Dedupe.
type Result struct {
	Unique  []*normalize.Resource
	Dropped []Dropped
}

// Removed is the number of duplicates dropped.
func (r Result) Removed() int { return len(r.Dropped) }

// Dedupe keeps the first resource for each key, preserving input order.
func Dedupe(in []*normalize.Resource) Result {
	seen := make(map[string]int, len(in))
	out := Result{Unique: make([]*normalize.Resource, 0, len(in))}
	for _, r := range in {
		key := r.DedupKey()
		if idx, dup := seen[key]; dup {
			out.Dropped = append(out.Dropped, Dropped{Key: key, Resource: r, KeptIdx: idx})
			continue
		}
		seen[key] = len(out.Unique)
		out.Unique = append(out.Unique, r)
	}
	return out
}
