// Package idgen generates row and run identifiers for the directory.
//
// Constructors that create rows accept a Generator so tests can substitute
// deterministic IDs.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// IDs sort by creation time, which keeps change_log and link_checks
// naturally ordered.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen. Job runs use "run_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator producing prefix-1, prefix-2, ...
// Intended for tests that assert on IDs.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is the generator used when none is injected.
var Default Generator = UUIDv7()
