// Package connector defines the contract every data source implements.
//
// A connector is a black-box producer of Candidates: it fetches from one
// origin (government API, scraped site, file drop) and emits records in the
// shape below. Everything after Run (normalization, dedup, scoring, loading)
// belongs to the ETL pipeline.
package connector

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scope is the geographic reach of a resource.
type Scope string

const (
	ScopeNational Scope = "national"
	ScopeState    Scope = "state"
	ScopeLocal    Scope = "local"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeNational, ScopeState, ScopeLocal:
		return true
	}
	return false
}

// Source tiers, most to least trusted.
const (
	TierOfficial    = 1 // official government
	TierNonprofit   = 2 // established nonprofit
	TierStateCounty = 3 // state / county
	TierCommunity   = 4 // community
)

// Candidate is one raw record emitted by a connector. Connectors hand
// Candidates over by value and never mutate them afterwards.
//
// Address, City, State and ZipCode are all-or-nothing: a Location is only
// created when all four are present.
type Candidate struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	SourceURL   string `json:"source_url" yaml:"source_url"`

	OrgName    string `json:"org_name" yaml:"org_name"`
	OrgWebsite string `json:"org_website,omitempty" yaml:"org_website,omitempty"`

	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	City    string `json:"city,omitempty" yaml:"city,omitempty"`
	State   string `json:"state,omitempty" yaml:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty" yaml:"zip_code,omitempty"`

	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Hours string `json:"hours,omitempty" yaml:"hours,omitempty"`

	Eligibility string `json:"eligibility,omitempty" yaml:"eligibility,omitempty"`
	HowToApply  string `json:"how_to_apply,omitempty" yaml:"how_to_apply,omitempty"`

	Scope  Scope    `json:"scope,omitempty" yaml:"scope,omitempty"`
	States []string `json:"states,omitempty" yaml:"states,omitempty"`

	// RawData is the untouched upstream payload, kept for audit.
	RawData   map[string]any `json:"raw_data,omitempty" yaml:"raw_data,omitempty"`
	FetchedAt time.Time      `json:"fetched_at" yaml:"fetched_at"`
}

// Metadata describes a connector to the registry and the sources table.
type Metadata struct {
	Name         string `json:"name" yaml:"name"`
	URL          string `json:"url" yaml:"url"`
	Tier         int    `json:"tier" yaml:"tier"`
	Frequency    string `json:"frequency" yaml:"frequency"` // e.g. "daily", "weekly"
	RequiresAuth bool   `json:"requires_auth" yaml:"requires_auth"`
}

// Validate checks the fields the pipeline depends on.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("connector: metadata name is required")
	}
	if m.Tier < TierOfficial || m.Tier > TierCommunity {
		return fmt.Errorf("connector %q: tier %d out of range 1-4", m.Name, m.Tier)
	}
	return nil
}

// Connector is implemented by every data source.
type Connector interface {
	// Metadata describes the source. It must not perform I/O.
	Metadata() Metadata

	// Run fetches and returns candidates. Implementations must bound every
	// outbound call with a finite timeout; they never retry inline.
	Run(ctx context.Context) ([]Candidate, error)

	// Close releases held resources (HTTP clients, file handles).
	Close() error
}
