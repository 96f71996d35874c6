package normalize

import (
	"strings"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/connector"
)

// NoLocation stands in for the location part of a dedup key when the
// resource has no complete address.
const NoLocation = "no-location"

// Resource is a candidate after cleaning and validation.
// ReliabilityScore is zero until the scorer runs.
type Resource struct {
	Title       string
	Description string
	SourceURL   string

	OrgName    string
	OrgWebsite string

	Address string
	City    string
	State   string
	ZipCode string

	Categories []string
	Tags       []string

	Phone string
	Email string
	Hours string

	Eligibility string
	HowToApply  string
	Cost        string

	Scope  connector.Scope
	States []string

	RawData   map[string]any
	FetchedAt time.Time

	ContentHash      string
	ReliabilityScore float64
	SourceTier       int
	SourceName       string

	// Embedding is set by the optional enrichment stage.
	Embedding []float32
}

// HasLocation reports whether address, city, state and zip are all present.
// A partial address never creates a location.
func (r *Resource) HasLocation() bool {
	return r.Address != "" && r.City != "" && r.State != "" && r.ZipCode != ""
}

// LocationKey is address|city|state|zip lowercased, or "" without a location.
func (r *Resource) LocationKey() string {
	if !r.HasLocation() {
		return ""
	}
	return strings.ToLower(strings.Join([]string{r.Address, r.City, r.State, r.ZipCode}, "|"))
}

// OrgKey is the organization identity: lowercase, trimmed name.
func (r *Resource) OrgKey() string {
	return strings.ToLower(strings.TrimSpace(r.OrgName))
}

// DedupKey identifies one logical entity across runs:
// org key | location key (or "no-location") | lowercase title.
func (r *Resource) DedupKey() string {
	loc := r.LocationKey()
	if loc == "" {
		loc = NoLocation
	}
	return r.OrgKey() + "|" + loc + "|" + strings.ToLower(r.Title)
}

// FormattedAddress renders the location for humans, or "" without one.
func (r *Resource) FormattedAddress() string {
	if !r.HasLocation() {
		return ""
	}
	return r.Address + ", " + r.City + ", " + r.State + " " + r.ZipCode
}
