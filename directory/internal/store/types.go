package store

// Source health states.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthFailing  = "failing"
)

// Resource statuses.
const (
	StatusActive      = "active"
	StatusNeedsReview = "needs_review"
	StatusInactive    = "inactive"
)

// Review queue statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Source is one connector / origin.
type Source struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Tier          int    `json:"tier"`
	Frequency     string `json:"frequency"`
	RequiresAuth  bool   `json:"requires_auth"`
	HealthStatus  string `json:"health_status"`
	ErrorCount    int    `json:"error_count"`
	LastError     string `json:"last_error"`
	LastRunAt     *int64 `json:"last_run_at,omitempty"`
	LastSuccessAt *int64 `json:"last_success_at,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Organization owns locations and resources. NameKey is the identity.
type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NameKey   string `json:"name_key"`
	Website   string `json:"website"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Location is a physical address owned by one organization.
type Location struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Address        string `json:"address"`
	City           string `json:"city"`
	State          string `json:"state"`
	ZipCode        string `json:"zip_code"`
	LocationKey    string `json:"location_key"`
	CreatedAt      int64  `json:"created_at"`
}

// Resource is the persisted aggregate root. LocationID and SourceID are
// empty when unset.
type Resource struct {
	ID             string `json:"id"`
	DedupKey       string `json:"dedup_key"`
	OrganizationID string `json:"organization_id"`
	LocationID     string `json:"location_id,omitempty"`
	SourceID       string `json:"source_id,omitempty"`

	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceURL   string   `json:"source_url"`
	Categories  []string `json:"categories"`
	Tags        []string `json:"tags"`
	Scope       string   `json:"scope"`
	States      []string `json:"states"`

	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Hours       string `json:"hours"`
	Website     string `json:"website"`
	Eligibility string `json:"eligibility"`
	HowToApply  string `json:"how_to_apply"`
	Cost        string `json:"cost"`

	ContentHash      string  `json:"content_hash"`
	Status           string  `json:"status"`
	ReliabilityScore float64 `json:"reliability_score"`
	FreshnessScore   float64 `json:"freshness_score"`
	LinkHealthScore  float64 `json:"link_health_score"`
	TrustScore       float64 `json:"trust_score"` // computed on read, not stored

	LastVerified    *int64 `json:"last_verified,omitempty"`
	LastSeenAt      *int64 `json:"last_seen_at,omitempty"`
	LastLinkCheckAt *int64 `json:"last_link_check_at,omitempty"`

	Embedding []byte `json:"-"`
	RawData   string `json:"-"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// ChangeLogEntry records one field change on a resource.
type ChangeLogEntry struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	Field      string `json:"field"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
	Source     string `json:"source"`
	CreatedAt  int64  `json:"created_at"`
}

// ReviewItem is a proposed risky-field change. NewValue is human-readable;
// NewRef carries the stored value when it differs (the location ID for an
// address change).
type ReviewItem struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	Field      string `json:"field"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
	NewRef     string `json:"new_ref,omitempty"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
	ResolvedAt *int64 `json:"resolved_at,omitempty"`
}

// LinkCheck is one link-health check result. Score is nil when the check
// could not decide (transient error) and the stored score must not change.
type LinkCheck struct {
	ID         string   `json:"id"`
	ResourceID string   `json:"resource_id"`
	URL        string   `json:"url"`
	StatusCode int      `json:"status_code"`
	FinalURL   string   `json:"final_url"`
	IsSoft404  bool     `json:"is_soft_404"`
	Reason     string   `json:"reason"`
	Score      *float64 `json:"score,omitempty"`
	Error      string   `json:"error"`
	Dead       bool     `json:"dead"` // moves the resource to needs_review
	CheckedAt  int64    `json:"checked_at"`
}

// LinkTarget is a resource URL due for a link check.
type LinkTarget struct {
	ResourceID string
	URL        string
}

// ScoreInput carries what the freshness job needs to rescore one resource.
type ScoreInput struct {
	ResourceID   string
	CreatedAt    int64
	LastVerified *int64
	SourceTier   int    // 0 when the resource has no source
	SourceHealth string // "" when the resource has no source
}

// ScoreUpdate is a recomputed score pair.
type ScoreUpdate struct {
	ResourceID  string
	Reliability float64
	Freshness   float64
}

// ResourceFilter narrows ListResources.
type ResourceFilter struct {
	Status   string // default active
	Category string
	State    string
	Limit    int // default 50
	Offset   int
}

// Stats are aggregate directory counters.
type Stats struct {
	Sources        int `json:"sources"`
	Organizations  int `json:"organizations"`
	Resources      int `json:"resources"`
	Active         int `json:"active"`
	NeedsReview    int `json:"needs_review"`
	Inactive       int `json:"inactive"`
	PendingReviews int `json:"pending_reviews"`
}
