package directory

import (
	"github.com/GGPrompts/vibe4vets-sub003/audit"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/etl"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/jobs"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/scheduler"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
)

type (
	Resource       = store.Resource
	Source         = store.Source
	ChangeLogEntry = store.ChangeLogEntry
	ReviewItem     = store.ReviewItem
	LinkCheck      = store.LinkCheck
	ResourceFilter = store.ResourceFilter
	Stats          = store.Stats

	JobResult    = jobs.Result
	JobParams    = jobs.Params
	ScheduledJob = scheduler.ScheduledJob
	ETLResult    = etl.Result

	AuditEntry  = audit.Entry
	AuditFilter = audit.Filter
)

// Job names.
const (
	JobRefresh     = jobs.RefreshName
	JobFreshness   = jobs.FreshnessName
	JobLinkChecker = jobs.LinkCheckName
	JobCleanup     = jobs.CleanupName
)

// Resource statuses.
const (
	StatusActive      = store.StatusActive
	StatusNeedsReview = store.StatusNeedsReview
	StatusInactive    = store.StatusInactive
)

// Status is the admin overview.
type Status struct {
	SchedulerRunning bool           `json:"scheduler_running"`
	Stats            *Stats         `json:"stats"`
	Jobs             []ScheduledJob `json:"jobs"`
	Connectors       []string       `json:"connectors"`
	EmbedderLoaded   bool           `json:"embedder_loaded"`
}
