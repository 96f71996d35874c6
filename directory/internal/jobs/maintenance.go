package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/linkcheck"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/trust"
)

// Registry names of the maintenance jobs.
const (
	FreshnessName = "freshness"
	LinkCheckName = "link_checker"
	CleanupName   = "cleanup"
)

// Freshness recomputes reliability and freshness for every live resource.
// It is the only path by which freshness decays.
type Freshness struct {
	Store *store.Store
	Now   func() time.Time
}

func (j *Freshness) Name() string { return FreshnessName }

func (j *Freshness) Description() string {
	return "Recompute reliability and freshness scores from source health and verification age"
}

// FreshnessStats is the freshness job's result data.
type FreshnessStats struct {
	Rescored     int     `json:"rescored"`
	Stale        int     `json:"stale"` // at the freshness floor
	AvgFreshness float64 `json:"avg_freshness"`
}

func (j *Freshness) Execute(ctx context.Context, _ Params) (Outcome, error) {
	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}
	inputs, err := j.Store.ScoreInputs(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load score inputs: %w", err)
	}

	var stats FreshnessStats
	updates := make([]store.ScoreUpdate, 0, len(inputs))
	var total float64
	for _, in := range inputs {
		var verified *time.Time
		if in.LastVerified != nil {
			v := time.UnixMilli(*in.LastVerified)
			verified = &v
		}
		f := trust.Freshness(time.UnixMilli(in.CreatedAt), verified, now)
		updates = append(updates, store.ScoreUpdate{
			ResourceID:  in.ResourceID,
			Reliability: trust.Reliability(in.SourceTier, in.SourceHealth),
			Freshness:   f,
		})
		total += f
		if f <= trust.FreshnessFloor {
			stats.Stale++
		}
	}
	if err := j.Store.UpdateScores(ctx, updates); err != nil {
		return Outcome{}, fmt.Errorf("update scores: %w", err)
	}

	stats.Rescored = len(updates)
	if len(updates) > 0 {
		stats.AvgFreshness = total / float64(len(updates))
	}
	return Outcome{
		Message: fmt.Sprintf("rescored %d resources, %d at the freshness floor", stats.Rescored, stats.Stale),
		Data:    stats,
	}, nil
}

// LinkCheck checks resource URLs and records link health.
type LinkCheck struct {
	Checker *linkcheck.Checker
	Store   *store.Store
}

func (j *LinkCheck) Name() string { return LinkCheckName }

func (j *LinkCheck) Description() string {
	return "Check resource URLs for dead links and soft 404 pages"
}

func (j *LinkCheck) Execute(ctx context.Context, _ Params) (Outcome, error) {
	report, err := j.Checker.Run(ctx, j.Store)
	if report == nil {
		return Outcome{}, err
	}
	out := Outcome{
		Message: fmt.Sprintf("checked %d links: %d healthy, %d soft 404, %d dead, %d undecided",
			report.Targets, report.Healthy, report.Soft404, report.Dead, report.Errors),
		Data: report,
	}
	return out, err
}

// Retention configures the cleanup job, in days.
type Retention struct {
	ChangeLogDays  int `json:"change_log_days" yaml:"change_log_days"`   // Default: 365.
	LinkCheckDays  int `json:"link_check_days" yaml:"link_check_days"`   // Default: 90.
	ReviewDays     int `json:"review_days" yaml:"review_days"`           // Default: 180.
	StaleAfterDays int `json:"stale_after_days" yaml:"stale_after_days"` // Default: 90.
	AuditDays      int `json:"audit_days" yaml:"audit_days"`             // Default: 365.
}

// Defaults fills unset retention periods.
func (r *Retention) Defaults() {
	if r.ChangeLogDays <= 0 {
		r.ChangeLogDays = 365
	}
	if r.LinkCheckDays <= 0 {
		r.LinkCheckDays = 90
	}
	if r.ReviewDays <= 0 {
		r.ReviewDays = 180
	}
	if r.StaleAfterDays <= 0 {
		r.StaleAfterDays = 90
	}
	if r.AuditDays <= 0 {
		r.AuditDays = 365
	}
}

// Purger deletes rows older than a unix-millis cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff int64) (int64, error)
}

// Cleanup purges old history and soft-deletes resources no connector has
// reported for StaleAfterDays.
type Cleanup struct {
	Store     *store.Store
	Audit     Purger // optional
	Retention Retention
	Now       func() time.Time
}

func (j *Cleanup) Name() string { return CleanupName }

func (j *Cleanup) Description() string {
	return "Purge old change log, link check, review and audit rows; deactivate stale resources"
}

// CleanupStats is the cleanup job's result data.
type CleanupStats struct {
	ChangeLog   int64 `json:"change_log"`
	LinkChecks  int64 `json:"link_checks"`
	Reviews     int64 `json:"reviews"`
	Audit       int64 `json:"audit"`
	Deactivated int64 `json:"deactivated"`
}

func (j *Cleanup) Execute(ctx context.Context, _ Params) (Outcome, error) {
	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}
	ret := j.Retention
	ret.Defaults()
	cutoff := func(days int) int64 { return now.AddDate(0, 0, -days).UnixMilli() }

	var (
		stats CleanupStats
		err   error
	)
	if stats.ChangeLog, err = j.Store.PurgeChangeLog(ctx, cutoff(ret.ChangeLogDays)); err != nil {
		return Outcome{}, fmt.Errorf("purge change log: %w", err)
	}
	if stats.LinkChecks, err = j.Store.PurgeLinkChecks(ctx, cutoff(ret.LinkCheckDays)); err != nil {
		return Outcome{}, fmt.Errorf("purge link checks: %w", err)
	}
	if stats.Reviews, err = j.Store.PurgeResolvedReviews(ctx, cutoff(ret.ReviewDays)); err != nil {
		return Outcome{}, fmt.Errorf("purge reviews: %w", err)
	}
	if j.Audit != nil {
		if stats.Audit, err = j.Audit.Purge(ctx, cutoff(ret.AuditDays)); err != nil {
			return Outcome{}, fmt.Errorf("purge audit log: %w", err)
		}
	}
	if stats.Deactivated, err = j.Store.DeactivateStale(ctx, cutoff(ret.StaleAfterDays)); err != nil {
		return Outcome{}, fmt.Errorf("deactivate stale: %w", err)
	}
	return Outcome{
		Message: fmt.Sprintf("purged %d change log, %d link check, %d review, %d audit rows; deactivated %d resources",
			stats.ChangeLog, stats.LinkChecks, stats.Reviews, stats.Audit, stats.Deactivated),
		Data: stats,
	}, nil
}
