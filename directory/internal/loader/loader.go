// Package loader persists normalized resources.
//
// Each resource is loaded in its own transaction: organization and location
// find-or-create, then insert or field-diff update of the resource. Risky
// field changes are queued for review instead of applied. Every failure
// path rolls back before returning, so one bad record never leaks into the
// next one's transaction.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/normalize"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/trust"
	"github.com/GGPrompts/vibe4vets-sub003/embed"
)

// Action is what a load did.
type Action string

const (
	Created Action = "created"
	Updated Action = "updated"
	Skipped Action = "skipped"
	Failed  Action = "failed"
)

// Result is the outcome of one Load. Error is empty on success; an
// integrity violation is reported as Skipped with Error set.
type Result struct {
	ResourceID     string   `json:"resource_id,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
	LocationID     string   `json:"location_id,omitempty"`
	Action         Action   `json:"action"`
	Error          string   `json:"error,omitempty"`
	Retriable      bool     `json:"retriable"`
	Changed        []string `json:"changed,omitempty"`
	Reviews        int      `json:"reviews,omitempty"`

	Err error `json:"-"`
}

// Tx is the transactional surface the loader writes through.
// *store.Tx implements it.
type Tx interface {
	Commit() error
	Rollback() error
	Now() int64
	OrganizationByKey(ctx context.Context, key string) (*store.Organization, error)
	InsertOrganization(ctx context.Context, o *store.Organization) error
	LocationByKey(ctx context.Context, orgID, key string) (*store.Location, error)
	GetLocation(ctx context.Context, id string) (*store.Location, error)
	InsertLocation(ctx context.Context, l *store.Location) error
	ResourceByDedupKey(ctx context.Context, key string) (*store.Resource, error)
	InsertResource(ctx context.Context, r *store.Resource) error
	UpdateResource(ctx context.Context, id string, fields map[string]any) error
	TouchResource(ctx context.Context, id string, seenAt int64) error
	InsertChangeLog(ctx context.Context, e *store.ChangeLogEntry) error
	HasPendingReview(ctx context.Context, resourceID, field, newValue string) (bool, error)
	InsertReview(ctx context.Context, r *store.ReviewItem) error
}

// BeginFunc opens a load transaction.
type BeginFunc func(ctx context.Context) (Tx, error)

// Config configures a Loader.
type Config struct {
	// DryRun rolls back every transaction instead of committing it.
	DryRun bool
	Logger *slog.Logger
}

// Loader writes resources. Safe for sequential use by one pipeline run.
type Loader struct {
	begin  BeginFunc
	dryRun bool
	logger *slog.Logger
}

// New creates a Loader writing through s.
func New(s *store.Store, cfg Config) *Loader {
	return NewWithBegin(func(ctx context.Context) (Tx, error) {
		tx, err := s.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}, cfg)
}

// NewWithBegin creates a Loader over a custom transaction source.
func NewWithBegin(begin BeginFunc, cfg Config) *Loader {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{begin: begin, dryRun: cfg.DryRun, logger: cfg.Logger}
}

// DryRun reports whether the loader rolls back instead of committing.
func (l *Loader) DryRun() bool { return l.dryRun }

// Load persists r attributed to sourceID (may be empty). It never returns an
// error: failures are classified into the Result.
func (l *Loader) Load(ctx context.Context, r *normalize.Resource, sourceID string) (res Result) {
	tx, err := l.begin(ctx)
	if err != nil {
		return failure(Result{}, &StorageError{Op: "begin", Err: err})
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			res = failure(res, fmt.Errorf("panic: %v", p))
			l.logger.Error("loader: panic", "title", r.Title, "panic", p)
		}
	}()

	res, err = l.load(ctx, tx, r, sourceID)
	if err != nil {
		tx.Rollback()
		res = failure(res, err)
		l.logger.Warn("loader: load failed",
			"title", r.Title, "action", res.Action, "retriable", res.Retriable, "error", err)
		return res
	}
	if l.dryRun {
		tx.Rollback()
		return res
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return failure(res, &StorageError{Op: "commit", Err: err})
	}
	return res
}

func (l *Loader) load(ctx context.Context, tx Tx, r *normalize.Resource, sourceID string) (Result, error) {
	var res Result

	org, err := findOrCreateOrg(ctx, tx, r)
	if err != nil {
		return res, err
	}
	res.OrganizationID = org.ID

	if r.HasLocation() {
		loc, err := findOrCreateLocation(ctx, tx, org.ID, r)
		if err != nil {
			return res, err
		}
		res.LocationID = loc.ID
	}

	rawData, err := encodeRaw(r.RawData)
	if err != nil {
		return res, err
	}

	existing, err := tx.ResourceByDedupKey(ctx, r.DedupKey())
	if err != nil {
		return res, &StorageError{Op: "find resource", Err: err}
	}
	now := tx.Now()

	if existing == nil {
		row := &store.Resource{
			DedupKey:         r.DedupKey(),
			OrganizationID:   org.ID,
			LocationID:       res.LocationID,
			SourceID:         sourceID,
			Title:            r.Title,
			Description:      r.Description,
			SourceURL:        r.SourceURL,
			Categories:       r.Categories,
			Tags:             r.Tags,
			Scope:            string(r.Scope),
			States:           r.States,
			Phone:            r.Phone,
			Email:            r.Email,
			Hours:            r.Hours,
			Website:          r.OrgWebsite,
			Eligibility:      r.Eligibility,
			HowToApply:       r.HowToApply,
			Cost:             r.Cost,
			ContentHash:      r.ContentHash,
			Status:           store.StatusActive,
			ReliabilityScore: r.ReliabilityScore,
			FreshnessScore:   trust.FreshnessMax,
			LinkHealthScore:  1.0,
			LastSeenAt:       &now,
			RawData:          rawData,
		}
		if len(r.Embedding) > 0 {
			row.Embedding = embed.Encode(r.Embedding)
		}
		if err := tx.InsertResource(ctx, row); err != nil {
			return res, &StorageError{Op: "insert resource", Err: err}
		}
		res.ResourceID = row.ID
		res.Action = Created
		return res, nil
	}

	res.ResourceID = existing.ID
	d, err := diff(ctx, tx, existing, r, res.LocationID)
	if err != nil {
		return res, err
	}

	// A risky change already waiting for review is not a new change.
	risky := d.risky[:0]
	for _, c := range d.risky {
		queued, err := tx.HasPendingReview(ctx, existing.ID, c.field, c.newText)
		if err != nil {
			return res, &StorageError{Op: "check review", Err: err}
		}
		if !queued {
			risky = append(risky, c)
		}
	}
	d.risky = risky

	if existing.ContentHash == r.ContentHash && len(d.risky) == 0 && existing.Status != store.StatusInactive {
		if err := tx.TouchResource(ctx, existing.ID, now); err != nil {
			return res, &StorageError{Op: "touch resource", Err: err}
		}
		res.Action = Skipped
		return res, nil
	}

	fields := map[string]any{
		"content_hash":      r.ContentHash,
		"reliability_score": r.ReliabilityScore,
		"last_seen_at":      now,
		"raw_data":          rawData,
	}
	if sourceID != "" {
		fields["source_id"] = sourceID
	}
	if len(r.Embedding) > 0 {
		fields["embedding"] = embed.Encode(r.Embedding)
	}
	origin := r.SourceName
	if origin == "" {
		origin = "etl"
	}

	for _, c := range d.plain {
		fields[c.column] = c.value
		if err := logChange(ctx, tx, existing.ID, c, origin, now); err != nil {
			return res, err
		}
		res.Changed = append(res.Changed, c.field)
	}

	for _, c := range d.risky {
		if err := logChange(ctx, tx, existing.ID, c, "proposed:"+origin, now); err != nil {
			return res, err
		}
		res.Changed = append(res.Changed, c.field)
		err := tx.InsertReview(ctx, &store.ReviewItem{
			ResourceID: existing.ID,
			Field:      c.field,
			OldValue:   c.oldText,
			NewValue:   c.newText,
			NewRef:     c.ref,
			Reason:     fmt.Sprintf("%s changed by source %s", c.field, origin),
		})
		if err != nil {
			return res, &StorageError{Op: "insert review", Err: err}
		}
		res.Reviews++
	}

	switch {
	case len(d.risky) > 0:
		if existing.Status != store.StatusNeedsReview {
			fields["status"] = store.StatusNeedsReview
		}
	case existing.Status == store.StatusInactive:
		fields["status"] = store.StatusActive
	}

	if err := tx.UpdateResource(ctx, existing.ID, fields); err != nil {
		return res, &StorageError{Op: "update resource", Err: err}
	}
	res.Action = Updated
	return res, nil
}

func findOrCreateOrg(ctx context.Context, tx Tx, r *normalize.Resource) (*store.Organization, error) {
	key := r.OrgKey()
	org, err := tx.OrganizationByKey(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "find organization", Err: err}
	}
	if org != nil {
		return org, nil
	}
	org = &store.Organization{Name: r.OrgName, NameKey: key, Website: r.OrgWebsite}
	if err := tx.InsertOrganization(ctx, org); err != nil {
		return nil, &StorageError{Op: "insert organization", Err: err}
	}
	return org, nil
}

func findOrCreateLocation(ctx context.Context, tx Tx, orgID string, r *normalize.Resource) (*store.Location, error) {
	key := r.LocationKey()
	loc, err := tx.LocationByKey(ctx, orgID, key)
	if err != nil {
		return nil, &StorageError{Op: "find location", Err: err}
	}
	if loc != nil {
		return loc, nil
	}
	loc = &store.Location{
		OrganizationID: orgID,
		Address:        r.Address,
		City:           r.City,
		State:          r.State,
		ZipCode:        r.ZipCode,
		LocationKey:    key,
	}
	if err := tx.InsertLocation(ctx, loc); err != nil {
		return nil, &StorageError{Op: "insert location", Err: err}
	}
	return loc, nil
}

func logChange(ctx context.Context, tx Tx, resourceID string, c change, origin string, now int64) error {
	err := tx.InsertChangeLog(ctx, &store.ChangeLogEntry{
		ResourceID: resourceID,
		Field:      c.field,
		OldValue:   c.oldText,
		NewValue:   c.newText,
		Source:     origin,
		CreatedAt:  now,
	})
	if err != nil {
		return &StorageError{Op: "insert change log", Err: err}
	}
	return nil
}

func encodeRaw(raw map[string]any) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("encode raw_data: %w", err)
	}
	return string(b), nil
}

func joinSet(v []string) string { return strings.Join(v, ", ") }
