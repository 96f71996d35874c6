package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// Tx is one resource's load transaction. All writes for a resource commit
// or roll back together; independent resources never share a Tx.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

// Begin opens a load transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, s: s}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Now returns the store clock in unix milliseconds.
func (t *Tx) Now() int64 { return t.s.nowMs() }

// OrganizationByKey finds an organization by its lowercase-trimmed name.
func (t *Tx) OrganizationByKey(ctx context.Context, key string) (*Organization, error) {
	return scanOrganization(t.tx.QueryRowContext(ctx,
		`SELECT id, name, name_key, website, created_at, updated_at FROM organizations WHERE name_key = ?`, key))
}

// InsertOrganization inserts o, assigning ID and timestamps when unset.
func (t *Tx) InsertOrganization(ctx context.Context, o *Organization) error {
	if o.ID == "" {
		o.ID = t.s.NewID()
	}
	now := t.s.nowMs()
	o.CreatedAt, o.UpdatedAt = now, now
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO organizations (id, name, name_key, website, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.NameKey, o.Website, o.CreatedAt, o.UpdatedAt)
	return err
}

// LocationByKey finds an organization's location by address key.
func (t *Tx) LocationByKey(ctx context.Context, orgID, key string) (*Location, error) {
	return scanLocation(t.tx.QueryRowContext(ctx,
		`SELECT id, organization_id, address, city, state, zip_code, location_key, created_at
		FROM locations WHERE organization_id = ? AND location_key = ?`, orgID, key))
}

// GetLocation reads a location inside the transaction.
func (t *Tx) GetLocation(ctx context.Context, id string) (*Location, error) {
	return scanLocation(t.tx.QueryRowContext(ctx,
		`SELECT id, organization_id, address, city, state, zip_code, location_key, created_at
		FROM locations WHERE id = ?`, id))
}

// InsertLocation inserts l, assigning ID and timestamp when unset.
func (t *Tx) InsertLocation(ctx context.Context, l *Location) error {
	if l.ID == "" {
		l.ID = t.s.NewID()
	}
	l.CreatedAt = t.s.nowMs()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO locations (id, organization_id, address, city, state, zip_code, location_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrganizationID, l.Address, l.City, l.State, l.ZipCode, l.LocationKey, l.CreatedAt)
	return err
}

// ResourceByDedupKey finds a resource by its entity key.
func (t *Tx) ResourceByDedupKey(ctx context.Context, key string) (*Resource, error) {
	return scanResource(t.tx.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE dedup_key = ?`, key))
}

// InsertResource inserts r, assigning ID and timestamps when unset.
func (t *Tx) InsertResource(ctx context.Context, r *Resource) error {
	if r.ID == "" {
		r.ID = t.s.NewID()
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.RawData == "" {
		r.RawData = "{}"
	}
	now := t.s.nowMs()
	r.CreatedAt, r.UpdatedAt = now, now

	query, args, err := psql.Insert("resources").Columns(resourceColumnList...).Values(
		r.ID, r.DedupKey, r.OrganizationID, nullString(r.LocationID), nullString(r.SourceID),
		r.Title, r.Description, r.SourceURL, encodeList(r.Categories), encodeList(r.Tags), r.Scope, encodeList(r.States),
		r.Phone, r.Email, r.Hours, r.Website, r.Eligibility, r.HowToApply, r.Cost,
		r.ContentHash, r.Status, r.ReliabilityScore, r.FreshnessScore, r.LinkHealthScore,
		r.LastVerified, r.LastSeenAt, r.LastLinkCheckAt, r.Embedding, r.RawData,
		r.CreatedAt, r.UpdatedAt,
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, query, args...)
	return err
}

// UpdateResource applies a column → value diff to one resource and bumps
// updated_at. []string values are stored as JSON lists; empty location_id
// and source_id become NULL.
func (t *Tx) UpdateResource(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("update resource: column %q not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	q := psql.Update("resources")
	for _, col := range cols {
		v := fields[col]
		switch val := v.(type) {
		case []string:
			v = encodeList(val)
		case string:
			if col == "location_id" || col == "source_id" {
				v = nullString(val)
			}
		}
		q = q.Set(col, v)
	}
	query, args, err := q.Set("updated_at", t.s.nowMs()).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, query, args...)
	return err
}

// TouchResource records a sighting without changing content or updated_at.
func (t *Tx) TouchResource(ctx context.Context, id string, seenAt int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE resources SET last_seen_at = ? WHERE id = ?`, seenAt, id)
	return err
}

// InsertChangeLog appends one field change.
func (t *Tx) InsertChangeLog(ctx context.Context, e *ChangeLogEntry) error {
	if e.ID == "" {
		e.ID = t.s.NewID()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = t.s.nowMs()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO change_log (id, resource_id, field, old_value, new_value, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ResourceID, e.Field, e.OldValue, e.NewValue, e.Source, e.CreatedAt)
	return err
}

// HasPendingReview reports whether the same proposed change is already queued.
func (t *Tx) HasPendingReview(ctx context.Context, resourceID, field, newValue string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue
		WHERE resource_id = ? AND field = ? AND new_value = ? AND status = 'pending'`,
		resourceID, field, newValue).Scan(&n)
	return n > 0, err
}

// InsertReview queues a risky-field change.
func (t *Tx) InsertReview(ctx context.Context, r *ReviewItem) error {
	if r.ID == "" {
		r.ID = t.s.NewID()
	}
	if r.Status == "" {
		r.Status = ReviewPending
	}
	r.CreatedAt = t.s.nowMs()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO review_queue (id, resource_id, field, old_value, new_value, new_ref, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ResourceID, r.Field, r.OldValue, r.NewValue, r.NewRef, r.Reason, r.Status, r.CreatedAt)
	return err
}
