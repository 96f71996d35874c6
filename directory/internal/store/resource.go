package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/trust"
)

var resourceColumnList = []string{
	"id", "dedup_key", "organization_id", "location_id", "source_id",
	"title", "description", "source_url", "categories", "tags", "scope", "states",
	"phone", "email", "hours", "website", "eligibility", "how_to_apply", "cost",
	"content_hash", "status", "reliability_score", "freshness_score", "link_health_score",
	"last_verified", "last_seen_at", "last_link_check_at", "embedding", "raw_data",
	"created_at", "updated_at",
}

var resourceColumns = strings.Join(resourceColumnList, ", ")

// updatableColumns are the resource columns the loader may diff-update.
var updatableColumns = map[string]bool{
	"location_id": true, "source_id": true,
	"title": true, "description": true, "source_url": true,
	"categories": true, "tags": true, "scope": true, "states": true,
	"phone": true, "email": true, "hours": true, "website": true,
	"eligibility": true, "how_to_apply": true, "cost": true,
	"content_hash": true, "status": true,
	"reliability_score": true, "freshness_score": true,
	"embedding": true, "raw_data": true, "last_seen_at": true,
}

func scanResource(row rowScanner) (*Resource, error) {
	var r Resource
	var locationID, sourceID sql.NullString
	var categories, tags, states string
	err := row.Scan(
		&r.ID, &r.DedupKey, &r.OrganizationID, &locationID, &sourceID,
		&r.Title, &r.Description, &r.SourceURL, &categories, &tags, &r.Scope, &states,
		&r.Phone, &r.Email, &r.Hours, &r.Website, &r.Eligibility, &r.HowToApply, &r.Cost,
		&r.ContentHash, &r.Status, &r.ReliabilityScore, &r.FreshnessScore, &r.LinkHealthScore,
		&r.LastVerified, &r.LastSeenAt, &r.LastLinkCheckAt, &r.Embedding, &r.RawData,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	r.LocationID = locationID.String
	r.SourceID = sourceID.String
	r.Categories = decodeList(categories)
	r.Tags = decodeList(tags)
	r.States = decodeList(states)
	r.TrustScore = trust.Score(r.ReliabilityScore, r.FreshnessScore)
	return &r, nil
}

// GetResource retrieves a resource by ID.
func (s *Store) GetResource(ctx context.Context, id string) (*Resource, error) {
	return scanResource(s.DB.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id))
}

// ListResources returns resources ordered by trust score (reliability ×
// freshness), highest first.
func (s *Store) ListResources(ctx context.Context, f ResourceFilter) ([]*Resource, error) {
	if f.Status == "" {
		f.Status = StatusActive
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	q := psql.Select(resourceColumnList...).From("resources").
		Where(sq.Eq{"status": f.Status})
	if f.Category != "" {
		q = q.Where(sq.Expr(`EXISTS (SELECT 1 FROM json_each(resources.categories) WHERE value = ?)`,
			strings.ToLower(f.Category)))
	}
	if f.State != "" {
		q = q.Where(sq.Or{
			sq.Eq{"scope": "national"},
			sq.Expr(`EXISTS (SELECT 1 FROM json_each(resources.states) WHERE value = ?)`,
				strings.ToUpper(f.State)),
		})
	}
	// The clamp in trust.Score preserves this order.
	q = q.OrderBy("reliability_score * freshness_score DESC", "created_at ASC", "id ASC").
		Limit(uint64(f.Limit)).Offset(uint64(f.Offset))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkVerified stamps last_verified and resets freshness. It reports
// whether the resource exists.
func (s *Store) MarkVerified(ctx context.Context, id string, at int64, freshness float64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE resources SET last_verified = ?, freshness_score = ?, updated_at = ? WHERE id = ?`,
		at, freshness, s.nowMs(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ScoreInputs returns every non-inactive resource with its source's tier
// and health, for rescoring.
func (s *Store) ScoreInputs(ctx context.Context) ([]ScoreInput, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT r.id, r.created_at, r.last_verified, COALESCE(src.tier, 0), COALESCE(src.health_status, '')
		FROM resources r LEFT JOIN sources src ON src.id = r.source_id
		WHERE r.status != ?
		ORDER BY r.id`, StatusInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreInput
	for rows.Next() {
		var in ScoreInput
		if err := rows.Scan(&in.ResourceID, &in.CreatedAt, &in.LastVerified, &in.SourceTier, &in.SourceHealth); err != nil {
			return nil, fmt.Errorf("scan score input: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateScores writes recomputed scores in one transaction.
func (s *Store) UpdateScores(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	now := s.nowMs()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE resources SET reliability_score = ?, freshness_score = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.Reliability, u.Freshness, now, u.ResourceID); err != nil {
				return fmt.Errorf("update scores %s: %w", u.ResourceID, err)
			}
		}
		return nil
	})
}

// ChangeLog returns a resource's field history, oldest first.
func (s *Store) ChangeLog(ctx context.Context, resourceID string) ([]*ChangeLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, resource_id, field, old_value, new_value, source, created_at
		FROM change_log WHERE resource_id = ? ORDER BY created_at, rowid`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChangeLogEntry
	for rows.Next() {
		var e ChangeLogEntry
		if err := rows.Scan(&e.ID, &e.ResourceID, &e.Field, &e.OldValue, &e.NewValue, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// GetOrganization retrieves an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return scanOrganization(s.DB.QueryRowContext(ctx,
		`SELECT id, name, name_key, website, created_at, updated_at FROM organizations WHERE id = ?`, id))
}

// GetLocation retrieves a location by ID.
func (s *Store) GetLocation(ctx context.Context, id string) (*Location, error) {
	return scanLocation(s.DB.QueryRowContext(ctx,
		`SELECT id, organization_id, address, city, state, zip_code, location_key, created_at
		FROM locations WHERE id = ?`, id))
}

// Stats returns aggregate counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM sources),
		(SELECT COUNT(*) FROM organizations),
		(SELECT COUNT(*) FROM resources),
		(SELECT COUNT(*) FROM resources WHERE status = 'active'),
		(SELECT COUNT(*) FROM resources WHERE status = 'needs_review'),
		(SELECT COUNT(*) FROM resources WHERE status = 'inactive'),
		(SELECT COUNT(*) FROM review_queue WHERE status = 'pending')`,
	).Scan(&st.Sources, &st.Organizations, &st.Resources, &st.Active, &st.NeedsReview, &st.Inactive, &st.PendingReviews)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}

func scanOrganization(row rowScanner) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.NameKey, &o.Website, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	return &o, nil
}

func scanLocation(row rowScanner) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.OrganizationID, &l.Address, &l.City, &l.State, &l.ZipCode, &l.LocationKey, &l.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan location: %w", err)
	}
	return &l, nil
}
