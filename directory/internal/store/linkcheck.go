package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
)

// LinkTargets returns active and needs_review resources with a source URL,
// least recently checked first.
func (s *Store) LinkTargets(ctx context.Context, limit int) ([]LinkTarget, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, source_url FROM resources
		WHERE status IN ('active', 'needs_review') AND source_url != ''
		ORDER BY last_link_check_at ASC NULLS FIRST, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LinkTarget
	for rows.Next() {
		var t LinkTarget
		if err := rows.Scan(&t.ResourceID, &t.URL); err != nil {
			return nil, fmt.Errorf("scan link target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordLinkChecks stores one batch of check results in a single
// transaction: a link_checks row each, plus the resource's score and
// last-check stamp. A nil Score leaves link_health_score unchanged; Dead
// moves an active resource to needs_review.
func (s *Store) RecordLinkChecks(ctx context.Context, checks []*LinkCheck) error {
	if len(checks) == 0 {
		return nil
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, c := range checks {
			if c.ID == "" {
				c.ID = s.NewID()
			}
			if c.CheckedAt == 0 {
				c.CheckedAt = s.nowMs()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO link_checks (id, resource_id, url, status_code, final_url, is_soft_404, reason, score, error, checked_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.ResourceID, c.URL, c.StatusCode, c.FinalURL, boolInt(c.IsSoft404),
				c.Reason, c.Score, c.Error, c.CheckedAt); err != nil {
				return fmt.Errorf("insert link check %s: %w", c.ResourceID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE resources SET
					last_link_check_at = ?,
					link_health_score = COALESCE(?, link_health_score),
					status = CASE WHEN ? = 1 AND status = 'active' THEN 'needs_review' ELSE status END,
					updated_at = ?
				WHERE id = ?`,
				c.CheckedAt, c.Score, boolInt(c.Dead), c.CheckedAt, c.ResourceID); err != nil {
				return fmt.Errorf("update link health %s: %w", c.ResourceID, err)
			}
		}
		return nil
	})
}

// LinkChecks returns a resource's check history, newest first.
func (s *Store) LinkChecks(ctx context.Context, resourceID string, limit int) ([]*LinkCheck, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, resource_id, url, status_code, final_url, is_soft_404, reason, score, error, checked_at
		FROM link_checks WHERE resource_id = ? ORDER BY checked_at DESC, rowid DESC LIMIT ?`, resourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LinkCheck
	for rows.Next() {
		var c LinkCheck
		var soft int
		if err := rows.Scan(&c.ID, &c.ResourceID, &c.URL, &c.StatusCode, &c.FinalURL, &soft,
			&c.Reason, &c.Score, &c.Error, &c.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan link check: %w", err)
		}
		c.IsSoft404 = soft != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}
