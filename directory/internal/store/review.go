package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
)

// ErrReviewClosed is returned when resolving a review that is not pending.
var ErrReviewClosed = errors.New("review already resolved")

// reviewColumn maps a risky field name to the resource column an approval writes.
var reviewColumn = map[string]string{
	"phone":        "phone",
	"website":      "website",
	"address":      "location_id",
	"eligibility":  "eligibility",
	"how_to_apply": "how_to_apply",
	"cost":         "cost",
}

// ListReviews returns queued changes with the given status, oldest first.
func (s *Store) ListReviews(ctx context.Context, status string, limit int) ([]*ReviewItem, error) {
	if status == "" {
		status = ReviewPending
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, resource_id, field, old_value, new_value, new_ref, reason, status, created_at, resolved_at
		FROM review_queue WHERE status = ? ORDER BY created_at, rowid LIMIT ?`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReviewItem
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetReview retrieves a review item by ID.
func (s *Store) GetReview(ctx context.Context, id string) (*ReviewItem, error) {
	return scanReview(s.DB.QueryRowContext(ctx,
		`SELECT id, resource_id, field, old_value, new_value, new_ref, reason, status, created_at, resolved_at
		FROM review_queue WHERE id = ?`, id))
}

// ResolveReview approves or rejects a pending change. Approval writes the
// proposed value and logs it. Once a resource has no pending reviews left,
// a needs_review status returns to active.
func (s *Store) ResolveReview(ctx context.Context, id string, approve bool) error {
	now := s.nowMs()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		r, err := scanReview(tx.QueryRowContext(ctx,
			`SELECT id, resource_id, field, old_value, new_value, new_ref, reason, status, created_at, resolved_at
			FROM review_queue WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if r == nil {
			return sql.ErrNoRows
		}
		if r.Status != ReviewPending {
			return fmt.Errorf("%w: %s is %s", ErrReviewClosed, id, r.Status)
		}

		status := ReviewRejected
		if approve {
			status = ReviewApproved
			col, ok := reviewColumn[r.Field]
			if !ok {
				return fmt.Errorf("review %s: unknown field %q", id, r.Field)
			}
			val := r.NewValue
			if r.NewRef != "" {
				val = r.NewRef
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE resources SET `+col+` = ?, updated_at = ? WHERE id = ?`, nullIfRef(col, val), now, r.ResourceID); err != nil {
				return fmt.Errorf("apply review: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO change_log (id, resource_id, field, old_value, new_value, source, created_at)
				VALUES (?, ?, ?, ?, ?, 'review', ?)`,
				s.NewID(), r.ResourceID, r.Field, r.OldValue, r.NewValue, now); err != nil {
				return fmt.Errorf("log review: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE review_queue SET status = ?, resolved_at = ? WHERE id = ?`, status, now, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE resources SET status = 'active', updated_at = ?
			WHERE id = ? AND status = 'needs_review'
			AND NOT EXISTS (SELECT 1 FROM review_queue WHERE resource_id = ? AND status = 'pending')`,
			now, r.ResourceID, r.ResourceID)
		return err
	})
}

func nullIfRef(col, val string) any {
	if col == "location_id" {
		return nullString(val)
	}
	return val
}

func scanReview(row rowScanner) (*ReviewItem, error) {
	var r ReviewItem
	err := row.Scan(&r.ID, &r.ResourceID, &r.Field, &r.OldValue, &r.NewValue, &r.NewRef,
		&r.Reason, &r.Status, &r.CreatedAt, &r.ResolvedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	return &r, nil
}
