package store

import "context"

// PurgeChangeLog deletes change_log rows created before cutoff (unix ms).
func (s *Store) PurgeChangeLog(ctx context.Context, cutoff int64) (int64, error) {
	return s.execCount(ctx, `DELETE FROM change_log WHERE created_at < ?`, cutoff)
}

// PurgeLinkChecks deletes link_checks rows older than cutoff.
func (s *Store) PurgeLinkChecks(ctx context.Context, cutoff int64) (int64, error) {
	return s.execCount(ctx, `DELETE FROM link_checks WHERE checked_at < ?`, cutoff)
}

// PurgeResolvedReviews deletes approved or rejected reviews resolved before
// cutoff. Pending reviews are never purged.
func (s *Store) PurgeResolvedReviews(ctx context.Context, cutoff int64) (int64, error) {
	return s.execCount(ctx,
		`DELETE FROM review_queue WHERE status != 'pending' AND resolved_at < ?`, cutoff)
}

// DeactivateStale soft-deletes resources not seen by any connector since
// cutoff. Resources never seen fall back to created_at.
func (s *Store) DeactivateStale(ctx context.Context, cutoff int64) (int64, error) {
	return s.execCount(ctx,
		`UPDATE resources SET status = 'inactive', updated_at = ?
		WHERE status != 'inactive' AND COALESCE(last_seen_at, created_at) < ?`,
		s.nowMs(), cutoff)
}

func (s *Store) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
