package store

import (
	"context"
	"database/sql"
	"fmt"
)

const sourceColumns = `id, name, url, tier, frequency, requires_auth, health_status,
	error_count, last_error, last_run_at, last_success_at, created_at, updated_at`

// UpsertSource registers a connector by name, refreshing its descriptive
// fields. Health and error counters are preserved on conflict.
func (s *Store) UpsertSource(ctx context.Context, src *Source) (*Source, error) {
	now := s.nowMs()
	if src.Frequency == "" {
		src.Frequency = "daily"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sources (id, name, url, tier, frequency, requires_auth,
		health_status, error_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'healthy', 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			tier = excluded.tier,
			frequency = excluded.frequency,
			requires_auth = excluded.requires_auth,
			updated_at = excluded.updated_at`,
		s.NewID(), src.Name, src.URL, src.Tier, src.Frequency, boolInt(src.RequiresAuth), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert source %s: %w", src.Name, err)
	}
	return s.GetSourceByName(ctx, src.Name)
}

// GetSource retrieves a source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	return scanSource(s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
}

// GetSourceByName retrieves a source by connector name.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	return scanSource(s.DB.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name))
}

// ListSources returns all sources by name.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// RecordSourceRun stores the outcome of one job run for a source. The
// caller computes health and errorCount.
func (s *Store) RecordSourceRun(ctx context.Context, id, health string, errorCount int, lastError string, success bool) error {
	now := s.nowMs()
	var lastSuccess any
	if success {
		lastSuccess = now
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sources SET health_status = ?, error_count = ?, last_error = ?,
		last_run_at = ?, last_success_at = COALESCE(?, last_success_at), updated_at = ?
		WHERE id = ?`,
		health, errorCount, lastError, now, lastSuccess, now, id)
	return err
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var requiresAuth int
	err := row.Scan(
		&src.ID, &src.Name, &src.URL, &src.Tier, &src.Frequency, &requiresAuth,
		&src.HealthStatus, &src.ErrorCount, &src.LastError, &src.LastRunAt,
		&src.LastSuccessAt, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.RequiresAuth = requiresAuth != 0
	return &src, nil
}
