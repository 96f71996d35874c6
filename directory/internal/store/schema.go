package store

import "database/sql"

// Schema is the complete directory schema. Timestamps are unix milliseconds.
const Schema = `
-- One row per connector / origin.
CREATE TABLE IF NOT EXISTS sources (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    url             TEXT NOT NULL DEFAULT '',
    tier            INTEGER NOT NULL DEFAULT 4,
    frequency       TEXT NOT NULL DEFAULT 'daily',
    requires_auth   INTEGER NOT NULL DEFAULT 0,
    health_status   TEXT NOT NULL DEFAULT 'healthy',
    error_count     INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    last_run_at     INTEGER,
    last_success_at INTEGER,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS organizations (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    name_key   TEXT NOT NULL UNIQUE,
    website    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
    address         TEXT NOT NULL,
    city            TEXT NOT NULL,
    state           TEXT NOT NULL,
    zip_code        TEXT NOT NULL,
    location_key    TEXT NOT NULL,
    created_at      INTEGER NOT NULL,
    UNIQUE (organization_id, location_key)
);

CREATE TABLE IF NOT EXISTS resources (
    id                 TEXT PRIMARY KEY,
    dedup_key          TEXT NOT NULL UNIQUE,
    organization_id    TEXT NOT NULL REFERENCES organizations(id),
    location_id        TEXT REFERENCES locations(id),
    source_id          TEXT REFERENCES sources(id),
    title              TEXT NOT NULL,
    description        TEXT NOT NULL,
    source_url         TEXT NOT NULL DEFAULT '',
    categories         TEXT NOT NULL DEFAULT '[]',
    tags               TEXT NOT NULL DEFAULT '[]',
    scope              TEXT NOT NULL DEFAULT 'national',
    states             TEXT NOT NULL DEFAULT '[]',
    phone              TEXT NOT NULL DEFAULT '',
    email              TEXT NOT NULL DEFAULT '',
    hours              TEXT NOT NULL DEFAULT '',
    website            TEXT NOT NULL DEFAULT '',
    eligibility        TEXT NOT NULL DEFAULT '',
    how_to_apply       TEXT NOT NULL DEFAULT '',
    cost               TEXT NOT NULL DEFAULT '',
    content_hash       TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active',
    reliability_score  REAL NOT NULL DEFAULT 0.4,
    freshness_score    REAL NOT NULL DEFAULT 1.0,
    link_health_score  REAL NOT NULL DEFAULT 1.0,
    last_verified      INTEGER,
    last_seen_at       INTEGER,
    last_link_check_at INTEGER,
    embedding          BLOB,
    raw_data           TEXT NOT NULL DEFAULT '{}',
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resources_status ON resources(status);
CREATE INDEX IF NOT EXISTS idx_resources_org ON resources(organization_id);
CREATE INDEX IF NOT EXISTS idx_resources_seen ON resources(last_seen_at);

-- Append-only field history.
CREATE TABLE IF NOT EXISTS change_log (
    id          TEXT PRIMARY KEY,
    resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
    field       TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_log_resource ON change_log(resource_id, created_at);

-- Risky-field changes awaiting a human decision.
CREATE TABLE IF NOT EXISTS review_queue (
    id          TEXT PRIMARY KEY,
    resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
    field       TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    new_ref     TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    created_at  INTEGER NOT NULL,
    resolved_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_review_queue_status ON review_queue(status, created_at);

CREATE TABLE IF NOT EXISTS link_checks (
    id          TEXT PRIMARY KEY,
    resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
    url         TEXT NOT NULL,
    status_code INTEGER NOT NULL DEFAULT 0,
    final_url   TEXT NOT NULL DEFAULT '',
    is_soft_404 INTEGER NOT NULL DEFAULT 0,
    reason      TEXT NOT NULL DEFAULT '',
    score       REAL,
    error       TEXT NOT NULL DEFAULT '',
    checked_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_link_checks_resource ON link_checks(resource_id, checked_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
