package postgres

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS activities (
    id             BIGSERIAL PRIMARY KEY,
    owner_id       BIGINT           NOT NULL,
    started_at     TIMESTAMPTZ      NOT NULL,
    ended_at       TIMESTAMPTZ,
    duration_hours DOUBLE PRECISION,
    description    TEXT             NOT NULL DEFAULT '',
    source         TEXT             NOT NULL DEFAULT '',
    reference      TEXT             NOT NULL DEFAULT '',
    category       TEXT             NOT NULL DEFAULT '',
    fingerprint    TEXT             NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ      NOT NULL DEFAULT now(),
    duplicate_of   BIGINT REFERENCES activities (id)
);

CREATE INDEX IF NOT EXISTS activities_originals_start_idx
    ON activities (owner_id, started_at, id) WHERE duplicate_of IS NULL;

CREATE INDEX IF NOT EXISTS activities_duplicate_of_idx
    ON activities (duplicate_of) WHERE duplicate_of IS NOT NULL;
`

// EnsureSchema creates the activities table and its indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return wrap("postgres.EnsureSchema", err)
}
