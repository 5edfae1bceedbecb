package postgres

import (
	"context"
	"fmt"
)

// Schema creates the tables used by Repository. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS capsules (
	id          TEXT PRIMARY KEY,
	owner       TEXT UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS upload_sessions (
	id               TEXT PRIMARY KEY,
	capsule_id       TEXT NOT NULL REFERENCES capsules(id),
	expected_chunks  BIGINT NOT NULL CHECK (expected_chunks > 0),
	received_chunks  JSONB NOT NULL DEFAULT '{}'::jsonb,
	bytes_received   BIGINT NOT NULL DEFAULT 0,
	idempotency_key  TEXT,
	status           TEXT NOT NULL,
	blob_id          TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	expires_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (capsule_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS upload_sessions_open_expiry_idx
	ON upload_sessions (expires_at) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS blobs (
	id           TEXT PRIMARY KEY,
	capsule_id   TEXT NOT NULL REFERENCES capsules(id),
	size         BIGINT NOT NULL,
	chunk_count  BIGINT NOT NULL,
	sha256       BYTEA NOT NULL,
	backend      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	capsule_id       TEXT NOT NULL REFERENCES capsules(id),
	metadata         JSONB NOT NULL,
	blob_assets      JSONB NOT NULL DEFAULT '[]'::jsonb,
	inline_assets    JSONB NOT NULL DEFAULT '[]'::jsonb,
	external_assets  JSONB NOT NULL DEFAULT '[]'::jsonb,
	idempotency_key  TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (capsule_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS memories_capsule_order_idx
	ON memories (capsule_id, created_at, id);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
