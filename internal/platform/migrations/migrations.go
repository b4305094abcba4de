// Package migrations applies the registry's database schema. Statements are
// idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS service_tokens (
		id          BIGINT PRIMARY KEY,
		state       SMALLINT NOT NULL,
		rating      INT NOT NULL DEFAULT 0,
		companion   TEXT NOT NULL DEFAULT '',
		evidence_of BIGINT NOT NULL DEFAULT 0,
		evidence    BOOLEAN NOT NULL DEFAULT FALSE,
		uri         TEXT NOT NULL DEFAULT '',
		metadata    JSONB,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service_tokens_state ON service_tokens (state)`,
	`CREATE TABLE IF NOT EXISTS state_uris (
		state SMALLINT PRIMARY KEY,
		uri   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS service_counters (
		name    TEXT PRIMARY KEY,
		next_id BIGINT NOT NULL
	)`,
	`INSERT INTO service_counters (name, next_id) VALUES ('token', 0)
		ON CONFLICT (name) DO NOTHING`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
