package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS cells (
	x              INT         NOT NULL,
	y              INT         NOT NULL,
	color          TEXT        NOT NULL,
	placed_by      TEXT        NOT NULL,
	placed_by_name TEXT        NOT NULL,
	placed_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (x, y)
);

CREATE TABLE IF NOT EXISTS canvas_revision (
	id       BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	revision BIGINT  NOT NULL
);

INSERT INTO canvas_revision (id, revision) VALUES (TRUE, 0) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS canvas_deltas (
	revision       BIGINT      PRIMARY KEY,
	x              INT         NOT NULL,
	y              INT         NOT NULL,
	color          TEXT        NOT NULL,
	placed_by      TEXT        NOT NULL,
	placed_by_name TEXT        NOT NULL,
	placed_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS placement_states (
	user_id          TEXT        PRIMARY KEY,
	next_eligible_at TIMESTAMPTZ,
	total_placed     BIGINT      NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS palettes (
	user_id TEXT   PRIMARY KEY,
	colors  TEXT[] NOT NULL
);

CREATE TABLE IF NOT EXISTS players (
	id           TEXT        PRIMARY KEY,
	display_name TEXT        NOT NULL,
	is_guest     BOOLEAN     NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS registered_players (
	player_id     TEXT        PRIMARY KEY,
	username      TEXT        NOT NULL UNIQUE,
	password_hash TEXT        NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the canvas tables if they do not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate canvas schema: %w", err)
	}
	return nil
}
