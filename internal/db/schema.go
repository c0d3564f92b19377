package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The unique indexes below are load-bearing: cell and neuron upserts rely on
// ON CONFLICT against them, which is what makes concurrent identical requests
// converge on a single row instead of racing duplicate inserts.
//
// Deleting a neuron must work for any owned row, not just leaves: children
// re-root (axone_id SET NULL) and dendrite links drop (CASCADE).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            uuid PRIMARY KEY,
		email         text NOT NULL UNIQUE,
		password_hash text NOT NULL,
		name          text NOT NULL DEFAULT '',
		avatar        text NOT NULL DEFAULT '',
		created_at    timestamptz NOT NULL,
		updated_at    timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cells (
		id          uuid PRIMARY KEY,
		user_id     uuid NOT NULL REFERENCES users(id),
		name        text NOT NULL,
		properties  jsonb,
		created_at  timestamptz NOT NULL,
		modified_at timestamptz NOT NULL,
		UNIQUE (user_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS neurons (
		id         uuid PRIMARY KEY,
		user_id    uuid NOT NULL REFERENCES users(id),
		cell_id    uuid NOT NULL REFERENCES cells(id),
		axone_id   uuid REFERENCES neurons(id) ON DELETE SET NULL,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL,
		UNIQUE NULLS NOT DISTINCT (user_id, cell_id, axone_id)
	)`,
	`CREATE TABLE IF NOT EXISTS neuron_dendrites (
		neuron_id   uuid NOT NULL REFERENCES neurons(id) ON DELETE CASCADE,
		dendrite_id uuid NOT NULL REFERENCES neurons(id) ON DELETE CASCADE,
		PRIMARY KEY (neuron_id, dendrite_id)
	)`,
	`CREATE INDEX IF NOT EXISTS neurons_user_axone_idx ON neurons (user_id, axone_id)`,
	`CREATE INDEX IF NOT EXISTS neurons_cell_idx ON neurons (cell_id)`,
}

// EnsureSchema bootstraps the tables on startup. Safe to run on every boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
