package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id     TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	interests   TEXT NOT NULL DEFAULT '[]',
	group_id    TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	user_a           TEXT NOT NULL,
	user_b           TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	transcript       TEXT NOT NULL DEFAULT '[]',
	summary          TEXT NOT NULL DEFAULT '',
	embedding        TEXT,
	group_id         TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_type
	ON interactions(interaction_type, group_id);

CREATE TABLE IF NOT EXISTS recommendations (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	candidate_id   TEXT NOT NULL,
	recommendation TEXT NOT NULL DEFAULT '',
	score          REAL NOT NULL DEFAULT 0,
	strategy       TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recommendations_user
	ON recommendations(user_id);

CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	other_user_id TEXT NOT NULL,
	messages      TEXT NOT NULL DEFAULT '[]',
	summary       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_pair
	ON conversations(user_id, other_user_id);
`

// initSchema creates the tables used by the SQLite backend.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}
