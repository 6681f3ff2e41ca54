package store

import (
	"database/sql"
	"fmt"
)

// Two-table schema. Participants are created lazily by the identity
// resolver on first login; messages are append-only and removed only by a
// bulk reset. The messages autoincrement id doubles as insertion order for
// the restore tie-break.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS participants (
	id            TEXT PRIMARY KEY,
	role          TEXT NOT NULL CHECK (role IN ('teacher', 'student')),
	student_no    INTEGER NOT NULL,
	group_id      INTEGER NOT NULL DEFAULT 0,
	role_in_group INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_role_no
	ON participants(role, student_no);
CREATE INDEX IF NOT EXISTS idx_participants_group
	ON participants(group_id);

CREATE TABLE IF NOT EXISTS messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	from_id        TEXT,
	to_id          TEXT,
	event_type     TEXT NOT NULL CHECK (event_type IN ('submit', 'dispatch', 'discuss')),
	message_type   TEXT NOT NULL,
	activity_scope TEXT NOT NULL DEFAULT '',
	payload        BLOB,
	created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_from
	ON messages(from_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_to
	ON messages(to_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_event_type
	ON messages(event_type, message_type);
`

// initSchema creates tables and indexes if missing and applies the SQLite
// pragmas the single-writer design depends on.
func initSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
