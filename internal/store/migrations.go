package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
// Timestamps are stored as Unix nanoseconds so they sort numerically.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create messages and conversations",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				read_up_to  INTEGER NOT NULL DEFAULT 0,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				conversation_id TEXT NOT NULL,
				id              TEXT NOT NULL,
				sender_id       TEXT NOT NULL,
				type            TEXT NOT NULL DEFAULT 'TEXT',
				body            TEXT NOT NULL DEFAULT '',
				created_at      INTEGER NOT NULL,
				client_nonce    TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (conversation_id, id)
			);

			CREATE INDEX idx_messages_order ON messages (conversation_id, created_at, id);
		`,
	},
	{
		Version: 2,
		Name:    "create notifications",
		SQL: `
			CREATE TABLE notifications (
				id               TEXT PRIMARY KEY,
				type             TEXT NOT NULL,
				reference_id     TEXT NOT NULL DEFAULT '',
				last_activity_at INTEGER NOT NULL,
				payload          TEXT NOT NULL
			);

			CREATE INDEX idx_notifications_activity ON notifications (last_activity_at DESC, id);
		`,
	},
}
