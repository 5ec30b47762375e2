package sqlite

// Schema is the embedded DDL for the sqlite backend. All statements are
// idempotent so the schema can be applied on every open.
//
// Foreign keys cascade: deleting a user removes its memories, deleting a
// memory removes its embedding. The partial unique index on active profile
// titles backs the handler's find-or-create profile merge so concurrent
// extractions cannot produce duplicate profile rows for the same key.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind         TEXT NOT NULL CHECK (kind IN ('profile', 'episode', 'knowledge')),
	title        TEXT NOT NULL,
	content      TEXT NOT NULL,
	tags         TEXT,
	importance   REAL NOT NULL DEFAULT 0.5 CHECK (importance >= 0.0 AND importance <= 1.0),
	status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'deleted')),
	source       TEXT NOT NULL DEFAULT 'extracted' CHECK (source IN ('manual', 'extracted')),
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_user_status ON memories(user_id, status);
CREATE INDEX IF NOT EXISTS idx_memories_user_kind ON memories(user_id, kind, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_profile_key
	ON memories(user_id, lower(title))
	WHERE kind = 'profile' AND status = 'active';

CREATE TABLE IF NOT EXISTS memory_embeddings (
	id         TEXT PRIMARY KEY,
	memory_id  TEXT NOT NULL UNIQUE REFERENCES memories(id) ON DELETE CASCADE,
	model      TEXT NOT NULL,
	dims       INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, key)
);
`
