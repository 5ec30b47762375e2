package postgres

// Schema is the embedded DDL for the PostgreSQL backend. All statements
// are idempotent. The embedding vector is stored as a fixed-width binary
// bytea so the store remains usable without pgvector; when the extension
// is present an additional vector column is populated and similarity is
// pushed into SQL.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	kind         TEXT NOT NULL CHECK (kind IN ('profile', 'episode', 'knowledge')),
	title        TEXT NOT NULL,
	content      TEXT NOT NULL,
	tags         JSONB,
	importance   DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (importance >= 0.0 AND importance <= 1.0),
	status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived', 'deleted')),
	source       TEXT NOT NULL DEFAULT 'extracted' CHECK (source IN ('manual', 'extracted')),
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ
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
	vector     BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, key)
);
`

// MigrationPgvector adds the native vector column. Applied only when the
// pgvector extension loaded successfully.
const MigrationPgvector = `
ALTER TABLE memory_embeddings ADD COLUMN IF NOT EXISTS vector_vec vector;
`
