// Package sqlite provides the default SQLite-backed MemoryStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/internal/vector"
	"github.com/speculo/speculo/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens a SQLite database, configures WAL mode, and applies
// the schema. Pass ":memory:" for an in-process ephemeral store.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// DB exposes the underlying handle for settings access and tests.
func (s *MemoryStore) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *MemoryStore) Close() error { return s.db.Close() }

const memoryColumns = `id, user_id, kind, title, content, tags, importance, status, source, created_at, updated_at, last_used_at`

// Create inserts a new memory. Importance defaults to 0.5 and is clamped
// to [0,1]; source defaults to "extracted". The owning user row is created
// on demand.
func (s *MemoryStore) Create(ctx context.Context, input storage.CreateMemoryInput) (*types.Memory, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown memory kind %q", storage.ErrInvalidInput, input.Kind)
	}
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}
	if input.Content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	importance := 0.5
	if input.Importance != nil {
		importance = types.ClampImportance(*input.Importance)
	}

	source := input.Source
	if source == "" {
		source = types.SourceExtracted
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: unknown memory source %q", storage.ErrInvalidInput, source)
	}

	now := time.Now().UTC()
	memory := &types.Memory{
		ID:         uuid.NewString(),
		UserID:     input.UserID,
		Kind:       input.Kind,
		Title:      input.Title,
		Content:    input.Content,
		Tags:       input.Tags,
		Importance: importance,
		Status:     types.StatusActive,
		Source:     source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tagsJSON, err := marshalTags(memory.Tags)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id) VALUES (?)`, input.UserID); err != nil {
		return nil, fmt.Errorf("sqlite: failed to ensure user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, memory.UserID, string(memory.Kind), memory.Title, memory.Content,
		tagsJSON, memory.Importance, string(memory.Status), string(memory.Source),
		memory.CreatedAt, memory.UpdatedAt, nil,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to create memory: %w", err)
	}

	return memory, nil
}

// FindByID retrieves a memory by ID regardless of status.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)

	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory: %w", err)
	}
	return memory, nil
}

// FindByIDWithEmbedding retrieves a memory and its embedding, if any.
func (s *MemoryStore) FindByIDWithEmbedding(ctx context.Context, id string) (*types.Memory, *types.MemoryEmbedding, error) {
	memory, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, memory_id, model, dims, vector, created_at
		FROM memory_embeddings WHERE memory_id = ?`, id)

	var emb types.MemoryEmbedding
	var blob []byte
	err = row.Scan(&emb.ID, &emb.MemoryID, &emb.Model, &emb.Dims, &blob, &emb.CreatedAt)
	if err == sql.ErrNoRows {
		return memory, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: failed to get embedding: %w", err)
	}

	emb.Vector, err = vector.Decode(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: failed to decode embedding: %w", err)
	}
	return memory, &emb, nil
}

// FindMany retrieves memories matching the filter, most recently updated
// first. An empty filter Status means active only; a non-positive limit
// means no cap.
func (s *MemoryStore) FindMany(ctx context.Context, filter storage.MemoryFilter, limit int) ([]*types.Memory, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{filter.UserID}

	if filter.Kind != "" {
		if !filter.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown memory kind %q", storage.ErrInvalidInput, filter.Kind)
		}
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}

	status := filter.Status
	if status == "" {
		status = types.StatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown memory status %q", storage.ErrInvalidInput, status)
	}
	query += ` AND status = ?`
	args = append(args, string(status))

	if filter.MinImportance != nil {
		query += ` AND importance >= ?`
		args = append(args, *filter.MinImportance)
	}

	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// FindProfiles returns all active profile memories for a user.
func (s *MemoryStore) FindProfiles(ctx context.Context, userID string) ([]*types.Memory, error) {
	return s.FindMany(ctx, storage.MemoryFilter{
		UserID: userID,
		Kind:   types.KindProfile,
		Status: types.StatusActive,
	}, 0)
}

// Update applies a partial update. Status changes are validated against the
// lifecycle (active→archived, active→deleted, archived→active; same-status
// writes are allowed as no-ops).
func (s *MemoryStore) Update(ctx context.Context, id string, input storage.UpdateMemoryInput) (*types.Memory, error) {
	existing, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if input.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *input.Title)
	}
	if input.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *input.Content)
	}
	if input.Tags != nil {
		tagsJSON, err := marshalTags(input.Tags)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsJSON)
	}
	if input.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, types.ClampImportance(*input.Importance))
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown memory status %q", storage.ErrInvalidInput, *input.Status)
		}
		if !statusTransitionAllowed(existing.Status, *input.Status) {
			return nil, fmt.Errorf("%w: status transition %s→%s is not allowed",
				storage.ErrInvalidInput, existing.Status, *input.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*input.Status))
	}

	args = append(args, id)
	_, err = s.db.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to update memory: %w", err)
	}

	return s.FindByID(ctx, id)
}

// statusTransitionAllowed encodes the soft-delete lifecycle. Deleted rows
// only leave the table through HardDelete.
func statusTransitionAllowed(from, to types.MemoryStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case types.StatusActive:
		return to == types.StatusArchived || to == types.StatusDeleted
	case types.StatusArchived:
		return to == types.StatusActive
	}
	return false
}

// SoftDelete marks a memory as deleted; the row stays queryable.
func (s *MemoryStore) SoftDelete(ctx context.Context, id string) error {
	status := types.StatusDeleted
	_, err := s.Update(ctx, id, storage.UpdateMemoryInput{Status: &status})
	return err
}

// HardDelete removes the row; the embedding goes with it via the FK cascade.
func (s *MemoryStore) HardDelete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete memory: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch sets last_used_at to now for a single memory.
func (s *MemoryStore) Touch(ctx context.Context, id string) error {
	return s.TouchMany(ctx, []string{id})
}

// TouchMany sets last_used_at to now for all given memory IDs.
func (s *MemoryStore) TouchMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_used_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: failed to touch memories: %w", err)
	}
	return nil
}

// SaveEmbedding stores the embedding for a memory, replacing any previous
// one. The parent memory must exist.
func (s *MemoryStore) SaveEmbedding(ctx context.Context, memoryID string, vec []float32, model string, dims int) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}
	if len(vec) != dims {
		return fmt.Errorf("%w: vector length (%d) does not match dims (%d)",
			storage.ErrInvalidInput, len(vec), dims)
	}

	if _, err := s.FindByID(ctx, memoryID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (id, memory_id, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			id = excluded.id,
			model = excluded.model,
			dims = excluded.dims,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		uuid.NewString(), memoryID, model, dims, vector.Encode(vec), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save embedding: %w", err)
	}
	return nil
}

// SearchSimilar joins active memories with their embeddings and ranks them
// by cosine similarity to the query vector. Stored vectors whose dimensions
// don't match the query are logged and skipped so one stale embedding
// (e.g. from a previous model) can't fail the whole search.
func (s *MemoryStore) SearchSimilar(ctx context.Context, userID string, query []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	sqlQuery := `
		SELECT m.id, m.user_id, m.kind, m.title, m.content, m.tags, m.importance,
		       m.status, m.source, m.created_at, m.updated_at, m.last_used_at,
		       e.vector
		FROM memories m
		INNER JOIN memory_embeddings e ON e.memory_id = m.id
		WHERE m.user_id = ? AND m.status = 'active'`
	args := []any{userID}

	if opts.Kind != "" {
		if !opts.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown memory kind %q", storage.ErrInvalidInput, opts.Kind)
		}
		sqlQuery += ` AND m.kind = ?`
		args = append(args, string(opts.Kind))
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query candidates: %w", err)
	}
	defer rows.Close()

	excluded := make(map[string]bool, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		excluded[id] = true
	}

	var candidates []*types.Memory
	var vectors [][]float32
	for rows.Next() {
		var memory types.Memory
		var tagsJSON sql.NullString
		var lastUsedAt sql.NullTime
		var blob []byte

		if err := rows.Scan(
			&memory.ID, &memory.UserID, &memory.Kind, &memory.Title, &memory.Content,
			&tagsJSON, &memory.Importance, &memory.Status, &memory.Source,
			&memory.CreatedAt, &memory.UpdatedAt, &lastUsedAt, &blob,
		); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan candidate: %w", err)
		}
		if excluded[memory.ID] {
			continue
		}
		applyNullables(&memory, tagsJSON, lastUsedAt)

		vec, err := vector.Decode(blob)
		if err != nil {
			log.Printf("sqlite: skipping memory %s: undecodable embedding: %v", memory.ID, err)
			continue
		}
		if len(vec) != len(query) {
			log.Printf("sqlite: skipping memory %s: embedding dims %d != query dims %d",
				memory.ID, len(vec), len(query))
			continue
		}

		candidates = append(candidates, &memory)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate candidates: %w", err)
	}

	matches, err := vector.FindSimilar(query, vectors, topK, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("sqlite: similarity ranking failed: %w", err)
	}

	results := make([]storage.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, storage.SearchResult{
			Memory:     candidates[m.Index],
			Similarity: m.Similarity,
		})
	}
	return results, nil
}

// FindWithoutEmbedding returns active memories that have no stored
// embedding yet.
func (s *MemoryStore) FindWithoutEmbedding(ctx context.Context, userID string, limit int) ([]*types.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.kind, m.title, m.content, m.tags, m.importance,
		       m.status, m.source, m.created_at, m.updated_at, m.last_used_at
		FROM memories m
		LEFT JOIN memory_embeddings e ON e.memory_id = m.id
		WHERE m.user_id = ? AND m.status = 'active' AND e.id IS NULL
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to find memories without embedding: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var tagsJSON sql.NullString
	var lastUsedAt sql.NullTime

	err := row.Scan(
		&memory.ID, &memory.UserID, &memory.Kind, &memory.Title, &memory.Content,
		&tagsJSON, &memory.Importance, &memory.Status, &memory.Source,
		&memory.CreatedAt, &memory.UpdatedAt, &lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	applyNullables(&memory, tagsJSON, lastUsedAt)
	return &memory, nil
}

func applyNullables(memory *types.Memory, tagsJSON sql.NullString, lastUsedAt sql.NullTime) {
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &memory.Tags); err != nil {
			log.Printf("sqlite: ignoring malformed tags for memory %s: %v", memory.ID, err)
			memory.Tags = nil
		}
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		memory.LastUsedAt = &t
	}
}

func collectMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var memories []*types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate memories: %w", err)
	}
	return memories, nil
}

func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to marshal tags: %w", err)
	}
	return string(tagsJSON), nil
}
