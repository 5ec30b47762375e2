// Package storage defines the persistence boundary for the memory
// subsystem. Implementations live in the sqlite and postgres subpackages
// and must provide identical semantics; the similarity ranking itself is
// delegated to the vector package (or pushed into SQL where the backend
// supports it natively).
package storage

import (
	"context"

	"github.com/speculo/speculo/pkg/types"
)

// MemoryStore provides CRUD, lifecycle, and similarity search over
// memories and their embeddings.
type MemoryStore interface {
	// Create inserts a new memory and returns it with generated ID and
	// timestamps populated.
	Create(ctx context.Context, input CreateMemoryInput) (*types.Memory, error)

	// FindByID retrieves a memory by ID regardless of status.
	// Returns ErrNotFound if the row doesn't exist.
	FindByID(ctx context.Context, id string) (*types.Memory, error)

	// FindByIDWithEmbedding retrieves a memory together with its stored
	// embedding. The embedding is nil when none has been generated yet.
	FindByIDWithEmbedding(ctx context.Context, id string) (*types.Memory, *types.MemoryEmbedding, error)

	// FindMany retrieves memories matching the filter, newest-updated
	// first. When the filter's Status is empty only active rows are
	// returned. A non-positive limit returns all matching rows.
	FindMany(ctx context.Context, filter MemoryFilter, limit int) ([]*types.Memory, error)

	// FindProfiles returns all active profile memories for a user.
	FindProfiles(ctx context.Context, userID string) ([]*types.Memory, error)

	// Update applies a partial update and returns the updated memory.
	// Returns ErrNotFound if the row doesn't exist.
	Update(ctx context.Context, id string, input UpdateMemoryInput) (*types.Memory, error)

	// SoftDelete marks a memory as deleted. The row stays queryable.
	// Returns ErrNotFound if the row doesn't exist.
	SoftDelete(ctx context.Context, id string) error

	// HardDelete removes a memory permanently; its embedding is removed
	// by the foreign-key cascade. Returns ErrNotFound if the row doesn't
	// exist.
	HardDelete(ctx context.Context, id string) error

	// Touch sets last_used_at to now for a single memory.
	Touch(ctx context.Context, id string) error

	// TouchMany sets last_used_at to now for all given memory IDs.
	TouchMany(ctx context.Context, ids []string) error

	// SaveEmbedding stores the embedding for a memory, replacing any
	// previous one (upsert keyed on memory_id).
	SaveEmbedding(ctx context.Context, memoryID string, vec []float32, model string, dims int) error

	// SearchSimilar ranks the user's active memories (optionally limited
	// to one kind) by cosine similarity to the query vector, filters by
	// opts.Threshold, and returns at most opts.TopK results in descending
	// similarity order. Archived and deleted memories never appear.
	SearchSimilar(ctx context.Context, userID string, query []float32, opts SearchOptions) ([]SearchResult, error)

	// FindWithoutEmbedding returns active memories that have no stored
	// embedding, for backfill.
	FindWithoutEmbedding(ctx context.Context, userID string, limit int) ([]*types.Memory, error)

	// Close releases any resources held by the store.
	Close() error
}
