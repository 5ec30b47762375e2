package storage

import (
	"errors"

	"github.com/speculo/speculo/pkg/types"
)

var (
	// ErrNotFound indicates that the requested memory was not found.
	// Callers decide how to surface it (the HTTP layer maps it to 404).
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// CreateMemoryInput carries the fields needed to create a memory.
// Importance defaults to 0.5 and Source to "extracted" when unset.
type CreateMemoryInput struct {
	UserID     string
	Kind       types.MemoryKind
	Title      string
	Content    string
	Tags       []string
	Importance *float64
	Source     types.MemorySource
}

// UpdateMemoryInput is a partial update. Nil fields are left unchanged;
// a nil Tags slice means "don't touch tags" while an empty one clears them.
type UpdateMemoryInput struct {
	Title      *string
	Content    *string
	Tags       []string
	Importance *float64
	Status     *types.MemoryStatus
}

// MemoryFilter selects memories for FindMany. Zero-valued Kind/Status mean
// "any kind" and "active only" respectively. Listings never include
// archived or deleted rows unless asked for explicitly.
type MemoryFilter struct {
	UserID        string
	Kind          types.MemoryKind
	Status        types.MemoryStatus
	MinImportance *float64
}

// SearchOptions bounds a similarity search.
type SearchOptions struct {
	TopK       int     // default 10
	Threshold  float64 // default 0.3
	Kind       types.MemoryKind
	ExcludeIDs []string
}

// SearchResult pairs a memory with its similarity to the query vector.
type SearchResult struct {
	Memory     *types.Memory `json:"memory"`
	Similarity float64       `json:"similarity"`
}
