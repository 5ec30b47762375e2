package types

import "time"

// MemoryKind classifies what a memory is about.
type MemoryKind string

const (
	// KindProfile is a long-lived fact about the user's identity or
	// preferences. Profiles are always included in retrieval context.
	KindProfile MemoryKind = "profile"

	// KindEpisode is a memory of a recent, time-bounded event.
	KindEpisode MemoryKind = "episode"

	// KindKnowledge is factual or reference information (decisions,
	// settings, TODOs).
	KindKnowledge MemoryKind = "knowledge"
)

// Valid reports whether k is one of the known memory kinds.
func (k MemoryKind) Valid() bool {
	switch k {
	case KindProfile, KindEpisode, KindKnowledge:
		return true
	}
	return false
}

// MemoryStatus is the lifecycle status of a memory.
//
// Allowed transitions: active→archived, active→deleted, archived→active
// (restore). Deleted is terminal for soft delete; hard delete removes the
// row entirely.
type MemoryStatus string

const (
	StatusActive   MemoryStatus = "active"
	StatusArchived MemoryStatus = "archived"
	StatusDeleted  MemoryStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s MemoryStatus) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// MemorySource records how a memory entered the system.
type MemorySource string

const (
	SourceManual    MemorySource = "manual"
	SourceExtracted MemorySource = "extracted"
)

// Valid reports whether s is one of the known sources.
func (s MemorySource) Valid() bool {
	return s == SourceManual || s == SourceExtracted
}

// Memory is a durable fact stored for a user.
type Memory struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Kind       MemoryKind   `json:"kind"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Tags       []string     `json:"tags,omitempty"`
	Importance float64      `json:"importance"` // always clamped to [0,1]
	Status     MemoryStatus `json:"status"`
	Source     MemorySource `json:"source"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
}

// MemoryEmbedding is the stored vector for a memory. It is owned by its
// parent memory and never exists without it; regenerating a memory's
// embedding replaces the previous row.
type MemoryEmbedding struct {
	ID        string    `json:"id"`
	MemoryID  string    `json:"memory_id"`
	Model     string    `json:"model"`
	Dims      int       `json:"dims"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// ClampImportance bounds v into [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
