package types

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ProfileUpdate is a candidate change to a profile fact, keyed by the
// profile's title (e.g. "tone", "interests").
type ProfileUpdate struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"` // clamped to [0,1] at parse time
}

// MemoryUpsert is a candidate memory to create, or to update when
// ExistingMemoryID is set.
type MemoryUpsert struct {
	Kind             MemoryKind `json:"kind"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	Tags             []string   `json:"tags"`
	Importance       float64    `json:"importance"`
	ExistingMemoryID string     `json:"existingMemoryId,omitempty"`
}

// ArchiveCandidate marks an existing memory as outdated.
type ArchiveCandidate struct {
	MemoryID string `json:"memoryId"`
	Reason   string `json:"reason"`
}

// ExtractionResult is what the extractor distills from one conversation
// window. It is ephemeral: consumed immediately by the handler, never
// persisted.
type ExtractionResult struct {
	ProfileUpdates    []ProfileUpdate    `json:"profileUpdates"`
	MemoriesToUpsert  []MemoryUpsert     `json:"memoriesToUpsert"`
	ArchiveCandidates []ArchiveCandidate `json:"archiveCandidates"`
	SkipReason        string             `json:"skipReason,omitempty"`
}

// Empty reports whether the result carries nothing to apply.
func (r *ExtractionResult) Empty() bool {
	return len(r.ProfileUpdates) == 0 &&
		len(r.MemoriesToUpsert) == 0 &&
		len(r.ArchiveCandidates) == 0
}

// ProfileFact is an existing profile memory flattened to key/value form
// for prompt building.
type ProfileFact struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RelatedMemory is an existing memory surfaced to the extractor so the
// LLM can reference it by ID for updates and archival.
type RelatedMemory struct {
	ID      string     `json:"id"`
	Kind    MemoryKind `json:"kind"`
	Title   string     `json:"title"`
	Content string     `json:"content"`
}

// ConversationContext is the input window for one extraction pass.
type ConversationContext struct {
	UserID           string
	RecentMessages   []Message
	ExistingProfiles []ProfileFact
	RelatedMemories  []RelatedMemory
}
