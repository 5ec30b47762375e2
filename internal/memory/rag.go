package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/speculo/speculo/internal/llm"
	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/pkg/types"
)

// RAGConfig bounds one retrieval pass. The zero value is not useful; use
// DefaultRAGConfig and override fields as needed.
type RAGConfig struct {
	TopK             int
	Threshold        float64
	IncludeProfiles  bool
	IncludeEpisodes  bool
	IncludeKnowledge bool
}

// DefaultRAGConfig returns the standard retrieval bounds.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		TopK:             8,
		Threshold:        0.3,
		IncludeProfiles:  true,
		IncludeEpisodes:  true,
		IncludeKnowledge: true,
	}
}

// RAGContext is one retrieval result: the user's profile facts plus the
// similarity-ranked episodic/knowledge memories. Ephemeral: formatted
// into the prompt and discarded.
type RAGContext struct {
	Profiles          []*types.Memory        `json:"profiles"`
	RetrievedMemories []storage.SearchResult `json:"retrieved_memories"`
	UsedMemoryIDs     []string               `json:"used_memory_ids"`
}

// importantSimilarity marks retrieved memories worth flagging in the
// formatted context.
const importantSimilarity = 0.7

// RAGService assembles retrieval-augmented context for prompt building.
type RAGService struct {
	store    storage.MemoryStore
	embedder llm.EmbeddingProvider
}

// NewRAGService creates a RAG service. embedder may be nil, in which case
// only SimpleContext is usable.
func NewRAGService(store storage.MemoryStore, embedder llm.EmbeddingProvider) *RAGService {
	return &RAGService{store: store, embedder: embedder}
}

// Retrieve builds the RAG context for one user input. Profile memories are
// included unconditionally, since identity context is always relevant. Episode
// and knowledge memories are searched separately with a shared query
// embedding, pooled, deduplicated by memory ID (first occurrence wins),
// re-sorted by similarity, and truncated to a single global top-K.
func (s *RAGService) Retrieve(ctx context.Context, userID, userInput string, cfg RAGConfig) (*RAGContext, error) {
	result := &RAGContext{
		Profiles:          []*types.Memory{},
		RetrievedMemories: []storage.SearchResult{},
		UsedMemoryIDs:     []string{},
	}

	if cfg.IncludeProfiles {
		profiles, err := s.store.FindProfiles(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("rag: failed to load profiles: %w", err)
		}
		result.Profiles = profiles
		for _, profile := range profiles {
			result.UsedMemoryIDs = append(result.UsedMemoryIDs, profile.ID)
		}
	}

	if s.embedder == nil || (!cfg.IncludeEpisodes && !cfg.IncludeKnowledge) {
		return result, nil
	}

	queryEmbedding, err := s.embedder.Embed(ctx, userInput)
	if err != nil {
		return nil, fmt.Errorf("rag: failed to embed query: %w", err)
	}

	var pooled []storage.SearchResult
	kinds := []struct {
		kind    types.MemoryKind
		enabled bool
	}{
		{types.KindEpisode, cfg.IncludeEpisodes},
		{types.KindKnowledge, cfg.IncludeKnowledge},
	}
	for _, k := range kinds {
		if !k.enabled {
			continue
		}
		matches, err := s.store.SearchSimilar(ctx, userID, queryEmbedding.Vector, storage.SearchOptions{
			TopK:      cfg.TopK,
			Threshold: cfg.Threshold,
			Kind:      k.kind,
		})
		if err != nil {
			return nil, fmt.Errorf("rag: %s search failed: %w", k.kind, err)
		}
		pooled = append(pooled, matches...)
	}

	seen := make(map[string]bool, len(pooled))
	deduplicated := pooled[:0]
	for _, match := range pooled {
		if seen[match.Memory.ID] {
			continue
		}
		seen[match.Memory.ID] = true
		deduplicated = append(deduplicated, match)
	}

	sort.SliceStable(deduplicated, func(i, j int) bool {
		return deduplicated[i].Similarity > deduplicated[j].Similarity
	})
	if cfg.TopK > 0 && len(deduplicated) > cfg.TopK {
		deduplicated = deduplicated[:cfg.TopK]
	}

	result.RetrievedMemories = deduplicated
	for _, match := range deduplicated {
		result.UsedMemoryIDs = append(result.UsedMemoryIDs, match.Memory.ID)
	}
	return result, nil
}

// FormatContext renders the RAG context as a prompt block. Empty sections
// are omitted entirely.
func (s *RAGService) FormatContext(context *RAGContext) string {
	var sections []string

	if len(context.Profiles) > 0 {
		sections = append(sections, "[User Profile]")
		for _, profile := range context.Profiles {
			sections = append(sections, fmt.Sprintf("- %s: %s", profile.Title, profile.Content))
		}
		sections = append(sections, "")
	}

	if len(context.RetrievedMemories) > 0 {
		sections = append(sections, "[Related Information]")
		for _, match := range context.RetrievedMemories {
			kindLabel := "Note"
			if match.Memory.Kind == types.KindEpisode {
				kindLabel = "Recent"
			}
			prefix := ""
			if match.Similarity > importantSimilarity {
				prefix = "[Important] "
			}
			sections = append(sections, fmt.Sprintf("- %s(%s) %s: %s",
				prefix, kindLabel, match.Memory.Title, match.Memory.Content))
		}
		sections = append(sections, "")
	}

	return strings.Join(sections, "\n")
}

// SimpleContext is the degraded mode used when no embedding provider is
// configured: just the formatted profile block, no similarity search.
func (s *RAGService) SimpleContext(ctx context.Context, userID string) (string, error) {
	profiles, err := s.store.FindProfiles(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("rag: failed to load profiles: %w", err)
	}
	if len(profiles) == 0 {
		return "", nil
	}

	lines := []string{"[User Profile]"}
	for _, profile := range profiles {
		lines = append(lines, fmt.Sprintf("- %s: %s", profile.Title, profile.Content))
	}
	return strings.Join(lines, "\n"), nil
}
