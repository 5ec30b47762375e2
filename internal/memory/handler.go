package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/speculo/speculo/internal/llm"
	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/pkg/types"
)

// minProfileConfidence is the floor below which a profile update is
// ignored entirely.
const minProfileConfidence = 0.5

// ProcessingStats counts what one extraction pass changed.
type ProcessingStats struct {
	ProfilesUpdated     int `json:"profiles_updated"`
	MemoriesCreated     int `json:"memories_created"`
	MemoriesUpdated     int `json:"memories_updated"`
	MemoriesArchived    int `json:"memories_archived"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
}

// Handler applies an ExtractionResult to the store: profile merges, memory
// upserts, archival, and embedding (re)generation. The embedding provider
// is optional; when nil, embeddings are simply skipped.
type Handler struct {
	store    storage.MemoryStore
	embedder llm.EmbeddingProvider
}

// NewHandler creates a handler. embedder may be nil.
func NewHandler(store storage.MemoryStore, embedder llm.EmbeddingProvider) *Handler {
	return &Handler{store: store, embedder: embedder}
}

// Process applies the extraction result for one user. Embedding failures
// are logged per memory and never abort the rest of the batch.
func (h *Handler) Process(ctx context.Context, userID string, result *types.ExtractionResult) (*ProcessingStats, error) {
	stats := &ProcessingStats{}

	for _, update := range result.ProfileUpdates {
		processed, err := h.processProfileUpdate(ctx, userID, update, stats)
		if err != nil {
			return nil, err
		}
		if processed {
			stats.ProfilesUpdated++
		}
	}

	for _, upsert := range result.MemoriesToUpsert {
		if err := h.processUpsert(ctx, userID, upsert, stats); err != nil {
			return nil, err
		}
	}

	for _, candidate := range result.ArchiveCandidates {
		archived := types.StatusArchived
		_, err := h.store.Update(ctx, candidate.MemoryID, storage.UpdateMemoryInput{Status: &archived})
		if err != nil {
			// Stale or hallucinated IDs are expected from the LLM.
			log.Printf("handler: skipping archive of %s (%s): %v", candidate.MemoryID, candidate.Reason, err)
			continue
		}
		stats.MemoriesArchived++
	}

	return stats, nil
}

// processProfileUpdate merges one profile fact. Matching is by
// case-insensitive title equality against the update key. On a match the
// content is replaced and importance moves to max(existing, confidence):
// importance on profile facts never decreases, so a low-confidence
// restatement can't downgrade trust in an established fact.
func (h *Handler) processProfileUpdate(ctx context.Context, userID string, update types.ProfileUpdate, stats *ProcessingStats) (bool, error) {
	if update.Confidence < minProfileConfidence {
		return false, nil
	}

	profiles, err := h.store.FindProfiles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("handler: failed to load profiles: %w", err)
	}

	var existing *types.Memory
	for _, profile := range profiles {
		if strings.EqualFold(profile.Title, update.Key) {
			existing = profile
			break
		}
	}

	if existing != nil {
		importance := existing.Importance
		if update.Confidence > importance {
			importance = update.Confidence
		}
		_, err := h.store.Update(ctx, existing.ID, storage.UpdateMemoryInput{
			Content:    &update.Value,
			Importance: &importance,
		})
		if err != nil {
			return false, fmt.Errorf("handler: failed to update profile %q: %w", update.Key, err)
		}
		return true, nil
	}

	created, err := h.store.Create(ctx, storage.CreateMemoryInput{
		UserID:     userID,
		Kind:       types.KindProfile,
		Title:      update.Key,
		Content:    update.Value,
		Importance: &update.Confidence,
		Source:     types.SourceExtracted,
	})
	if err != nil {
		// The unique index on active profile titles may reject a
		// concurrent duplicate; fold the update into the winner.
		if winner := h.refindProfile(ctx, userID, update.Key); winner != nil {
			importance := winner.Importance
			if update.Confidence > importance {
				importance = update.Confidence
			}
			if _, uerr := h.store.Update(ctx, winner.ID, storage.UpdateMemoryInput{
				Content:    &update.Value,
				Importance: &importance,
			}); uerr != nil {
				return false, fmt.Errorf("handler: failed to merge profile %q: %w", update.Key, uerr)
			}
			return true, nil
		}
		return false, fmt.Errorf("handler: failed to create profile %q: %w", update.Key, err)
	}

	if h.generateEmbedding(ctx, created) {
		stats.EmbeddingsGenerated++
	}
	return true, nil
}

func (h *Handler) refindProfile(ctx context.Context, userID, key string) *types.Memory {
	profiles, err := h.store.FindProfiles(ctx, userID)
	if err != nil {
		return nil
	}
	for _, profile := range profiles {
		if strings.EqualFold(profile.Title, key) {
			return profile
		}
	}
	return nil
}

// processUpsert creates a memory or updates an existing one in place,
// regenerating its embedding either way.
func (h *Handler) processUpsert(ctx context.Context, userID string, upsert types.MemoryUpsert, stats *ProcessingStats) error {
	if upsert.ExistingMemoryID != "" {
		updated, err := h.store.Update(ctx, upsert.ExistingMemoryID, storage.UpdateMemoryInput{
			Title:      &upsert.Title,
			Content:    &upsert.Content,
			Tags:       upsert.Tags,
			Importance: &upsert.Importance,
		})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Printf("handler: upsert target %s not found, skipping", upsert.ExistingMemoryID)
				return nil
			}
			return fmt.Errorf("handler: failed to update memory %s: %w", upsert.ExistingMemoryID, err)
		}
		stats.MemoriesUpdated++
		if h.generateEmbedding(ctx, updated) {
			stats.EmbeddingsGenerated++
		}
		return nil
	}

	created, err := h.store.Create(ctx, storage.CreateMemoryInput{
		UserID:     userID,
		Kind:       upsert.Kind,
		Title:      upsert.Title,
		Content:    upsert.Content,
		Tags:       upsert.Tags,
		Importance: &upsert.Importance,
		Source:     types.SourceExtracted,
	})
	if err != nil {
		return fmt.Errorf("handler: failed to create memory %q: %w", upsert.Title, err)
	}
	stats.MemoriesCreated++
	if h.generateEmbedding(ctx, created) {
		stats.EmbeddingsGenerated++
	}
	return nil
}

// generateEmbedding embeds "title: content" and stores the vector,
// replacing any prior embedding. Returns true on success; failures are
// logged and swallowed so one bad embedding can't sink the batch.
func (h *Handler) generateEmbedding(ctx context.Context, memory *types.Memory) bool {
	if h.embedder == nil {
		return false
	}

	text := memory.Title + ": " + memory.Content
	result, err := h.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("handler: failed to generate embedding for %s: %v", memory.ID, err)
		return false
	}

	if err := h.store.SaveEmbedding(ctx, memory.ID, result.Vector, result.Model, result.Dims); err != nil {
		log.Printf("handler: failed to save embedding for %s: %v", memory.ID, err)
		return false
	}
	return true
}

// BackfillEmbeddings generates embeddings for the user's memories that
// lack one, continuing past per-item failures. Returns the success count.
func (h *Handler) BackfillEmbeddings(ctx context.Context, userID string) (int, error) {
	if h.embedder == nil {
		return 0, nil
	}

	memories, err := h.store.FindWithoutEmbedding(ctx, userID, 0)
	if err != nil {
		return 0, fmt.Errorf("handler: failed to find memories without embedding: %w", err)
	}

	count := 0
	for _, memory := range memories {
		if h.generateEmbedding(ctx, memory) {
			count++
		}
	}
	return count, nil
}
