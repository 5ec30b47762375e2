package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/speculo/speculo/internal/llm"
	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/pkg/types"
)

// ServiceConfig configures the memory service façade.
type ServiceConfig struct {
	// MinConfidence filters extraction results before they reach the
	// handler (default 0.5). Profile updates below it and upserts whose
	// importance is below it are dropped.
	MinConfidence float64

	// AutoExtract enables extraction after conversation turns. Nil means
	// enabled; point at false to keep a chat provider configured but
	// skip extraction.
	AutoExtract *bool

	// Prompts is the extraction prompt config; zero value means defaults.
	Prompts PromptConfig
}

// Service is the façade external callers use: it orchestrates the
// extractor and handler after each conversation turn and exposes
// retrieval without re-exposing the store.
type Service struct {
	store         storage.MemoryStore
	extractor     *Extractor
	handler       *Handler
	minConfidence float64
	autoExtract   bool
}

// NewService wires the façade. chat may be nil, which disables extraction
// entirely; embedder may be nil, which disables embedding generation.
func NewService(store storage.MemoryStore, chat llm.ChatProvider, embedder llm.EmbeddingProvider, cfg ServiceConfig) *Service {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.Prompts.SystemPrompt == "" {
		cfg.Prompts = DefaultPromptConfig()
	}
	autoExtract := cfg.AutoExtract == nil || *cfg.AutoExtract

	var extractor *Extractor
	if chat != nil {
		extractor = NewExtractor(chat, cfg.Prompts)
	}

	return &Service{
		store:         store,
		extractor:     extractor,
		handler:       NewHandler(store, embedder),
		minConfidence: cfg.MinConfidence,
		autoExtract:   autoExtract,
	}
}

// ProcessConversation runs extraction over the recent messages and applies
// the filtered result. Returns (nil, nil) when extraction is disabled, the
// extractor is not configured, or nothing above the confidence floor was
// extracted. A no-op is not an error.
func (s *Service) ProcessConversation(ctx context.Context, userID string, messages []types.Message, relatedMemoryIDs []string) (*ProcessingStats, error) {
	if !s.autoExtract || s.extractor == nil {
		return nil, nil
	}

	profiles, err := s.store.FindProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to load profiles: %w", err)
	}

	convo := types.ConversationContext{
		UserID:         userID,
		RecentMessages: messages,
	}
	for _, profile := range profiles {
		convo.ExistingProfiles = append(convo.ExistingProfiles, types.ProfileFact{
			ID:    profile.ID,
			Key:   profile.Title,
			Value: profile.Content,
		})
	}

	for _, id := range relatedMemoryIDs {
		memory, err := s.store.FindByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("memory: failed to resolve related memory %s: %w", id, err)
		}
		convo.RelatedMemories = append(convo.RelatedMemories, types.RelatedMemory{
			ID:      memory.ID,
			Kind:    memory.Kind,
			Title:   memory.Title,
			Content: memory.Content,
		})
	}

	result, err := s.extractor.Extract(ctx, convo)
	if err != nil {
		return nil, fmt.Errorf("memory: extraction failed: %w", err)
	}

	filtered := s.filterResult(result)
	if filtered.Empty() {
		return nil, nil
	}

	stats, err := s.handler.Process(ctx, userID, filtered)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to apply extraction: %w", err)
	}
	return stats, nil
}

// filterResult drops profile updates and upserts below the confidence
// floor. Archive candidates pass through unfiltered.
func (s *Service) filterResult(result *types.ExtractionResult) *types.ExtractionResult {
	filtered := &types.ExtractionResult{
		ProfileUpdates:    []types.ProfileUpdate{},
		MemoriesToUpsert:  []types.MemoryUpsert{},
		ArchiveCandidates: result.ArchiveCandidates,
		SkipReason:        result.SkipReason,
	}

	for _, update := range result.ProfileUpdates {
		if update.Confidence >= s.minConfidence {
			filtered.ProfileUpdates = append(filtered.ProfileUpdates, update)
		}
	}
	for _, upsert := range result.MemoriesToUpsert {
		if upsert.Importance >= s.minConfidence {
			filtered.MemoriesToUpsert = append(filtered.MemoriesToUpsert, upsert)
		}
	}
	return filtered
}

// SearchSimilarMemories is a retrieval passthrough for callers that
// already hold a query vector.
func (s *Service) SearchSimilarMemories(ctx context.Context, userID string, query []float32, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	return s.store.SearchSimilar(ctx, userID, query, opts)
}

// GetProfiles returns the user's active profile memories.
func (s *Service) GetProfiles(ctx context.Context, userID string) ([]*types.Memory, error) {
	return s.store.FindProfiles(ctx, userID)
}

// TouchMemories records usage of the given memories.
func (s *Service) TouchMemories(ctx context.Context, ids []string) error {
	return s.store.TouchMany(ctx, ids)
}

// BackfillEmbeddings generates missing embeddings for a user.
func (s *Service) BackfillEmbeddings(ctx context.Context, userID string) (int, error) {
	return s.handler.BackfillEmbeddings(ctx, userID)
}
