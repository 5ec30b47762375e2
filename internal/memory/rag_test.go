package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/pkg/types"
)

func seedMemory(t *testing.T, store storage.MemoryStore, userID string, kind types.MemoryKind, title string, vec []float32) *types.Memory {
	t.Helper()
	mem, err := store.Create(context.Background(), storage.CreateMemoryInput{
		UserID: userID, Kind: kind, Title: title, Content: "content of " + title,
	})
	require.NoError(t, err)
	if vec != nil {
		require.NoError(t, store.SaveEmbedding(context.Background(), mem.ID, vec, "fake-embed", len(vec)))
	}
	return mem
}

func TestRetrieve_ProfilesAlwaysIncluded(t *testing.T) {
	store := newTestStore(t)
	rag := NewRAGService(store, &fakeEmbedder{})
	ctx := context.Background()

	profile := seedMemory(t, store, "u1", types.KindProfile, "name", nil)

	// No embedded memories at all; profiles still come back.
	result, err := rag.Retrieve(ctx, "u1", "completely unrelated input", DefaultRAGConfig())
	require.NoError(t, err)
	require.Len(t, result.Profiles, 1)
	assert.Equal(t, profile.ID, result.Profiles[0].ID)
	assert.Contains(t, result.UsedMemoryIDs, profile.ID)
	assert.Empty(t, result.RetrievedMemories)
}

func TestRetrieve_PoolsDeduplicatesAndTruncates(t *testing.T) {
	store := newTestStore(t)
	rag := NewRAGService(store, &fakeEmbedder{})
	ctx := context.Background()

	// fakeEmbedder returns {len(text), 1, 0}; aligned vectors score high.
	for i := 0; i < 6; i++ {
		seedMemory(t, store, "u1", types.KindEpisode, "episode-"+string(rune('a'+i)), []float32{40, 1, 0})
	}
	for i := 0; i < 6; i++ {
		seedMemory(t, store, "u1", types.KindKnowledge, "knowledge-"+string(rune('a'+i)), []float32{40, 1, 0})
	}

	cfg := DefaultRAGConfig()
	cfg.TopK = 8
	result, err := rag.Retrieve(ctx, "u1", "what did I do", cfg)
	require.NoError(t, err)

	assert.Len(t, result.RetrievedMemories, 8, "global top-K, not per-kind")

	seen := map[string]bool{}
	for _, match := range result.RetrievedMemories {
		assert.False(t, seen[match.Memory.ID], "no duplicate IDs")
		seen[match.Memory.ID] = true
	}

	for i := 1; i < len(result.RetrievedMemories); i++ {
		assert.GreaterOrEqual(t,
			result.RetrievedMemories[i-1].Similarity,
			result.RetrievedMemories[i].Similarity,
			"descending similarity")
	}
}

func TestRetrieve_NilEmbedderDegradesToProfiles(t *testing.T) {
	store := newTestStore(t)
	rag := NewRAGService(store, nil)
	ctx := context.Background()

	seedMemory(t, store, "u1", types.KindProfile, "name", nil)
	seedMemory(t, store, "u1", types.KindEpisode, "episode", []float32{1, 1, 0})

	result, err := rag.Retrieve(ctx, "u1", "anything", DefaultRAGConfig())
	require.NoError(t, err)
	assert.Len(t, result.Profiles, 1)
	assert.Empty(t, result.RetrievedMemories)
}

func TestRetrieve_KindTogglesRespected(t *testing.T) {
	store := newTestStore(t)
	rag := NewRAGService(store, &fakeEmbedder{})
	ctx := context.Background()

	episode := seedMemory(t, store, "u1", types.KindEpisode, "episode", []float32{40, 1, 0})
	seedMemory(t, store, "u1", types.KindKnowledge, "knowledge", []float32{40, 1, 0})

	cfg := DefaultRAGConfig()
	cfg.IncludeProfiles = false
	cfg.IncludeKnowledge = false
	result, err := rag.Retrieve(ctx, "u1", "what did I do today", cfg)
	require.NoError(t, err)

	require.Len(t, result.RetrievedMemories, 1)
	assert.Equal(t, episode.ID, result.RetrievedMemories[0].Memory.ID)
	assert.Empty(t, result.Profiles)
}

func TestFormatContext_SectionsAndLabels(t *testing.T) {
	rag := NewRAGService(nil, nil)
	now := time.Now()

	formatted := rag.FormatContext(&RAGContext{
		Profiles: []*types.Memory{
			{Title: "name", Content: "Alex", CreatedAt: now},
		},
		RetrievedMemories: []storage.SearchResult{
			{Memory: &types.Memory{Kind: types.KindEpisode, Title: "Trip", Content: "Kyoto"}, Similarity: 0.9},
			{Memory: &types.Memory{Kind: types.KindKnowledge, Title: "Stack", Content: "Go"}, Similarity: 0.5},
		},
	})

	assert.Contains(t, formatted, "[User Profile]")
	assert.Contains(t, formatted, "- name: Alex")
	assert.Contains(t, formatted, "[Related Information]")
	assert.Contains(t, formatted, "[Important] (Recent) Trip: Kyoto", "episodes above 0.7 flagged")
	assert.Contains(t, formatted, "(Note) Stack: Go")
	assert.NotContains(t, formatted, "[Important] (Note) Stack", "0.5 is not important")
}

func TestFormatContext_EmptySectionsOmitted(t *testing.T) {
	rag := NewRAGService(nil, nil)

	assert.Equal(t, "", rag.FormatContext(&RAGContext{}))

	onlyProfiles := rag.FormatContext(&RAGContext{
		Profiles: []*types.Memory{{Title: "name", Content: "Alex"}},
	})
	assert.True(t, strings.HasPrefix(onlyProfiles, "[User Profile]"))
	assert.NotContains(t, onlyProfiles, "[Related Information]")
}

func TestSimpleContext(t *testing.T) {
	store := newTestStore(t)
	rag := NewRAGService(store, nil)
	ctx := context.Background()

	got, err := rag.SimpleContext(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "", got, "no profiles means no context block")

	seedMemory(t, store, "u1", types.KindProfile, "name", nil)
	got, err = rag.SimpleContext(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, got, "[User Profile]")
	assert.Contains(t, got, "- name: content of name")
}
