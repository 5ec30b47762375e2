package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/pkg/types"
)

func TestProcess_ProfileCreateAndUpdate(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)
	ctx := context.Background()

	stats, err := handler.Process(ctx, "u1", &types.ExtractionResult{
		ProfileUpdates: []types.ProfileUpdate{
			{Key: "hobby", Value: "climbing", Confidence: 0.8},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProfilesUpdated)

	profiles, err := store.FindProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "hobby", profiles[0].Title)
	assert.Equal(t, "climbing", profiles[0].Content)
	assert.Equal(t, 0.8, profiles[0].Importance)

	// A second update with matching key (case-insensitive) replaces the
	// content in place instead of creating a duplicate.
	stats, err = handler.Process(ctx, "u1", &types.ExtractionResult{
		ProfileUpdates: []types.ProfileUpdate{
			{Key: "Hobby", Value: "bouldering", Confidence: 0.6},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProfilesUpdated)

	profiles, err = store.FindProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "bouldering", profiles[0].Content)
}

func TestProcess_ProfileImportanceNeverDecreases(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)
	ctx := context.Background()

	_, err := handler.Process(ctx, "u1", &types.ExtractionResult{
		ProfileUpdates: []types.ProfileUpdate{{Key: "tone", Value: "casual", Confidence: 0.9}},
	})
	require.NoError(t, err)

	// A lower-confidence restatement keeps importance at 0.9.
	_, err = handler.Process(ctx, "u1", &types.ExtractionResult{
		ProfileUpdates: []types.ProfileUpdate{{Key: "tone", Value: "formal", Confidence: 0.6}},
	})
	require.NoError(t, err)

	profiles, err := store.FindProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "formal", profiles[0].Content, "content still replaced")
	assert.Equal(t, 0.9, profiles[0].Importance)

	// A higher-confidence update raises it.
	_, err = handler.Process(ctx, "u1", &types.ExtractionResult{
		ProfileUpdates: []types.ProfileUpdate{{Key: "tone", Value: "direct", Confidence: 0.95}},
	})
	require.NoError(t, err)

	profiles, err = store.FindProfiles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.95, profiles[0].Importance)
}

func TestProcess_ProfileConfidenceFloor(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)
	ctx := context.Background()

	stats, err := handler.Process(ctx, "u1", &types.ExtractionResult{
		ProfileUpdates: []types.ProfileUpdate{
			{Key: "below", Value: "x", Confidence: 0.49},
			{Key: "at", Value: "y", Confidence: 0.5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProfilesUpdated, "0.49 skipped, 0.5 applied")

	profiles, err := store.FindProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "at", profiles[0].Title)
}

func TestProcess_UpsertCreateAndUpdate(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)
	ctx := context.Background()

	stats, err := handler.Process(ctx, "u1", &types.ExtractionResult{
		MemoriesToUpsert: []types.MemoryUpsert{
			{Kind: types.KindEpisode, Title: "Trip", Content: "Went to Kyoto", Importance: 0.6},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesCreated)

	memories, err := store.FindMany(ctx, storage.MemoryFilter{UserID: "u1", Kind: types.KindEpisode}, 0)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	created := memories[0]
	assert.Equal(t, types.SourceExtracted, created.Source)

	stats, err = handler.Process(ctx, "u1", &types.ExtractionResult{
		MemoriesToUpsert: []types.MemoryUpsert{
			{
				Kind: types.KindEpisode, Title: "Trip", Content: "Went to Kyoto and Osaka",
				Importance: 0.7, ExistingMemoryID: created.ID,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesUpdated)
	assert.Equal(t, 0, stats.MemoriesCreated)

	got, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Went to Kyoto and Osaka", got.Content)
	assert.Equal(t, 0.7, got.Importance)
}

func TestProcess_UpsertMissingTargetSkipped(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)

	stats, err := handler.Process(context.Background(), "u1", &types.ExtractionResult{
		MemoriesToUpsert: []types.MemoryUpsert{
			{Kind: types.KindKnowledge, Title: "t", Content: "c", Importance: 0.5, ExistingMemoryID: "hallucinated"},
		},
	})
	require.NoError(t, err, "a hallucinated target ID is not fatal")
	assert.Equal(t, 0, stats.MemoriesUpdated)
	assert.Equal(t, 0, stats.MemoriesCreated)
}

func TestProcess_ArchiveIsSoft(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)
	ctx := context.Background()

	mem, err := store.Create(ctx, storage.CreateMemoryInput{
		UserID: "u1", Kind: types.KindKnowledge, Title: "Old job", Content: "Works at Acme",
	})
	require.NoError(t, err)

	stats, err := handler.Process(ctx, "u1", &types.ExtractionResult{
		ArchiveCandidates: []types.ArchiveCandidate{
			{MemoryID: mem.ID, Reason: "changed jobs"},
			{MemoryID: "stale-id", Reason: "ignored"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesArchived, "unknown IDs are skipped, not fatal")

	got, err := store.FindByID(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, got.Status, "archive never hard-deletes")
}

func TestProcess_GeneratesEmbeddings(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{}
	handler := NewHandler(store, embedder)
	ctx := context.Background()

	stats, err := handler.Process(ctx, "u1", &types.ExtractionResult{
		MemoriesToUpsert: []types.MemoryUpsert{
			{Kind: types.KindEpisode, Title: "A", Content: "c", Importance: 0.5},
			{Kind: types.KindKnowledge, Title: "B", Content: "c", Importance: 0.5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoriesCreated)
	assert.Equal(t, 2, stats.EmbeddingsGenerated)
	assert.Equal(t, 2, embedder.calls)

	missing, err := store.FindWithoutEmbedding(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestProcess_EmbeddingFailureDoesNotAbortBatch(t *testing.T) {
	store := newTestStore(t)
	embedder := &fakeEmbedder{failAfter: 1}
	handler := NewHandler(store, embedder)

	stats, err := handler.Process(context.Background(), "u1", &types.ExtractionResult{
		MemoriesToUpsert: []types.MemoryUpsert{
			{Kind: types.KindEpisode, Title: "A", Content: "c", Importance: 0.5},
			{Kind: types.KindEpisode, Title: "B", Content: "c", Importance: 0.5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoriesCreated, "both memories persisted")
	assert.Equal(t, 1, stats.EmbeddingsGenerated, "only the successful embedding counted")
}

func TestBackfillEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		_, err := store.Create(ctx, storage.CreateMemoryInput{
			UserID: "u1", Kind: types.KindKnowledge, Title: title, Content: "c",
		})
		require.NoError(t, err)
	}

	handler := NewHandler(store, &fakeEmbedder{})
	count, err := handler.BackfillEmbeddings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	missing, err := store.FindWithoutEmbedding(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestBackfillEmbeddings_NilEmbedder(t *testing.T) {
	store := newTestStore(t)
	handler := NewHandler(store, nil)

	count, err := handler.BackfillEmbeddings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
