package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/speculo/speculo/internal/llm"
	"github.com/speculo/speculo/internal/storage/sqlite"
)

// fakeChat returns a scripted response and records how often it was called.
type fakeChat struct {
	response string
	err      error
	calls    int
	lastReq  llm.ChatRequest
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.response}, nil
}

func (f *fakeChat) ModelName() string { return "fake-chat" }

// fakeEmbedder returns a fixed-dimension vector derived from text length.
// failAfter > 0 makes calls beyond that count fail.
type fakeEmbedder struct {
	err       error
	calls     int
	failAfter int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (*llm.EmbeddingResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, context.DeadlineExceeded
	}
	return &llm.EmbeddingResult{
		Vector: []float32{float32(len(text)), 1, 0},
		Model:  "fake-embed",
		Dims:   3,
	}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]*llm.EmbeddingResult, error) {
	out := make([]*llm.EmbeddingResult, 0, len(texts))
	for _, text := range texts {
		res, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

func (f *fakeEmbedder) Dimensions() (int, error) { return 3, nil }

func newTestStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
