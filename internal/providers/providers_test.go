package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speculo/speculo/internal/config"
	"github.com/speculo/speculo/internal/llm"
)

type stubChat struct{}

func (stubChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "{}"}, nil
}

func (stubChat) ModelName() string { return "stub" }

func TestNewRegistry_Ollama(t *testing.T) {
	r, err := NewRegistry(config.LLMConfig{
		ChatProvider:      "ollama",
		EmbeddingProvider: "ollama",
		OllamaChatModel:   "qwen2.5:7b",
		OllamaEmbedModel:  "bge-m3",
	})
	require.NoError(t, err)

	require.NotNil(t, r.Chat())
	require.NotNil(t, r.Embedder())
	assert.Equal(t, "qwen2.5:7b", r.Chat().ModelName())
	assert.Equal(t, "bge-m3", r.Embedder().ModelName())
}

func TestNewRegistry_EmptyNamesDisable(t *testing.T) {
	r, err := NewRegistry(config.LLMConfig{})
	require.NoError(t, err)

	assert.Nil(t, r.Chat())
	assert.Nil(t, r.Embedder())
}

func TestNewRegistry_UnknownProvider(t *testing.T) {
	_, err := NewRegistry(config.LLMConfig{ChatProvider: "gpt9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpt9")

	_, err = NewRegistry(config.LLMConfig{EmbeddingProvider: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestRegistry_SetAndReset(t *testing.T) {
	r, err := NewRegistry(config.LLMConfig{})
	require.NoError(t, err)

	r.SetChat(stubChat{})
	require.NotNil(t, r.Chat())
	assert.Equal(t, "stub", r.Chat().ModelName())

	r.Reset()
	assert.Nil(t, r.Chat())
	assert.Nil(t, r.Embedder())
}
