// Package llm defines the narrow provider interfaces the memory core
// depends on, plus the Ollama implementations used by default. Providers
// are optional collaborators: callers treat a nil provider as a disabled
// feature, not an error.
package llm

import (
	"context"
	"errors"
)

// ErrNotInitialized is returned by Dimensions before the first successful
// embedding call has established the model's dimensionality.
var ErrNotInitialized = errors.New("embedding dimensions not initialized: call Embed first")

// ChatMessage is a single turn in a chat request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatRequest parameterises one chat completion call.
type ChatRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the provider's reply.
type ChatResponse struct {
	Content      string
	FinishReason string
}

// ChatProvider is the LLM surface the extractor consumes.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ModelName() string
}

// EmbeddingResult is one embedded text.
type EmbeddingResult struct {
	Vector []float32
	Model  string
	Dims   int
}

// EmbeddingProvider turns text into vectors. Dimensions is lazily
// initialized by the first successful Embed/EmbedBatch call and returns
// ErrNotInitialized before that.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error)
	ModelName() string
	Dimensions() (int, error)
}
