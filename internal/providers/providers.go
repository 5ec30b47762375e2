// Package providers wires concrete LLM providers from configuration. All
// construction happens through an explicit Registry so tests can install
// fakes and tear them down without touching package state.
package providers

import (
	"fmt"
	"log"
	"sync"

	"github.com/speculo/speculo/internal/config"
	"github.com/speculo/speculo/internal/llm"
)

// Registry holds the constructed providers for a single server instance.
// A nil provider means the corresponding feature is disabled.
type Registry struct {
	mu       sync.RWMutex
	chat     llm.ChatProvider
	embedder llm.EmbeddingProvider
}

// NewRegistry constructs providers from configuration. Unknown provider
// names are an error; empty names disable the feature and log a notice.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	r := &Registry{}

	switch cfg.ChatProvider {
	case "ollama":
		r.chat = llm.NewOllamaChatProvider(llm.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaChatModel,
		})
	case "":
		log.Printf("providers: chat provider disabled, memory extraction will be skipped")
	default:
		return nil, fmt.Errorf("providers: unknown chat provider %q", cfg.ChatProvider)
	}

	switch cfg.EmbeddingProvider {
	case "ollama":
		r.embedder = llm.NewOllamaEmbeddingProvider(llm.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbedModel,
		})
	case "":
		log.Printf("providers: embedding provider disabled, semantic search will fall back to profiles only")
	default:
		return nil, fmt.Errorf("providers: unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	return r, nil
}

// Chat returns the configured chat provider, or nil when disabled.
func (r *Registry) Chat() llm.ChatProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chat
}

// Embedder returns the configured embedding provider, or nil when disabled.
func (r *Registry) Embedder() llm.EmbeddingProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder
}

// SetChat replaces the chat provider. Intended for tests.
func (r *Registry) SetChat(p llm.ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = p
}

// SetEmbedder replaces the embedding provider. Intended for tests.
func (r *Registry) SetEmbedder(p llm.EmbeddingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder = p
}

// Reset clears both providers.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = nil
	r.embedder = nil
}
