package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// OllamaConfig holds shared Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434).
	BaseURL string

	// Model is the model name (chat default: qwen2.5:7b, embeddings
	// default: bge-m3).
	Model string

	// Timeout is the per-request timeout (default: 60s for chat, 30s for
	// embeddings).
	Timeout time.Duration
}

// chatRequest is the body for /api/chat.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatResponse is the body from /api/chat (non-streaming).
type chatResponse struct {
	Message    ChatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
}

// embedRequest is the body for /api/embed. Input accepts a string or an
// array of strings; the response embeddings field is always a 2D array.
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaChatProvider implements ChatProvider against Ollama's /api/chat
// endpoint with circuit breaker protection.
type OllamaChatProvider struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *CircuitBreaker
}

// NewOllamaChatProvider creates a chat provider with defaults applied.
func NewOllamaChatProvider(config OllamaConfig) *OllamaChatProvider {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OllamaChatProvider{
		baseURL: config.BaseURL,
		model:   config.Model,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: NewCircuitBreaker("ollama-chat"),
	}
}

// ModelName returns the configured chat model.
func (p *OllamaChatProvider) ModelName() string { return p.model }

// Chat sends a non-streaming chat completion request.
func (p *OllamaChatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	result, err := p.breaker.Execute(ctx, func() (interface{}, error) {
		return p.chat(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ChatResponse), nil
}

func (p *OllamaChatProvider) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := chatRequest{
		Model:    p.model,
		Messages: req.Messages,
		Stream:   false,
		Options: chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	var respData chatResponse
	if err := p.post(ctx, "/api/chat", body, &respData); err != nil {
		return nil, err
	}

	return &ChatResponse{
		Content:      respData.Message.Content,
		FinishReason: respData.DoneReason,
	}, nil
}

func (p *OllamaChatProvider) post(ctx context.Context, path string, body any, out any) error {
	return ollamaPost(ctx, p.client, p.baseURL+path, body, out)
}

// OllamaEmbeddingProvider implements EmbeddingProvider against Ollama's
// /api/embed endpoint. Dimensionality is discovered from the first
// successful call.
type OllamaEmbeddingProvider struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *CircuitBreaker

	mu   sync.RWMutex
	dims int // 0 until first successful embed
}

// NewOllamaEmbeddingProvider creates an embedding provider with defaults
// applied.
func NewOllamaEmbeddingProvider(config OllamaConfig) *OllamaEmbeddingProvider {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "bge-m3"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaEmbeddingProvider{
		baseURL: config.BaseURL,
		model:   config.Model,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: NewCircuitBreaker("ollama-embed"),
	}
}

// ModelName returns the configured embedding model.
func (p *OllamaEmbeddingProvider) ModelName() string { return p.model }

// Dimensions returns the embedding dimensionality once known. Before the
// first successful Embed or EmbedBatch it returns ErrNotInitialized rather
// than a stale zero value.
func (p *OllamaEmbeddingProvider) Dimensions() (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.dims == 0 {
		return 0, ErrNotInitialized
	}
	return p.dims, nil
}

// Embed generates an embedding for a single text.
func (p *OllamaEmbeddingProvider) Embed(ctx context.Context, text string) (*EmbeddingResult, error) {
	results, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (p *OllamaEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := p.breaker.Execute(ctx, func() (interface{}, error) {
		return p.embedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*EmbeddingResult), nil
}

func (p *OllamaEmbeddingProvider) embedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error) {
	var respData embedResponse
	err := ollamaPost(ctx, p.client, p.baseURL+"/api/embed", embedRequest{
		Model: p.model,
		Input: texts,
	}, &respData)
	if err != nil {
		return nil, err
	}

	if len(respData.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs",
			len(respData.Embeddings), len(texts))
	}

	dims := len(respData.Embeddings[0])
	if dims == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}

	p.mu.Lock()
	p.dims = dims
	p.mu.Unlock()

	results := make([]*EmbeddingResult, len(respData.Embeddings))
	for i, vec := range respData.Embeddings {
		results[i] = &EmbeddingResult{Vector: vec, Model: p.model, Dims: len(vec)}
	}
	return results, nil
}

// ollamaPost sends a JSON POST and decodes the JSON response.
func ollamaPost(ctx context.Context, client *http.Client, url string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
