package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speculo/speculo/internal/avatar"
	"github.com/speculo/speculo/internal/config"
	"github.com/speculo/speculo/internal/memory"
	"github.com/speculo/speculo/internal/storage/sqlite"
)

// startTestServer boots a server on an ephemeral port against an in-memory
// store with no LLM providers.
func startTestServer(t *testing.T) string {
	t.Helper()

	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	addr, _ := Start(ctx, cfg, Deps{
		Store:   store,
		Service: memory.NewService(store, nil, nil, memory.ServiceConfig{MinConfidence: 0.5}),
		RAG:     memory.NewRAGService(store, nil),
		RAGCfg:  memory.DefaultRAGConfig(),
		Machine: avatar.NewMachine(avatar.StateIdle),
	})

	// Give the listener goroutine a moment to accept.
	time.Sleep(50 * time.Millisecond)
	return addr
}

func TestServer_Health(t *testing.T) {
	addr := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestServer_SecurityHeaders(t *testing.T) {
	addr := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestServer_MemoryRoundTrip(t *testing.T) {
	addr := startTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"user_id": "alex",
		"kind":    "knowledge",
		"title":   "Coffee",
		"content": "Takes it black",
	})
	require.NoError(t, err)

	resp, err := http.Post(fmt.Sprintf("http://%s/api/memories", addr),
		"application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	getResp, err := http.Get(fmt.Sprintf("http://%s/api/memories/%s", addr, created.ID))
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	addr := startTestServer(t)

	resp, err := http.Post(fmt.Sprintf("http://%s/api/profiles", addr),
		"application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_AvatarDispatchOverHTTP(t *testing.T) {
	addr := startTestServer(t)

	payload := []byte(`{"type":"USER_DETECTED"}`)
	resp, err := http.Post(fmt.Sprintf("http://%s/api/avatar/event", addr),
		"application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state struct {
		State        string `json:"state"`
		Transitioned bool   `json:"transitioned"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state.Transitioned)
	assert.Equal(t, "AWARE", state.State)
}

func TestServer_ShutdownOnContextCancel(t *testing.T) {
	store, err := sqlite.NewMemoryStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	addr, _ := Start(ctx, cfg, Deps{
		Store:   store,
		Service: memory.NewService(store, nil, nil, memory.ServiceConfig{}),
		RAG:     memory.NewRAGService(store, nil),
		RAGCfg:  memory.DefaultRAGConfig(),
		Machine: avatar.NewMachine(avatar.StateIdle),
	})
	time.Sleep(50 * time.Millisecond)

	cancel()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
		if err != nil {
			return // server is down
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("server still serving after context cancellation")
}
