// Package server provides HTTP server initialization and lifecycle
// management for the Speculo API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/speculo/speculo/internal/avatar"
	"github.com/speculo/speculo/internal/config"
	"github.com/speculo/speculo/internal/memory"
	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/web/handlers"
)

// Deps carries the constructed services the server exposes.
type Deps struct {
	Store   storage.MemoryStore
	Service *memory.Service
	RAG     *memory.RAGService
	RAGCfg  memory.RAGConfig
	Machine *avatar.Machine
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. Returns the actual address
// being listened on (useful for testing with port 0) and the WebSocketHub.
// The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, *handlers.WebSocketHub) {
	mux := http.NewServeMux()

	wsHub := handlers.NewWebSocketHub(deps.Machine)
	go wsHub.Run()

	// State changes flow back out so every display stays in sync.
	if deps.Machine != nil {
		deps.Machine.Subscribe(func(state avatar.State, _ avatar.Context, previous avatar.State) {
			wsHub.Broadcast(avatar.StateChangeBroadcast(state, previous))
		})
	}

	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	memoryHandlers := handlers.NewMemoryHandlers(deps.Store, deps.Service, deps.RAG, deps.RAGCfg)
	avatarHandlers := handlers.NewAvatarHandlers(deps.Machine)

	mux.HandleFunc("/api/memories", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			memoryHandlers.ListMemories(w, r)
		case http.MethodPost:
			memoryHandlers.CreateMemory(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/memories/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			memoryHandlers.GetMemory(w, r)
		case http.MethodPut, http.MethodPatch:
			memoryHandlers.UpdateMemory(w, r)
		case http.MethodDelete:
			memoryHandlers.DeleteMemory(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/profiles", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			memoryHandlers.GetProfiles(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/conversation", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			memoryHandlers.ProcessConversation(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/context", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			memoryHandlers.GetContext(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/embeddings/backfill", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			memoryHandlers.BackfillEmbeddings(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/avatar/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			avatarHandlers.GetState(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/avatar/event", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			avatarHandlers.DispatchEvent(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/avatar/force", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			avatarHandlers.ForceState(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Health endpoint, used by monitoring.
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// WebSocket endpoint for displays and the control panel.
	mux.Handle("/ws", wsHub)

	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub
}
