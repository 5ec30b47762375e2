// Command speculo-server runs the Speculo memory and avatar service for a
// smart mirror deployment.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/speculo/speculo/internal/avatar"
	"github.com/speculo/speculo/internal/backup"
	"github.com/speculo/speculo/internal/config"
	"github.com/speculo/speculo/internal/memory"
	"github.com/speculo/speculo/internal/providers"
	"github.com/speculo/speculo/internal/server"
	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/internal/storage/postgres"
	"github.com/speculo/speculo/internal/storage/sqlite"
)

func main() {
	cfg := config.Load()

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	registry, err := providers.NewRegistry(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}

	prompts, err := memory.LoadPromptConfig(cfg.Memory.PromptsPath)
	if err != nil {
		log.Printf("Warning: failed to load prompt config %s: %v", cfg.Memory.PromptsPath, err)
	}

	service := memory.NewService(store, registry.Chat(), registry.Embedder(), memory.ServiceConfig{
		MinConfidence: cfg.Memory.MinConfidence,
		AutoExtract:   &cfg.Memory.AutoExtract,
		Prompts:       prompts,
	})

	ragCfg := memory.DefaultRAGConfig()
	ragCfg.TopK = cfg.Memory.RAGTopK
	ragCfg.Threshold = cfg.Memory.RAGThreshold
	rag := memory.NewRAGService(store, registry.Embedder())

	machine := avatar.NewMachine(avatar.State(cfg.Avatar.InitialState))
	if deadEnds := avatar.ValidateTransitionGraph(); len(deadEnds) > 0 {
		log.Fatalf("Avatar transition table has dead-end states: %v", deadEnds)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Backup.Enabled && cfg.Storage.Engine != "postgres" {
		snapshots, err := backup.NewService(backup.Config{
			DBPath:   cfg.Storage.SQLitePath,
			Dir:      cfg.Backup.Dir,
			Interval: time.Duration(cfg.Backup.IntervalHours) * time.Hour,
			Keep:     cfg.Backup.Keep,
		})
		if err != nil {
			log.Fatalf("Failed to initialize backup service: %v", err)
		}
		go snapshots.Run(ctx)
	}

	addr, _ := server.Start(ctx, cfg, server.Deps{
		Store:   store,
		Service: service,
		RAG:     rag,
		RAGCfg:  ragCfg,
		Machine: machine,
	})
	log.Printf("Speculo running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore builds the configured storage backend.
func openStore(cfg config.StorageConfig) (storage.MemoryStore, error) {
	switch cfg.Engine {
	case "postgres":
		return postgres.NewMemoryStore(cfg.PostgresDSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return sqlite.NewMemoryStore(cfg.SQLitePath)
	}
}
