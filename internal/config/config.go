// Package config provides configuration management for Speculo. Settings
// load from environment variables with the SPECULO_ prefix, with sensible
// defaults for every option. User settings persist in the user_settings
// table and take precedence over environment variables.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the Speculo server.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	LLM     LLMConfig
	Memory  MemoryConfig
	Avatar  AvatarConfig
	Backup  BackupConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 7171)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	SQLitePath  string // SQLite database path (default: ./data/speculo.db)
	PostgresDSN string // PostgreSQL connection string (used when Engine is postgres)
}

// LLMConfig contains provider configuration. Empty provider names disable
// the corresponding feature (extraction / embeddings) rather than erroring.
type LLMConfig struct {
	ChatProvider      string // Chat provider: ollama or "" to disable extraction (default: ollama)
	EmbeddingProvider string // Embedding provider: ollama or "" to disable embeddings (default: ollama)
	OllamaURL         string // Ollama API URL (default: http://localhost:11434)
	OllamaChatModel   string // Chat model for extraction (default: qwen2.5:7b)
	OllamaEmbedModel  string // Embedding model (default: bge-m3)
}

// MemoryConfig tunes the memory subsystem.
type MemoryConfig struct {
	MinConfidence float64 // Extraction confidence floor (default: 0.5)
	AutoExtract   bool    // Run extraction after conversation turns (default: true)
	RAGTopK       int     // Retrieval result cap (default: 8)
	RAGThreshold  float64 // Retrieval similarity floor (default: 0.3)
	PromptsPath   string  // Optional YAML file overriding the extraction prompt
}

// AvatarConfig tunes the avatar event surface.
type AvatarConfig struct {
	InitialState string // Starting state name (default: IDLE)
}

// BackupConfig controls periodic SQLite snapshots. Only used when the
// storage engine is sqlite.
type BackupConfig struct {
	Enabled       bool   // Take periodic snapshots (default: true)
	Dir           string // Snapshot directory (default: ./data/snapshots)
	IntervalHours int    // Hours between snapshots (default: 6)
	Keep          int    // Snapshots to retain (default: 14)
}

// Load builds configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SPECULO_PORT", 7171),
			Host: getEnv("SPECULO_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Engine:      getEnv("SPECULO_STORAGE_ENGINE", "sqlite"),
			SQLitePath:  getEnv("SPECULO_SQLITE_PATH", "./data/speculo.db"),
			PostgresDSN: getEnv("SPECULO_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			ChatProvider:      getEnv("SPECULO_CHAT_PROVIDER", "ollama"),
			EmbeddingProvider: getEnv("SPECULO_EMBEDDING_PROVIDER", "ollama"),
			OllamaURL:         getEnv("SPECULO_OLLAMA_URL", "http://localhost:11434"),
			OllamaChatModel:   getEnv("SPECULO_OLLAMA_CHAT_MODEL", "qwen2.5:7b"),
			OllamaEmbedModel:  getEnv("SPECULO_OLLAMA_EMBED_MODEL", "bge-m3"),
		},
		Memory: MemoryConfig{
			MinConfidence: getEnvFloat("SPECULO_MEMORY_MIN_CONFIDENCE", 0.5),
			AutoExtract:   getEnvBool("SPECULO_MEMORY_AUTO_EXTRACT", true),
			RAGTopK:       getEnvInt("SPECULO_RAG_TOP_K", 8),
			RAGThreshold:  getEnvFloat("SPECULO_RAG_THRESHOLD", 0.3),
			PromptsPath:   getEnv("SPECULO_MEMORY_PROMPTS", "./config/memory.yaml"),
		},
		Avatar: AvatarConfig{
			InitialState: getEnv("SPECULO_AVATAR_INITIAL_STATE", "IDLE"),
		},
		Backup: BackupConfig{
			Enabled:       getEnvBool("SPECULO_BACKUP_ENABLED", true),
			Dir:           getEnv("SPECULO_BACKUP_DIR", "./data/snapshots"),
			IntervalHours: getEnvInt("SPECULO_BACKUP_INTERVAL_HOURS", 6),
			Keep:          getEnvInt("SPECULO_BACKUP_KEEP", 14),
		},
	}
}

// GetSetting retrieves a per-user setting from the user_settings table.
// Returns sql.ErrNoRows wrapped when the key does not exist.
func GetSetting(db *sql.DB, userID, key string) (string, error) {
	if db == nil {
		return "", errors.New("config: database connection is required")
	}
	var value string
	err := db.QueryRow(
		`SELECT value FROM user_settings WHERE user_id = ? AND key = ?`,
		userID, key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("config: failed to read setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a per-user setting with upsert semantics. The user row
// is created on first write, matching how the memory store treats unknown
// users.
func SetSetting(db *sql.DB, userID, key, value string) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO users (id) VALUES (?)`, userID); err != nil {
		return fmt.Errorf("config: failed to ensure user: %w", err)
	}
	_, err := db.Exec(`
		INSERT INTO user_settings (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		userID, key, value)
	if err != nil {
		return fmt.Errorf("config: failed to save setting %q: %w", key, err)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparsable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value when unset or unparsable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value when unset or unparsable.
func getEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
		return true
	case "false", "0", "no", "False", "FALSE", "No", "NO":
		return false
	}
	return defaultValue
}
