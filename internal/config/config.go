package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all process configuration, populated from environment
// variables. main loads a .env file first, so every key can live there.
type Config struct {
	// Server
	Port     string
	DebugLog bool

	// Storage
	DataDir      string
	DatabasePath string

	// Auth: empty token disables bearer auth entirely.
	AuthToken string

	// Chat history persistence is off unless explicitly enabled.
	DisableChatSave bool

	// Embeddings (OpenAI-compatible endpoint; local Ollama by default)
	EmbedURL     string
	EmbedModel   string
	EmbedTimeout time.Duration

	// Memory
	MemoryTopK      int
	DedupeThreshold float64
}

// Load reads configuration from the environment.
func Load() *Config {
	dataDir := getEnv("ALFRED_DATA_DIR", ".")

	return &Config{
		Port:            getEnv("PORT", "3000"),
		DebugLog:        getEnv("DEBUG_LOG", "0") == "1",
		DataDir:         dataDir,
		DatabasePath:    getEnv("DATABASE_PATH", filepath.Join(dataDir, "alfred.db")),
		AuthToken:       getEnv("AUTH_TOKEN", ""),
		DisableChatSave: getEnv("DISABLE_CHAT_SAVE", "1") == "1",
		EmbedURL:        getEnv("EMBED_URL", "http://localhost:11434"),
		EmbedModel:      getEnv("EMBED_MODEL", "nomic-embed-text"),
		EmbedTimeout:    getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
		MemoryTopK:      getEnvInt("MEMORY_TOP_K", 5),
		DedupeThreshold: getEnvFloat("DEDUPE_THRESHOLD", 0.9),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
