// Package config provides application configuration management using koanf
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"docchat-rag-llm/internal/ragerr"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Storage      StorageConfig      `koanf:"storage"`
	Chunking     ChunkingConfig     `koanf:"chunking"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Conversation ConversationConfig `koanf:"conversation"`
	Services     ServicesConfig     `koanf:"services"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// StorageConfig holds vector store configuration. The distance metric is
// fixed per deployment; vectors queried under one metric are never compared
// under another.
type StorageConfig struct {
	Path   string `koanf:"path"`
	Metric string `koanf:"metric"` // "cosine" or "l2"
}

// ChunkingConfig controls how documents are split before embedding.
type ChunkingConfig struct {
	ChunkSize         int `koanf:"chunk_size"`         // runes per chunk
	Overlap           int `koanf:"overlap"`            // runes shared between adjacent chunks
	BoundaryTolerance int `koanf:"boundary_tolerance"` // how far back to look for a sentence break
}

// RetrievalConfig bounds similarity search.
type RetrievalConfig struct {
	TopK          int     `koanf:"top_k"`
	MinSimilarity float64 `koanf:"min_similarity"`
}

// ConversationConfig bounds prompt assembly.
type ConversationConfig struct {
	MaxContextChars int `koanf:"max_context_chars"`
	HistoryWindow   int `koanf:"history_window"` // turns considered when rewriting follow-ups
}

// ServicesConfig holds external service configuration
type ServicesConfig struct {
	Provider     string       `koanf:"provider"` // "ollama" or "openai"
	Ollama       OllamaConfig `koanf:"ollama"`
	OpenAI       OpenAIConfig `koanf:"openai"`
	MaxBatchSize int          `koanf:"max_batch_size"`
	MaxRetries   int          `koanf:"max_retries"`
	RetryDelayMS int          `koanf:"retry_delay_ms"`
}

// OllamaConfig holds Ollama service configuration
type OllamaConfig struct {
	BaseURL        string `koanf:"base_url"`
	EmbeddingModel string `koanf:"embedding_model"`
	LLMModel       string `koanf:"llm_model"`
	Timeout        int    `koanf:"timeout"` // seconds
}

// OpenAIConfig holds OpenAI-compatible service configuration
type OpenAIConfig struct {
	APIKey         string `koanf:"api_key"`
	EmbeddingModel string `koanf:"embedding_model"`
	ChatModel      string `koanf:"chat_model"`
}

// Load loads configuration from multiple sources with precedence:
// 1. config.yaml (if exists)
// 2. config.json (if exists)
// 3. Environment variables (highest precedence)
func Load() (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	loadConfigFiles(k)

	if err := k.Load(env.Provider(".", env.Opt{}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		// Server defaults
		"server.host":          "localhost",
		"server.port":          8080,
		"server.read_timeout":  30,
		"server.write_timeout": 60,

		// Storage defaults
		"storage.path":   "docchat.db",
		"storage.metric": "cosine",

		// Chunking defaults match the common 1000/200 splitter settings
		"chunking.chunk_size":         1000,
		"chunking.overlap":            200,
		"chunking.boundary_tolerance": 200,

		// Retrieval defaults
		"retrieval.top_k":          5,
		"retrieval.min_similarity": 0.0,

		// Conversation defaults
		"conversation.max_context_chars": 6000,
		"conversation.history_window":    6,

		// Services defaults
		"services.provider":               "ollama",
		"services.ollama.base_url":        "http://localhost:11434",
		"services.ollama.embedding_model": "nomic-embed-text",
		"services.ollama.llm_model":       "llama3",
		"services.ollama.timeout":         60,
		"services.openai.embedding_model": "text-embedding-3-small",
		"services.openai.chat_model":      "gpt-4o-mini",
		"services.max_batch_size":         64,
		"services.max_retries":            3,
		"services.retry_delay_ms":         500,
	}

	for key, value := range defaults {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files
func loadConfigFiles(k *koanf.Koanf) {
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			log.Printf("Warning: failed to load config.yaml: %v", err)
		}
	}

	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			log.Printf("Warning: failed to load config.json: %v", err)
		}
	}
}

// Validate checks the configuration. Violations are configuration errors
// and are never retried.
func Validate(cfg *Config) error {
	if cfg.Chunking.ChunkSize <= 0 {
		return ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("chunk_size must be positive, got %d", cfg.Chunking.ChunkSize))
	}
	if cfg.Chunking.Overlap < 0 || cfg.Chunking.Overlap >= cfg.Chunking.ChunkSize {
		return ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("overlap must satisfy 0 <= overlap < chunk_size, got overlap=%d chunk_size=%d",
				cfg.Chunking.Overlap, cfg.Chunking.ChunkSize))
	}
	if cfg.Chunking.BoundaryTolerance < 0 {
		return ragerr.ErrConfiguration.WithMessage("boundary_tolerance must not be negative")
	}

	switch cfg.Storage.Metric {
	case "cosine", "l2":
	default:
		return ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("storage.metric must be \"cosine\" or \"l2\", got %q", cfg.Storage.Metric))
	}

	if cfg.Retrieval.TopK <= 0 {
		return ragerr.ErrConfiguration.WithMessage("retrieval.top_k must be positive")
	}
	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		return ragerr.ErrConfiguration.WithMessage("retrieval.min_similarity must be within [0, 1]")
	}

	if cfg.Conversation.MaxContextChars <= 0 {
		return ragerr.ErrConfiguration.WithMessage("conversation.max_context_chars must be positive")
	}
	if cfg.Conversation.HistoryWindow <= 0 {
		return ragerr.ErrConfiguration.WithMessage("conversation.history_window must be positive")
	}

	switch cfg.Services.Provider {
	case "ollama":
	case "openai":
		if cfg.Services.OpenAI.APIKey == "" {
			return ragerr.ErrConfiguration.WithMessage("services.openai.api_key is required when provider is openai")
		}
	default:
		return ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("services.provider must be \"ollama\" or \"openai\", got %q", cfg.Services.Provider))
	}
	if cfg.Services.MaxBatchSize <= 0 {
		return ragerr.ErrConfiguration.WithMessage("services.max_batch_size must be positive")
	}
	if cfg.Services.MaxRetries < 0 {
		return ragerr.ErrConfiguration.WithMessage("services.max_retries must not be negative")
	}

	return nil
}

// RetryDelay returns the base delay between external call retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Services.RetryDelayMS) * time.Millisecond
}

// OllamaTimeout returns the per-request timeout for Ollama calls.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Services.Ollama.Timeout) * time.Second
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
