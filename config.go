package mizan

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the mizan service.
type Config struct {
	// DatabaseURL is the relational store DSN. For SQLite this is the
	// database file path. Defaults to mizan.db in the working directory.
	DatabaseURL string `json:"database_url"`

	// Graph backend connection.
	GraphURI      string `json:"graph_uri"`
	GraphUser     string `json:"graph_user"`
	GraphPassword string `json:"graph_password"`
	GraphDatabase string `json:"graph_database"`

	// Generative model endpoint.
	GenModel   LLMConfig `json:"gen_model"`
	Embedding  LLMConfig `json:"embedding"`

	// EmbedModelPriority is the ordered list of embedding models to try at
	// start-up. If none initialise, the local hash fallback is installed.
	EmbedModelPriority []string `json:"embed_model_priority"`

	// ExtractMinInterval is the hard floor between consecutive extract-mode
	// model calls, shared across all sessions.
	ExtractMinInterval time.Duration `json:"extract_min_interval"`

	// Limits.
	MaxUploadBytes     int64 `json:"max_upload_bytes"`
	MaxMessageChars    int   `json:"max_message_chars"`
	HistoryTokenBudget int   `json:"history_token_budget"`
}

// LLMConfig configures a single model endpoint.
type LLMConfig struct {
	Provider string `json:"provider"` // openai, groq, openrouter, ollama, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		DatabaseURL: "mizan.db",
		GraphURI:    "postgres://localhost:5432",
		GenModel: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com",
		},
		EmbedModelPriority: []string{"text-embedding-3-small"},
		ExtractMinInterval: 4 * time.Second,
		MaxUploadBytes:     25 << 20,
		MaxMessageChars:    8000,
		HistoryTokenBudget: 2000,
	}
}

// FromEnv overlays environment variables onto the config. Unset variables
// leave the existing values untouched.
func (c *Config) FromEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("GRAPH_URI"); v != "" {
		c.GraphURI = v
	}
	if v := os.Getenv("GRAPH_USER"); v != "" {
		c.GraphUser = v
	}
	if v := os.Getenv("GRAPH_PASSWORD"); v != "" {
		c.GraphPassword = v
	}
	if v := os.Getenv("GRAPH_DATABASE"); v != "" {
		c.GraphDatabase = v
	}
	if v := os.Getenv("GEN_MODEL_KEY"); v != "" {
		c.GenModel.APIKey = v
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("GEN_MODEL"); v != "" {
		c.GenModel.Model = v
	}
	if v := os.Getenv("GEN_MODEL_BASE_URL"); v != "" {
		c.GenModel.BaseURL = v
	}
	if v := os.Getenv("GEN_MODEL_PROVIDER"); v != "" {
		c.GenModel.Provider = v
	}
	if v := os.Getenv("EMBED_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBED_MODEL_PRIORITY"); v != "" {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		c.EmbedModelPriority = models
	}
	if v := os.Getenv("GEN_EXTRACT_MIN_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.ExtractMinInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("MAX_MESSAGE_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxMessageChars = n
		}
	}
	if v := os.Getenv("HISTORY_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HistoryTokenBudget = n
		}
	}
}
