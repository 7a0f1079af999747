// Package config loads alchemy configuration from YAML, a .env file, and
// environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/task"
)

// Config is the complete alchemy configuration.
type Config struct {
	// WorkDir is the workspace root holding task directories and the index.
	WorkDir string `yaml:"work_dir"`

	// DBPath overrides the default per-iteration store location. Empty means
	// the standard task layout decides.
	DBPath string `yaml:"db_path"`

	// Offline switches embeddings to the deterministic hash embedder.
	Offline bool `yaml:"offline"`

	Models  ModelsConfig  `yaml:"models"`
	Vector  VectorConfig  `yaml:"vector"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelsConfig configures the LLM and embedding endpoints.
type ModelsConfig struct {
	// APIBase is the OpenAI-compatible chat completions base URL.
	APIBase string `yaml:"api_base"`

	// APIKeys are rotated round-robin per request.
	APIKeys []string `yaml:"api_keys"`

	// Generator handles intent extraction and follow-up queries.
	Generator string `yaml:"generator"`

	// Reasoning handles artifact generation (streaming with
	// reasoning_content deltas).
	Reasoning string `yaml:"reasoning"`

	// Embedding identifies the embedding model.
	Embedding string `yaml:"embedding"`

	// EmbeddingAPIBase defaults to APIBase when empty.
	EmbeddingAPIBase string `yaml:"embedding_api_base"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	// Backend is "flat" (exact, default) or "hnsw".
	Backend string `yaml:"backend"`
}

// LoggingConfig configures the rotating JSON log.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WorkDir: ".",
		Models: ModelsConfig{
			Generator: "deepseek-chat",
			Reasoning: "deepseek-reasoner",
			Embedding: "text-embedding-3-small",
		},
		Vector: VectorConfig{Backend: "flat"},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional when path is empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("cannot read config %s", path), err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("cannot parse config %s", path), err)
		}
	}

	// .env never overrides variables already exported.
	_ = godotenv.Load()

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays the recognized environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Models.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("LLM_API_BASE"); v != "" {
		cfg.Models.APIBase = v
	}
	if v := os.Getenv("GENERATOR_MODEL"); v != "" {
		cfg.Models.Generator = v
	}
	if v := os.Getenv("REASONING_MODEL"); v != "" {
		cfg.Models.Reasoning = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Models.Embedding = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
}

// splitKeys parses a comma-separated key list, dropping empties.
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// TaskLayout resolves a task's directory layout, honoring the DB_PATH
// storage override.
func (c *Config) TaskLayout(alchemyID string) task.Layout {
	return task.NewLayout(c.WorkDir, alchemyID).WithDataRoot(c.DBPath)
}

// EmbeddingBase returns the embedding endpoint, defaulting to the chat
// endpoint.
func (c *Config) EmbeddingBase() string {
	if c.Models.EmbeddingAPIBase != "" {
		return c.Models.EmbeddingAPIBase
	}
	return c.Models.APIBase
}

// LogDir is where the rotating log lives.
func (c *Config) LogDir() string {
	return filepath.Join(c.WorkDir, ".alchemy", "logs")
}

// ValidateForLLM checks that online pipeline runs have a usable model
// endpoint. Offline mode needs none.
func (c *Config) ValidateForLLM() error {
	if c.Models.APIBase == "" {
		return errors.New(errors.ErrCodeConfigInvalid,
			"no LLM endpoint configured, set LLM_API_BASE or models.api_base", nil)
	}
	if len(c.Models.APIKeys) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid,
			"no API key configured, set LLM_API_KEY or models.api_keys", nil)
	}
	if c.Models.Generator == "" || c.Models.Reasoning == "" {
		return errors.New(errors.ErrCodeConfigInvalid,
			"generator and reasoning models must be configured", nil)
	}
	return nil
}
