// Package llm dispatches chat requests to OpenAI-compatible model
// providers: a model registry with round-robin API key rotation, a
// streaming reasoning protocol, and a persisted chat history.
package llm

import (
	"errors"
	"time"
)

// ErrKeyUnavailable is returned when the rotated key's circuit is open and
// the request was not attempted.
var ErrKeyUnavailable = errors.New("api key circuit is open")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat history entry.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Delta is one streamed chunk: reasoning and answer text arrive
// interleaved on the same stream.
type Delta struct {
	Reasoning string
	Content   string
}

// ModelType distinguishes hosted API models from local ones.
type ModelType string

const (
	ModelAPI   ModelType = "api"
	ModelLocal ModelType = "local"
)

// ModelConfig describes one registered model.
type ModelConfig struct {
	Name        string    `json:"name"`
	Type        ModelType `json:"model_type"`
	APIBase     string    `json:"api_base"`
	APIKeys     []string  `json:"api_keys"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Request defaults.
const (
	DefaultChatTimeout   = 5 * time.Minute
	DefaultChatRetries   = 3
	DefaultStreamTimeout = 15 * time.Minute
)
