// Package embed generates fixed-dimension float vectors from text.
// The default backend is an OpenAI-compatible embeddings HTTP API; a
// deterministic hash-based embedder is available for offline use and tests.
package embed

import (
	"context"
	"time"
)

// Embedder generates embeddings from text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// Defaults for the API embedder.
const (
	DefaultBatchSize  = 32
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultPoolSize   = 4

	// StaticDimensions is the dimension of the hash-based fallback embedder.
	StaticDimensions = 256
)

// APIConfig configures the OpenAI-compatible embeddings client.
type APIConfig struct {
	// BaseURL is the API base, e.g. "https://api.example.com/v1".
	BaseURL string

	// APIKey authenticates requests. Optional for local gateways.
	APIKey string

	// Model is the embedding model identifier.
	Model string

	// Dimensions is the expected vector dimension. 0 means auto-detect
	// from the first response.
	Dimensions int

	// BatchSize bounds texts per request.
	BatchSize int

	// Timeout is the per-request deadline.
	Timeout time.Duration

	// MaxRetries bounds retry attempts per request.
	MaxRetries int

	// PoolSize bounds idle HTTP connections.
	PoolSize int
}
