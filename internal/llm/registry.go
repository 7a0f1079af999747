package llm

import (
	"fmt"
	"sync"

	"github.com/dataalchemy/alchemy/internal/errors"
)

// modelState is the per-model rotation and client cache.
type modelState struct {
	config   ModelConfig
	nextKey  int
	clients  map[string]*Client
	breakers map[string]*errors.CircuitBreaker
}

// Registry maps model names to their configs, rotates API keys round-robin
// per request, and caches one client per (model, key) pair. Each key gets
// its own circuit breaker so a dead key stops being tried while the others
// keep serving.
type Registry struct {
	mu     sync.Mutex
	models map[string]*modelState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*modelState)}
}

// Register adds or replaces a model.
func (r *Registry) Register(cfg ModelConfig) error {
	if cfg.Name == "" {
		return errors.ValidationError("model name is required", nil)
	}
	if cfg.Type == "" {
		cfg.Type = ModelAPI
	}
	if cfg.Type == ModelAPI {
		if cfg.APIBase == "" {
			return errors.New(errors.ErrCodeModelMissing,
				fmt.Sprintf("model %s has no api_base", cfg.Name), nil)
		}
		if len(cfg.APIKeys) == 0 {
			// A single empty key still rotates; local gateways need none.
			cfg.APIKeys = []string{""}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[cfg.Name] = &modelState{
		config:   cfg,
		clients:  make(map[string]*Client),
		breakers: make(map[string]*errors.CircuitBreaker),
	}
	return nil
}

// Models returns the registered model names.
func (r *Registry) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// Acquire returns a client for the model's next key in rotation, together
// with that key's circuit breaker.
func (r *Registry) Acquire(model string) (*Client, *errors.CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.models[model]
	if !ok {
		return nil, nil, errors.New(errors.ErrCodeModelMissing,
			fmt.Sprintf("model %s is not registered", model), nil)
	}
	if state.config.Type == ModelLocal {
		return nil, nil, errors.New(errors.ErrCodeModelMissing,
			fmt.Sprintf("local model %s is not supported", model), nil)
	}

	key := state.config.APIKeys[state.nextKey%len(state.config.APIKeys)]
	state.nextKey++

	client, ok := state.clients[key]
	if !ok {
		client = NewClient(state.config, key)
		state.clients[key] = client
	}

	breaker, ok := state.breakers[key]
	if !ok {
		breaker = errors.NewCircuitBreaker(model + "/" + shortKey(key))
		state.breakers[key] = breaker
	}

	return client, breaker, nil
}

// shortKey truncates an API key for use in breaker names and logs.
func shortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

// Close closes every cached client.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.models {
		for _, c := range state.clients {
			_ = c.Close()
		}
	}
	return nil
}
