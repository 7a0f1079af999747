package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoundRobinFairness(t *testing.T) {
	reg := NewRegistry()
	defer func() { _ = reg.Close() }()

	keys := []string{"key-a", "key-b", "key-c"}
	require.NoError(t, reg.Register(ModelConfig{
		Name:    "gen",
		Type:    ModelAPI,
		APIBase: "http://localhost:9999/v1",
		APIKeys: keys,
	}))

	const requests = 10
	counts := make(map[string]int)
	for i := 0; i < requests; i++ {
		client, _, err := reg.Acquire("gen")
		require.NoError(t, err)
		counts[client.apiKey]++
	}

	// 10 requests over 3 keys: each key gets 3 or 4
	floor, ceil := requests/len(keys), (requests+len(keys)-1)/len(keys)
	for _, key := range keys {
		assert.GreaterOrEqual(t, counts[key], floor, "key %s under-used", key)
		assert.LessOrEqual(t, counts[key], ceil, "key %s over-used", key)
	}
}

func TestRegistryClientCachedPerKey(t *testing.T) {
	reg := NewRegistry()
	defer func() { _ = reg.Close() }()

	require.NoError(t, reg.Register(ModelConfig{
		Name:    "gen",
		APIBase: "http://localhost:9999/v1",
		APIKeys: []string{"only-key"},
	}))

	c1, b1, err := reg.Acquire("gen")
	require.NoError(t, err)
	c2, b2, err := reg.Acquire("gen")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Same(t, b1, b2)
}

func TestRegistryUnknownModel(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Acquire("missing")
	assert.Error(t, err)
}

func TestRegistryLocalModelStubbed(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ModelConfig{Name: "llama", Type: ModelLocal}))

	_, _, err := reg.Acquire("llama")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(ModelConfig{}))
	assert.Error(t, reg.Register(ModelConfig{Name: "m", Type: ModelAPI}))
}
