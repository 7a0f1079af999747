package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "flat", cfg.Vector.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Models.Generator)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("REASONING_MODEL", "")
	t.Setenv("WORK_DIR", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
work_dir: /data/alchemy
offline: true
models:
  api_base: https://api.example.com/v1
  api_keys: [k1, k2]
  generator: gen-model
vector:
  backend: hnsw
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/alchemy", cfg.WorkDir)
	assert.True(t, cfg.Offline)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Models.APIKeys)
	assert.Equal(t, "gen-model", cfg.Models.Generator)
	assert.Equal(t, "hnsw", cfg.Vector.Backend)
	// Unset YAML fields keep defaults
	assert.Equal(t, "deepseek-reasoner", cfg.Models.Reasoning)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  api_base: https://yaml.example.com
  api_keys: [yaml-key]
`), 0o644))

	t.Setenv("LLM_API_BASE", "https://env.example.com")
	t.Setenv("LLM_API_KEY", "k1, k2 ,k3,")
	t.Setenv("WORK_DIR", "/env/workdir")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Models.APIBase)
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.Models.APIKeys)
	assert.Equal(t, "/env/workdir", cfg.WorkDir)
}

func TestDBPathRelocatesTaskData(t *testing.T) {
	t.Setenv("DB_PATH", "/mnt/fast")
	t.Setenv("WORK_DIR", "/env/workdir")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/fast", cfg.DBPath)

	layout := cfg.TaskLayout("20260101_120000")
	assert.Equal(t, filepath.Join("/env/workdir", "alchemy_20260101_120000"), layout.Root)
	assert.Equal(t,
		filepath.Join("/mnt/fast", "alchemy_20260101_120000", "iter1", "unified_storage.db"),
		layout.StorePath(1))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEmbeddingBaseFallback(t *testing.T) {
	cfg := Default()
	cfg.Models.APIBase = "https://chat.example.com"
	assert.Equal(t, "https://chat.example.com", cfg.EmbeddingBase())

	cfg.Models.EmbeddingAPIBase = "https://embed.example.com"
	assert.Equal(t, "https://embed.example.com", cfg.EmbeddingBase())
}

func TestValidateForLLM(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.ValidateForLLM())

	cfg.Models.APIBase = "https://api.example.com"
	require.Error(t, cfg.ValidateForLLM())

	cfg.Models.APIKeys = []string{"k"}
	require.NoError(t, cfg.ValidateForLLM())
}
