package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootShowsHelp(t *testing.T) {
	out, err := execCLI(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "alchemy")
	assert.Contains(t, out, "Usage:")
}

func TestRootShowsVersion(t *testing.T) {
	out, err := execCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "alchemy version")
}

func TestRootHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"run", "resume", "ingest", "search", "serve", "tasks", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootHasPersistentFlags(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"config", "workdir", "debug", "plain"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}

func TestVersionCmdJSON(t *testing.T) {
	out, err := execCLI(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"go_version"`)
}

func TestRunRequiresInputOrTask(t *testing.T) {
	t.Setenv("LLM_API_BASE", "http://localhost:9/v1")
	t.Setenv("LLM_API_KEY", "k1")

	_, err := execCLI(t, "run", "some query", "--workdir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input directories")
}

func TestRunRequiresLLMConfig(t *testing.T) {
	t.Setenv("LLM_API_BASE", "")
	t.Setenv("LLM_API_KEY", "")

	_, err := execCLI(t, "run", "some query", "--workdir", t.TempDir())
	require.Error(t, err)
}
