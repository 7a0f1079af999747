package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestCmdIntoExistingTask(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "machine learning fundamentals")

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "extra.txt"),
		[]byte("gradient descent convergence notes"), 0o644))

	out, err := execCLI(t, "ingest", "--task", "20260101_120000",
		"--input", src, "--offline", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 1/1 file(s)")

	// The new records are searchable alongside the original ones
	out, err = execCLI(t, "search", "gradient descent",
		"--task", "20260101_120000", "--offline", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "extra.txt")
}

func TestIngestCmdSkipsUnchangedOnSecondRun(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("stable content"), 0o644))

	_, err := execCLI(t, "ingest", "--task", "20260101_120000",
		"--input", src, "--offline", "--workdir", ws)
	require.NoError(t, err)

	out, err := execCLI(t, "ingest", "--task", "20260101_120000",
		"--input", src, "--offline", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 0/1 file(s)")
	assert.Contains(t, out, "1 unchanged file(s) skipped")
}

func TestIngestCmdUnknownTask(t *testing.T) {
	src := t.TempDir()
	_, err := execCLI(t, "ingest", "--task", "20990101_000000",
		"--input", src, "--offline", "--workdir", t.TempDir())
	require.Error(t, err)
}

func TestIngestCmdMissingInput(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "q", "x")

	_, err := execCLI(t, "ingest", "--task", "20260101_120000",
		"--input", filepath.Join(ws, "does-not-exist"), "--offline", "--workdir", ws)
	require.Error(t, err)
}
