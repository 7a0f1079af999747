package cmd

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTasksListEmpty(t *testing.T) {
	out, err := execCLI(t, "tasks", "list", "--workdir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks found.")
}

func TestTasksScanAndList(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "machine learning fundamentals")
	seedTask(t, ws, "20260102_090000", "incident review", "database outage timeline")

	out, err := execCLI(t, "tasks", "scan", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 task(s)")

	out, err = execCLI(t, "tasks", "list", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "20260101_120000")
	assert.Contains(t, out, "incident review")
}

func TestTasksListFilterByQuery(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")
	seedTask(t, ws, "20260102_090000", "incident review", "y")

	out, err := execCLI(t, "tasks", "list", "--query", "incident", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "20260102_090000")
	assert.NotContains(t, out, "20260101_120000")
}

func TestTasksRenameAndShow(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")

	_, err := execCLI(t, "tasks", "rename", "20260101_120000", "ml-notes", "--workdir", ws)
	require.NoError(t, err)

	out, err := execCLI(t, "tasks", "show", "20260101_120000", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "ml-notes")
	assert.Contains(t, out, "machine learning")
	assert.Contains(t, out, "iterations")
}

func TestTasksTagAndFilter(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")
	seedTask(t, ws, "20260102_090000", "incident review", "y")

	_, err := execCLI(t, "tasks", "tag", "20260101_120000", "research", "--workdir", ws)
	require.NoError(t, err)

	out, err := execCLI(t, "tasks", "list", "--tag", "research", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "20260101_120000")
	assert.NotContains(t, out, "20260102_090000")
}

func TestTasksArchiveHidesFromList(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")

	_, err := execCLI(t, "tasks", "archive", "20260101_120000", "--workdir", ws)
	require.NoError(t, err)

	out, err := execCLI(t, "tasks", "list", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks found.")

	out, err = execCLI(t, "tasks", "list", "--all", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "(archived)")
}

func TestTasksDeleteFilesNeedsForce(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")

	_, err := execCLI(t, "tasks", "delete", "20260101_120000", "--files", "--workdir", ws)
	require.Error(t, err)

	_, err = execCLI(t, "tasks", "delete", "20260101_120000", "--files", "--force", "--workdir", ws)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws, "alchemy_20260101_120000"))
	assert.True(t, os.IsNotExist(err))
}

func TestTasksExportCSV(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")
	dest := filepath.Join(t.TempDir(), "tasks.csv")

	out, err := execCLI(t, "tasks", "export", "--output", dest, "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 1 task(s)")

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, len(raw) > 3)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF}, raw[:3])

	rows, err := csv.NewReader(strings.NewReader(string(raw[3:]))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "20260101_120000", rows[1][0])
}

func TestTasksResumableEmpty(t *testing.T) {
	ws := t.TempDir()
	seedTask(t, ws, "20260101_120000", "machine learning", "x")

	out, err := execCLI(t, "tasks", "resumable", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "No resumable tasks found.")
}

func TestTasksUnknownID(t *testing.T) {
	_, err := execCLI(t, "tasks", "show", "20990101_000000", "--workdir", t.TempDir())
	require.Error(t, err)
}
