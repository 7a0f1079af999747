package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/record"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/internal/task"
)

// execCLI runs the CLI with fresh flag state and captures its output.
func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, workDir, debugMode, plainMode = "", "", false, false

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// seedTask writes a completed task with one ingested record into the
// workspace.
func seedTask(t *testing.T, ws, id, query, content string) {
	t.Helper()
	layout := task.NewLayout(ws, id)

	require.NoError(t, layout.SaveStatus(&task.Task{
		AlchemyID:       id,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
		OriginalQuery:   query,
		LatestIteration: 1,
		Status:          task.StatusCompleted,
		Tags:            []string{},
		Iterations: []task.IterationRecord{{
			Iteration: 1,
			Timestamp: time.Now(),
			Query:     query,
			Path:      layout.IterDir(1),
			Artifacts: []string{layout.LatestArtifact()},
		}},
	}))

	embedder := embed.NewStaticEmbedder()
	vec, err := embedder.Embed(context.Background(), content)
	require.NoError(t, err)

	st, err := store.Open(layout.StorePath(1))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.Save(context.Background(), []*record.Record{{
		ID:          record.NewID(),
		FilePath:    "/src/notes.txt",
		FileName:    "notes.txt",
		FileType:    "txt",
		ProcessedAt: time.Now(),
		Data:        record.Data{record.KeyContent: record.String(content)},
		Vector:      vec,
	}}))
}
