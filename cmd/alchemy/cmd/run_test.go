package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataalchemy/alchemy/internal/task"
)

// newScriptedModelServer mimics an OpenAI-compatible endpoint well enough
// for a full pipeline run: extraction prompts get JSON lists, streaming
// requests get a reasoned HTML document.
func newScriptedModelServer(t *testing.T) *httptest.Server {
	t.Helper()

	type request struct {
		Stream   bool `json:"stream"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt := req.Messages[len(req.Messages)-1].Content

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			chunk, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{
					"delta": map[string]string{
						"content": "<!DOCTYPE html>\n<html><body><h1>Pipelines</h1></body></html>",
					},
				}},
			})
			fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", chunk)
			return
		}

		var content string
		switch {
		case strings.Contains(prompt, "reference texts"):
			content = `{"reference_texts": ["machine learning notes"]}`
		case strings.Contains(prompt, "keywords"):
			content = `{"keywords": ["machine"]}`
		default:
			content = "<answer></answer>"
		}
		raw, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
		_, _ = w.Write(raw)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunEndToEndCLI(t *testing.T) {
	srv := newScriptedModelServer(t)
	t.Setenv("LLM_API_BASE", srv.URL+"/v1")
	t.Setenv("LLM_API_KEY", "k1")

	ws := t.TempDir()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"),
		[]byte("machine learning notes about pipelines"), 0o644))

	out, err := execCLI(t, "run", "machine learning",
		"--input", src, "--offline", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, out, "completed after 1 iteration(s)")
	assert.Contains(t, out, "artifact:")

	// The task directory holds the promoted artifact
	entries, err := os.ReadDir(ws)
	require.NoError(t, err)
	var taskDir string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "alchemy_") {
			taskDir = e.Name()
		}
	}
	require.NotEmpty(t, taskDir)

	id := strings.TrimPrefix(taskDir, "alchemy_")
	layout := task.NewLayout(ws, id)
	html, err := os.ReadFile(layout.LatestArtifact())
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Pipelines</h1>")

	// The finished run is indexed and listable
	listOut, err := execCLI(t, "tasks", "list", "--workdir", ws)
	require.NoError(t, err)
	assert.Contains(t, listOut, id)
	assert.Contains(t, listOut, "completed")
}

func TestResumeListEmpty(t *testing.T) {
	out, err := execCLI(t, "resume", "--list", "--workdir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No resumable tasks found.")
}

func TestResumeUnknownID(t *testing.T) {
	srv := newScriptedModelServer(t)
	t.Setenv("LLM_API_BASE", srv.URL+"/v1")
	t.Setenv("LLM_API_KEY", "k1")

	_, err := execCLI(t, "resume", "20990101_000000", "--offline", "--workdir", t.TempDir())
	require.Error(t, err)
}
