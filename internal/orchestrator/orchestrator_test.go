package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/events"
	"github.com/dataalchemy/alchemy/internal/llm"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/internal/task"
)

const testArtifact = "<!DOCTYPE html>\n<html><body><h1>Machine Learning</h1></body></html>"

// newModelServer scripts an OpenAI-compatible endpoint: intent extraction
// prompts get JSON lists, streaming requests get a reasoned HTML document,
// and everything else is treated as the follow-up query prompt.
func newModelServer(t *testing.T) *httptest.Server {
	t.Helper()

	type request struct {
		Stream   bool `json:"stream"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}

	sse := func(reasoning, content string) string {
		chunk := map[string]any{
			"choices": []map[string]any{{
				"delta": map[string]string{
					"reasoning_content": reasoning,
					"content":           content,
				},
			}},
		}
		raw, _ := json.Marshal(chunk)
		return "data: " + string(raw) + "\n\n"
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt := req.Messages[len(req.Messages)-1].Content

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, sse("laying out the page", ""))
			fmt.Fprint(w, sse("", testArtifact))
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		var content string
		switch {
		case strings.Contains(prompt, "reference texts"):
			content = `{"reference_texts": ["machine learning notes"]}`
		case strings.Contains(prompt, "keywords"):
			content = `{"keywords": ["machine"]}`
		default:
			content = "<answer>deep dive into machine learning pipelines</answer>"
		}
		raw, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
		_, _ = w.Write(raw)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOrchestrator(t *testing.T, workspace string, selfOptimize bool) *Orchestrator {
	t.Helper()

	srv := newModelServer(t)
	reg := llm.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(llm.ModelConfig{
		Name:    "gen",
		Type:    llm.ModelAPI,
		APIBase: srv.URL + "/v1",
		APIKeys: []string{"k1"},
	}))

	return New(Config{
		Workspace:      workspace,
		Registry:       reg,
		Embedder:       embed.NewStaticEmbedder(),
		VectorBackend:  store.BackendFlat,
		GeneratorModel: "gen",
		ReasoningModel: "gen",
		SelfOptimize:   selfOptimize,
		MaxIterations:  2,
	})
}

func newSourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("machine learning notes about pipelines"), 0o644))
	return dir
}

func TestRunEndToEnd(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)

	assert.Equal(t, task.StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Iteration)
	require.NotNil(t, res.IngestStats)
	assert.Equal(t, 1, res.IngestStats.SuccessfulFiles)
	require.NotNil(t, res.SearchStats)
	assert.Greater(t, res.SearchStats.Total, 0)

	layout := task.NewLayout(ws, res.AlchemyID)

	html, err := os.ReadFile(layout.LatestArtifact())
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Machine Learning</h1>")

	_, err = os.Stat(filepath.Join(layout.OutputDir(1), "search_results.json"))
	require.NoError(t, err)

	tsk, err := layout.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, tsk.Status)
	assert.Equal(t, 1, tsk.LatestIteration)
	require.Len(t, tsk.Iterations, 1)

	// The final checkpoint is mirrored at the workspace root
	var info task.ResumeInfo
	raw, err := os.ReadFile(task.WorkspaceResumeInfoPath(ws))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, res.AlchemyID, info.AlchemyID)
	assert.Equal(t, task.StepFinalize, info.CurrentStep)
}

func TestRunStoresDataUnderDataRoot(t *testing.T) {
	ws := t.TempDir()
	dataRoot := t.TempDir()

	srv := newModelServer(t)
	reg := llm.NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(llm.ModelConfig{
		Name:    "gen",
		Type:    llm.ModelAPI,
		APIBase: srv.URL + "/v1",
		APIKeys: []string{"k1"},
	}))

	o := New(Config{
		Workspace:      ws,
		DataRoot:       dataRoot,
		Registry:       reg,
		Embedder:       embed.NewStaticEmbedder(),
		VectorBackend:  store.BackendFlat,
		GeneratorModel: "gen",
		ReasoningModel: "gen",
	})

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)

	layout := task.NewLayout(ws, res.AlchemyID).WithDataRoot(dataRoot)
	_, err = os.Stat(layout.StorePath(1))
	require.NoError(t, err)

	// The in-tree data directory stays empty
	_, err = os.Stat(task.NewLayout(ws, res.AlchemyID).StorePath(1))
	assert.True(t, os.IsNotExist(err))
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)

	bus := events.NewBus()
	defer bus.Close()
	o.cfg.Bus = bus

	got := make(chan events.Kind, 128)
	bus.Subscribe(func(ev events.Event) { got <- ev.Kind })

	_, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)

	seen := map[events.Kind]bool{}
	deadline := time.After(5 * time.Second)
	for !seen[events.ProcessCompleted] {
		select {
		case k := <-got:
			seen[k] = true
		case <-deadline:
			t.Fatal("timed out waiting for PROCESS_COMPLETED")
		}
	}
	for _, want := range []events.Kind{
		events.ProcessStarted,
		events.ProcessCheckpoint,
		events.IntentParsed,
		events.PlanBuilt,
		events.SearchExecuted,
		events.ArtifactGenerated,
		events.ProcessCompleted,
	} {
		assert.True(t, seen[want], "missing event %s", want)
	}
}

func TestSelfOptimizationLoop(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, true)

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)

	// The follow-up suggestion drives a second iteration, capped at two
	assert.Equal(t, 2, res.Iteration)
	assert.Equal(t, task.StatusCompleted, res.Status)

	layout := task.NewLayout(ws, res.AlchemyID)

	iterCtx, err := layout.LoadContext(2)
	require.NoError(t, err)
	assert.Equal(t, "artifact_suggestion", iterCtx["optimization_source"])
	assert.Equal(t, "machine learning", iterCtx["original_query"])
	assert.Equal(t, "deep dive into machine learning pipelines", iterCtx["query"])

	// The first artifact was snapshotted when the second was promoted
	_, err = os.Stat(filepath.Join(layout.VersionsDir(), "artifact_v1.html"))
	require.NoError(t, err)

	tsk, err := layout.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, tsk.LatestIteration)
	assert.Len(t, tsk.Iterations, 2)
}

func TestCancelBeforeRun(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)
	o.Cancel()

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, res.Status)

	// The result carries the interrupted boundary's checkpoint
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, task.StepInitialization, res.Checkpoint.CurrentStep)
	assert.Equal(t, res.AlchemyID, res.Checkpoint.AlchemyID)
	assert.Equal(t, res.Iteration, res.Checkpoint.Iteration)

	layout := task.NewLayout(ws, res.AlchemyID)
	tsk, err := layout.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, tsk.Status)

	// The interrupted boundary was checkpointed for later resume
	cp, err := layout.LatestCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, task.StepInitialization, cp.CurrentStep)
}

func TestResumeFromLateCheckpoint(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)
	layout := task.NewLayout(ws, res.AlchemyID)

	// Rewind: pretend the run died during artifact generation
	require.NoError(t, layout.SaveCheckpoint(ws, &task.Checkpoint{
		AlchemyID:   res.AlchemyID,
		Timestamp:   time.Now(),
		CurrentStep: task.StepGenerateArtifact,
		Iteration:   1,
	}))

	resumed, err := o.Resume(context.Background(), res.AlchemyID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.Iteration)

	// A late resume skips ingestion and reuses the stored corpus
	assert.Nil(t, resumed.IngestStats)
	require.NotNil(t, resumed.SearchStats)
	assert.Greater(t, resumed.SearchStats.Total, 0)

	// Regenerating promoted a new artifact over the old one
	_, err = os.Stat(filepath.Join(layout.VersionsDir(), "artifact_v1.html"))
	require.NoError(t, err)
}

func TestResumeFromEarlyCheckpoint(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)
	layout := task.NewLayout(ws, res.AlchemyID)

	require.NoError(t, layout.SaveCheckpoint(ws, &task.Checkpoint{
		AlchemyID:   res.AlchemyID,
		Timestamp:   time.Now(),
		CurrentStep: task.StepProcessData,
		Iteration:   1,
	}))

	resumed, err := o.Resume(context.Background(), res.AlchemyID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, resumed.Status)

	// An early resume restages and re-ingests; the staged data was kept
	require.NotNil(t, resumed.IngestStats)
	assert.Equal(t, 1, resumed.IngestStats.TotalFiles)
}

func TestContinueRunsNextIteration(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)

	res, err := o.Run(context.Background(), "machine learning", []string{newSourceDir(t)})
	require.NoError(t, err)

	cont, err := o.Continue(context.Background(), res.AlchemyID, "focus on pipelines", nil)
	require.NoError(t, err)
	assert.Equal(t, res.AlchemyID, cont.AlchemyID)
	assert.Equal(t, 2, cont.Iteration)
	assert.Equal(t, task.StatusCompleted, cont.Status)

	layout := task.NewLayout(ws, res.AlchemyID)
	tsk, err := layout.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, tsk.LatestIteration)
	assert.Equal(t, "machine learning", tsk.OriginalQuery)
	require.Len(t, tsk.Iterations, 2)
	assert.Equal(t, "focus on pipelines", tsk.Iterations[1].Query)

	// Source data carried forward from iteration 1
	_, err = os.Stat(filepath.Join(layout.SourceDataDir(2)))
	require.NoError(t, err)
}

func TestContinueUnknownTask(t *testing.T) {
	o := newTestOrchestrator(t, t.TempDir(), false)
	_, err := o.Continue(context.Background(), "20990101_000000", "q", nil)
	require.Error(t, err)
}

func TestResumeUnknownTask(t *testing.T) {
	o := newTestOrchestrator(t, t.TempDir(), false)
	_, err := o.Resume(context.Background(), "20990101_000000")
	require.Error(t, err)
}

func TestPrepareSourceDataSkipsHidden(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)
	layout := task.NewLayout(ws, "prep")

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "data.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".hidden"), []byte("x"), 0o644))

	require.NoError(t, o.prepareSourceData(layout, 1, []string{src}))

	staged := filepath.Join(layout.SourceDataDir(1), filepath.Base(src))
	_, err := os.Stat(filepath.Join(staged, "data.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(staged, ".hidden"))
	assert.True(t, os.IsNotExist(err))
}

func TestPrepareSourceDataCarriesForward(t *testing.T) {
	ws := t.TempDir()
	o := newTestOrchestrator(t, ws, false)
	layout := task.NewLayout(ws, "carry")

	prev := layout.SourceDataDir(1)
	require.NoError(t, os.MkdirAll(prev, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prev, "kept.txt"), []byte("x"), 0o644))

	require.NoError(t, o.prepareSourceData(layout, 2, nil))
	_, err := os.Stat(filepath.Join(layout.SourceDataDir(2), "kept.txt"))
	require.NoError(t, err)
}
