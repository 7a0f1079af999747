// Package orchestrator drives the full alchemy pipeline for one task:
// source preparation, ingestion, search, artifact generation, and the
// optional self-optimization loop. Every step boundary is checkpointed so
// an interrupted run can resume.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dataalchemy/alchemy/internal/artifact"
	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/events"
	"github.com/dataalchemy/alchemy/internal/filecache"
	"github.com/dataalchemy/alchemy/internal/ingest"
	"github.com/dataalchemy/alchemy/internal/intent"
	"github.com/dataalchemy/alchemy/internal/llm"
	"github.com/dataalchemy/alchemy/internal/parser"
	"github.com/dataalchemy/alchemy/internal/search"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/internal/task"
)

// DefaultMaxIterations caps the self-optimization loop.
const DefaultMaxIterations = 3

// ErrCancelled is returned when a cooperative cancellation stops the
// pipeline between steps.
var ErrCancelled = errors.New(errors.ErrCodeCancelled, "pipeline cancelled", nil)

// Config wires the orchestrator's collaborators.
type Config struct {
	Workspace string

	// DataRoot relocates per-iteration store data outside the task tree.
	DataRoot string

	Registry       *llm.Registry
	Embedder       embed.Embedder
	VectorBackend  store.Backend
	GeneratorModel string
	ReasoningModel string

	// SelfOptimize enables follow-up iterations driven by the artifact's
	// own optimization suggestions, up to MaxIterations total.
	SelfOptimize  bool
	MaxIterations int

	Bus    *events.Bus
	Logger *slog.Logger

	// OnSegment, when set, observes the raw artifact stream as it arrives.
	OnSegment func(string)
}

// Result summarizes a finished (or cancelled) run.
type Result struct {
	AlchemyID              string        `json:"alchemy_id"`
	Status                 string        `json:"status"`
	Iteration              int           `json:"iteration"`
	ArtifactPath           string        `json:"artifact_path,omitempty"`
	OptimizationSuggestion string        `json:"optimization_suggestion,omitempty"`
	IngestStats            *ingest.Stats `json:"ingest_stats,omitempty"`
	SearchStats            *search.Stats `json:"search_stats,omitempty"`

	// Checkpoint is the resume point of a cancelled run.
	Checkpoint *task.Checkpoint `json:"checkpoint,omitempty"`
}

// Orchestrator runs tasks. One orchestrator handles one task at a time.
type Orchestrator struct {
	cfg       Config
	log       *slog.Logger
	cancelled atomic.Bool
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cfg: cfg, log: log}
}

// Cancel requests a cooperative stop. The pipeline finishes its current
// step, checkpoints, and exits with a cancelled status.
func (o *Orchestrator) Cancel() {
	if o.cancelled.CompareAndSwap(false, true) {
		o.emit(events.CancellationRequested, "", nil)
	}
}

// Run executes a new task for the query over the given input directories.
func (o *Orchestrator) Run(ctx context.Context, query string, inputDirs []string) (*Result, error) {
	id := task.NewID(time.Now())
	layout := task.NewLayout(o.cfg.Workspace, id).WithDataRoot(o.cfg.DataRoot)

	tsk := &task.Task{
		AlchemyID:     id,
		CreatedAt:     time.Now(),
		OriginalQuery: query,
		Status:        task.StatusRunning,
		Tags:          []string{},
	}
	if err := layout.SaveStatus(tsk); err != nil {
		return nil, errors.New(errors.ErrCodeWorkspace, "cannot initialize task workspace", err)
	}

	o.emit(events.ProcessStarted, id, map[string]any{"query": query})
	return o.runLoop(ctx, layout, tsk, query, inputDirs, 1, nil, task.StepInitialization)
}

// Continue starts a fresh iteration on an existing task, reusing its
// staged data when no new input directories are given. An empty query
// reuses the task's original query.
func (o *Orchestrator) Continue(ctx context.Context, alchemyID, query string, inputDirs []string) (*Result, error) {
	layout := task.NewLayout(o.cfg.Workspace, alchemyID).WithDataRoot(o.cfg.DataRoot)
	tsk, err := layout.LoadStatus()
	if err != nil {
		return nil, errors.New(errors.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", alchemyID), err)
	}
	if query == "" {
		query = tsk.OriginalQuery
	}
	iteration := tsk.LatestIteration + 1
	if iteration < 1 {
		iteration = 1
	}

	tsk.Status = task.StatusRunning
	if err := layout.SaveStatus(tsk); err != nil {
		return nil, err
	}

	o.emit(events.ProcessStarted, alchemyID, map[string]any{
		"query":     query,
		"iteration": iteration,
	})
	return o.runLoop(ctx, layout, tsk, query, inputDirs, iteration, nil, task.StepInitialization)
}

// Resume continues an interrupted task from its latest checkpoint. A run
// interrupted during or before data processing restarts the iteration from
// source preparation; a run interrupted later reopens the iteration's
// store and resumes from intent parsing.
func (o *Orchestrator) Resume(ctx context.Context, alchemyID string) (*Result, error) {
	layout := task.NewLayout(o.cfg.Workspace, alchemyID).WithDataRoot(o.cfg.DataRoot)

	tsk, err := layout.LoadStatus()
	if err != nil {
		return nil, errors.New(errors.ErrCodeTaskNotFound, fmt.Sprintf("task %s not found", alchemyID), err)
	}
	cp, err := layout.LatestCheckpoint()
	if err != nil {
		return nil, errors.New(errors.ErrCodeCheckpointIO, "no resumable checkpoint", err)
	}

	iterCtx, err := layout.LoadContext(cp.Iteration)
	if err != nil {
		return nil, err
	}
	query := tsk.OriginalQuery
	extra := make(map[string]any)
	for k, v := range iterCtx {
		if k == "query" {
			if q, ok := v.(string); ok && q != "" {
				query = q
			}
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		extra = nil
	}

	from := task.StepPrepareSourceData
	if task.StepIndex(cp.CurrentStep) >= task.StepIndex(task.StepInitializeComponents) {
		from = task.StepParseIntent
	}

	tsk.Status = task.StatusRunning
	if err := layout.SaveStatus(tsk); err != nil {
		return nil, err
	}

	o.emit(events.ProcessStarted, alchemyID, map[string]any{
		"query":     query,
		"resumed":   true,
		"from_step": cp.CurrentStep,
		"iteration": cp.Iteration,
	})
	return o.runLoop(ctx, layout, tsk, query, nil, cp.Iteration, extra, from)
}

// runLoop executes iterations until the plan completes, a failure occurs,
// or the optimization budget runs out. The first iteration may enter the
// pipeline mid-way when resuming.
func (o *Orchestrator) runLoop(ctx context.Context, layout task.Layout, tsk *task.Task, query string, inputDirs []string, iteration int, extra map[string]any, from string) (*Result, error) {
	originalQuery := tsk.OriginalQuery
	var last *Result

	for {
		res, err := o.runIteration(ctx, layout, tsk, query, inputDirs, iteration, extra, from)
		if err != nil {
			if errors.GetCode(err) == errors.ErrCodeCancelled {
				tsk.Status = task.StatusCancelled
				_ = layout.SaveStatus(tsk)
				o.emit(events.ProcessCancelled, tsk.AlchemyID, map[string]any{"iteration": iteration})
				res := &Result{
					AlchemyID: tsk.AlchemyID,
					Status:    task.StatusCancelled,
					Iteration: iteration,
				}
				if cp, cpErr := layout.LoadCheckpoint(iteration); cpErr == nil {
					res.Checkpoint = cp
				}
				return res, nil
			}
			tsk.Status = task.StatusFailed
			_ = layout.SaveStatus(tsk)
			o.emit(events.ErrorOccurred, tsk.AlchemyID, map[string]any{
				"iteration": iteration,
				"error":     err.Error(),
			})
			return nil, err
		}
		last = res

		if !o.cfg.SelfOptimize || res.OptimizationSuggestion == "" || iteration >= o.cfg.MaxIterations {
			break
		}

		o.emit(events.OptimizationSuggested, tsk.AlchemyID, map[string]any{
			"iteration":  iteration,
			"suggestion": res.OptimizationSuggestion,
		})

		// The suggestion becomes the next iteration's query. Source data
		// carries over; only the search and generation rerun on it.
		extra = map[string]any{
			"original_query":      originalQuery,
			"optimization_source": "artifact_suggestion",
			"previous_artifacts":  []string{res.ArtifactPath},
		}
		query = res.OptimizationSuggestion
		inputDirs = nil
		iteration++
		from = task.StepInitialization
	}

	tsk.Status = task.StatusCompleted
	if err := layout.SaveStatus(tsk); err != nil {
		return nil, err
	}
	last.Status = task.StatusCompleted
	o.emit(events.ProcessCompleted, tsk.AlchemyID, map[string]any{
		"iteration":     last.Iteration,
		"artifact_path": last.ArtifactPath,
	})
	return last, nil
}

// iterState holds the per-iteration components that need closing.
type iterState struct {
	store *store.Store
	cache *filecache.Cache
	index store.VectorIndex
}

func (st *iterState) close() {
	if st.cache != nil {
		_ = st.cache.Close()
	}
	if st.index != nil {
		_ = st.index.Close()
	}
	if st.store != nil {
		_ = st.store.Close()
	}
}

// runIteration executes one pass of the pipeline, entering at step `from`.
func (o *Orchestrator) runIteration(ctx context.Context, layout task.Layout, tsk *task.Task, query string, inputDirs []string, iteration int, extra map[string]any, from string) (*Result, error) {
	fromIdx := task.StepIndex(from)
	entered := func(step string) bool { return fromIdx <= task.StepIndex(step) }

	result := &Result{
		AlchemyID: tsk.AlchemyID,
		Status:    task.StatusRunning,
		Iteration: iteration,
	}

	st := &iterState{}
	defer st.close()

	if entered(task.StepInitialization) {
		if err := o.step(layout, tsk.AlchemyID, iteration, task.StepInitialization); err != nil {
			return nil, err
		}
		for _, dir := range []string{
			layout.SourceDataDir(iteration),
			layout.DataDir(iteration),
			layout.OutputDir(iteration),
			layout.VersionsDir(),
		} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(errors.ErrCodeWorkspace, "cannot create iteration directories", err)
			}
		}
		iterCtx := map[string]any{"query": query}
		for k, v := range extra {
			iterCtx[k] = v
		}
		if err := layout.SaveContext(iteration, iterCtx); err != nil {
			return nil, err
		}
	}

	if entered(task.StepPrepareSourceData) {
		if err := o.step(layout, tsk.AlchemyID, iteration, task.StepPrepareSourceData); err != nil {
			return nil, err
		}
		if err := o.prepareSourceData(layout, iteration, inputDirs); err != nil {
			return nil, err
		}
	}

	// The store, cache, and index back every later step, so they open
	// regardless of where the iteration entered the pipeline.
	var err error
	st.store, err = store.Open(layout.StorePath(iteration))
	if err != nil {
		return nil, err
	}
	st.cache, err = filecache.Load(layout.FileCachePath(iteration), 0)
	if err != nil {
		return nil, err
	}

	if entered(task.StepProcessData) {
		if err := o.step(layout, tsk.AlchemyID, iteration, task.StepProcessData); err != nil {
			return nil, err
		}
		st.index, err = store.InitVectorIndex(ctx, st.store, o.cfg.VectorBackend)
		if err != nil {
			return nil, err
		}
		p := parser.New(parser.Options{Embedder: o.cfg.Embedder, Logger: o.log})
		coordinator := ingest.New(st.cache, p, st.store, st.index, o.log)
		stats, err := coordinator.IngestDirs(ctx, []string{layout.SourceDataDir(iteration)})
		if err != nil {
			return nil, err
		}
		result.IngestStats = stats
	} else {
		st.index, err = store.InitVectorIndex(ctx, st.store, o.cfg.VectorBackend)
		if err != nil {
			return nil, err
		}
	}

	if entered(task.StepInitializeComponents) {
		if err := o.step(layout, tsk.AlchemyID, iteration, task.StepInitializeComponents); err != nil {
			return nil, err
		}
	}
	history := llm.NewHistory(layout.ReasoningHistoryPath(iteration))
	dispatcher := llm.NewDispatcher(o.cfg.Registry, history, o.log)
	engine := search.NewEngine(st.store, st.index, o.cfg.Embedder)
	executor := search.NewExecutor(engine, o.log)
	intentParser := intent.New(dispatcher, o.cfg.GeneratorModel, o.log)
	generator := artifact.NewGenerator(dispatcher, o.cfg.ReasoningModel, layout, o.log)

	if err := writeJSON(layout.ComponentsConfigPath(iteration), map[string]any{
		"generator_model": o.cfg.GeneratorModel,
		"reasoning_model": o.cfg.ReasoningModel,
		"vector_backend":  string(o.cfg.VectorBackend),
		"store_path":      layout.StorePath(iteration),
	}); err != nil {
		return nil, err
	}

	if entered(task.StepExecuteWorkflow) {
		if err := o.step(layout, tsk.AlchemyID, iteration, task.StepExecuteWorkflow); err != nil {
			return nil, err
		}
	}

	if err := o.step(layout, tsk.AlchemyID, iteration, task.StepParseIntent); err != nil {
		return nil, err
	}
	parsedIntent, err := intentParser.Parse(ctx, query)
	if err != nil {
		return nil, err
	}
	o.emit(events.IntentParsed, tsk.AlchemyID, map[string]any{
		"structured_conditions": len(parsedIntent.StructuredConditions),
		"vector_conditions":     len(parsedIntent.VectorConditions),
	})

	if err := o.step(layout, tsk.AlchemyID, iteration, task.StepBuildPlan); err != nil {
		return nil, err
	}
	plan, err := search.BuildPlan(parsedIntent)
	if err != nil {
		if errors.GetCode(err) != errors.ErrCodeEmptyPlan {
			return nil, err
		}
		// The extraction produced nothing usable; search on the raw query.
		o.log.Warn("intent produced no plan, falling back to raw query",
			slog.String("query", query))
		plan, err = search.BuildPlan(fallbackIntent(query))
		if err != nil {
			return nil, err
		}
	}
	o.emit(events.PlanBuilt, tsk.AlchemyID, map[string]any{"steps": plan.Steps})

	if err := o.step(layout, tsk.AlchemyID, iteration, task.StepExecuteSearch); err != nil {
		return nil, err
	}
	results := executor.Execute(ctx, plan)
	resultsPath := filepath.Join(layout.OutputDir(iteration), "search_results.json")
	if err := writeJSON(resultsPath, results); err != nil {
		return nil, err
	}
	result.SearchStats = &results.Stats
	o.emit(events.SearchExecuted, tsk.AlchemyID, map[string]any{
		"structured_count": results.Stats.StructuredCount,
		"vector_count":     results.Stats.VectorCount,
		"total":            results.Stats.Total,
	})

	if err := o.step(layout, tsk.AlchemyID, iteration, task.StepGenerateArtifact); err != nil {
		return nil, err
	}
	genRes, err := generator.Generate(ctx, tsk.AlchemyID, query, iteration, []string{resultsPath}, o.cfg.OnSegment)
	if err != nil {
		return nil, err
	}
	result.ArtifactPath = genRes.ArtifactPath
	result.OptimizationSuggestion = genRes.OptimizationSuggestion
	o.emit(events.ArtifactGenerated, tsk.AlchemyID, map[string]any{
		"iteration":       iteration,
		"artifact_path":   genRes.ArtifactPath,
		"used_error_page": genRes.UsedErrorPage,
	})

	if err := o.step(layout, tsk.AlchemyID, iteration, task.StepFinalize); err != nil {
		return nil, err
	}
	rec := task.IterationRecord{
		Iteration: iteration,
		Timestamp: time.Now(),
		Query:     query,
		Context:   extra,
		Path:      layout.IterDir(iteration),
		Artifacts: []string{genRes.ArtifactPath, genRes.IterArtifactPath},
	}
	if genRes.OptimizationSuggestion != "" {
		rec.OptimizationSuggestions = []string{genRes.OptimizationSuggestion}
	}
	tsk.Iterations = append(tsk.Iterations, rec)
	if iteration > tsk.LatestIteration {
		tsk.LatestIteration = iteration
	}
	if err := layout.SaveStatus(tsk); err != nil {
		return nil, err
	}

	return result, nil
}

// step checkpoints a boundary, honoring a pending cancellation first.
func (o *Orchestrator) step(layout task.Layout, alchemyID string, iteration int, name string) error {
	cp := &task.Checkpoint{
		AlchemyID:   alchemyID,
		Timestamp:   time.Now(),
		CurrentStep: name,
		Iteration:   iteration,
	}

	if o.cancelled.Load() {
		// Checkpoint the boundary we stopped at so resume picks up here.
		if err := layout.SaveCheckpoint(o.cfg.Workspace, cp); err != nil {
			o.log.Warn("cancellation checkpoint failed", slog.String("error", err.Error()))
		}
		return ErrCancelled
	}

	if err := layout.SaveCheckpoint(o.cfg.Workspace, cp); err != nil {
		return errors.New(errors.ErrCodeCheckpointIO, fmt.Sprintf("checkpoint at %s failed", name), err)
	}
	o.emit(events.ProcessCheckpoint, alchemyID, map[string]any{
		"step":      name,
		"iteration": iteration,
	})
	return nil
}

// prepareSourceData stages input files under the iteration's source_data
// directory. With no input dirs, existing staged data is kept, or the
// previous iteration's data is carried forward.
func (o *Orchestrator) prepareSourceData(layout task.Layout, iteration int, inputDirs []string) error {
	dst := layout.SourceDataDir(iteration)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.New(errors.ErrCodeWorkspace, "cannot create source data directory", err)
	}

	if len(inputDirs) > 0 {
		for _, dir := range inputDirs {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				return errors.New(errors.ErrCodeInvalidPath, fmt.Sprintf("input directory %s is not readable", dir), err)
			}
			if err := copyTree(dir, filepath.Join(dst, filepath.Base(dir))); err != nil {
				return errors.New(errors.ErrCodeWorkspace, fmt.Sprintf("cannot stage %s", dir), err)
			}
		}
		return nil
	}

	if entries, err := os.ReadDir(dst); err == nil && len(entries) > 0 {
		return nil
	}

	for prev := iteration - 1; prev >= 1; prev-- {
		src := layout.SourceDataDir(prev)
		if entries, err := os.ReadDir(src); err == nil && len(entries) > 0 {
			return copyTree(src, dst)
		}
	}
	return nil
}

// fallbackIntent searches the raw query on both streams.
func fallbackIntent(query string) *search.Intent {
	return &search.Intent{
		OriginalQuery:        query,
		StructuredConditions: []search.StructuredCondition{{Keyword: query}},
		VectorConditions: []search.VectorCondition{{
			ReferenceText:       query,
			SimilarityThreshold: search.DefaultThreshold,
			TopK:                search.DefaultTopK,
		}},
	}
}

func (o *Orchestrator) emit(kind events.Kind, taskID string, payload map[string]any) {
	if o.cfg.Bus != nil {
		o.cfg.Bus.Emit(kind, taskID, payload)
	}
}

// copyTree copies a directory recursively, skipping hidden entries.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != src {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// writeJSON persists v as indented JSON, creating parent directories.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
