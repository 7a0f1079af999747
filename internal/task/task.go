// Package task defines the on-disk layout and persisted state of one
// alchemy task: status, checkpoints, and resume markers.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pipeline steps, in execution order. Each is a checkpoint boundary.
const (
	StepInitialization       = "initialization"
	StepPrepareSourceData    = "prepare_source_data"
	StepProcessData          = "process_data"
	StepInitializeComponents = "initialize_components"
	StepExecuteWorkflow      = "execute_workflow"
	StepParseIntent          = "parse_intent"
	StepBuildPlan            = "build_plan"
	StepExecuteSearch        = "execute_search"
	StepGenerateArtifact     = "generate_artifact"
	StepFinalize             = "finalize"
)

// StepOrder lists the steps in order.
var StepOrder = []string{
	StepInitialization,
	StepPrepareSourceData,
	StepProcessData,
	StepInitializeComponents,
	StepExecuteWorkflow,
	StepParseIntent,
	StepBuildPlan,
	StepExecuteSearch,
	StepGenerateArtifact,
	StepFinalize,
}

// StepIndex returns a step's position in the pipeline, -1 if unknown.
func StepIndex(step string) int {
	for i, s := range StepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// Task statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// IterationRecord summarizes one pipeline iteration. Iteration numbers are
// monotonic and never reused.
type IterationRecord struct {
	Iteration               int            `json:"iteration"`
	Timestamp               time.Time      `json:"timestamp"`
	Query                   string         `json:"query"`
	Context                 map[string]any `json:"context,omitempty"`
	Path                    string         `json:"path"`
	Artifacts               []string       `json:"artifacts"`
	OptimizationSuggestions []string       `json:"optimization_suggestions"`
}

// Task is the persisted task state, stored as status.json at the task
// root.
type Task struct {
	AlchemyID       string            `json:"alchemy_id"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LatestIteration int               `json:"latest_iteration"`
	OriginalQuery   string            `json:"original_query"`
	Iterations      []IterationRecord `json:"iterations"`
	Status          string            `json:"status"`
	Tags            []string          `json:"tags"`
	IsArchived      bool              `json:"is_archived"`
}

// Checkpoint marks the current step of an iteration. Written at every step
// boundary and on cancellation.
type Checkpoint struct {
	AlchemyID   string    `json:"alchemy_id"`
	Timestamp   time.Time `json:"timestamp"`
	CurrentStep string    `json:"current_step"`
	Iteration   int       `json:"iteration"`
}

// ResumeInfo duplicates the latest checkpoint for quick discovery, at the
// task root and at the workspace root.
type ResumeInfo struct {
	AlchemyID   string    `json:"alchemy_id"`
	Timestamp   time.Time `json:"timestamp"`
	CurrentStep string    `json:"current_step"`
	Iteration   int       `json:"iteration"`
	TaskRoot    string    `json:"task_root"`
}

// NewID derives a time-based task id.
func NewID(now time.Time) string {
	return now.Format("20060102_150405")
}

// Layout resolves the paths of one task's directory tree.
type Layout struct {
	Root string

	// DataRoot relocates per-iteration data (store and file cache) outside
	// the task tree. Empty keeps the data under the task root.
	DataRoot string
}

// NewLayout creates a layout rooted at workspace/alchemy_{id}.
func NewLayout(workspace, alchemyID string) Layout {
	return Layout{Root: filepath.Join(workspace, "alchemy_"+alchemyID)}
}

// WithDataRoot returns a copy of the layout storing per-iteration data
// under root instead of the task tree.
func (l Layout) WithDataRoot(root string) Layout {
	l.DataRoot = root
	return l
}

func (l Layout) StatusPath() string     { return filepath.Join(l.Root, "status.json") }
func (l Layout) ResumeInfoPath() string { return filepath.Join(l.Root, "resume_info.json") }
func (l Layout) ArtifactsDir() string   { return filepath.Join(l.Root, "artifacts") }
func (l Layout) LatestArtifact() string { return filepath.Join(l.ArtifactsDir(), "artifact.html") }
func (l Layout) VersionsDir() string    { return filepath.Join(l.ArtifactsDir(), "artifact_versions") }
func (l Layout) ArtifactStatus() string { return filepath.Join(l.ArtifactsDir(), "status.json") }
func (l Layout) IterationsDir() string  { return filepath.Join(l.Root, "iterations") }

// IterDir returns the directory of iteration n.
func (l Layout) IterDir(n int) string {
	return filepath.Join(l.IterationsDir(), fmt.Sprintf("iter%d", n))
}

func (l Layout) CheckpointPath(n int) string { return filepath.Join(l.IterDir(n), "checkpoint.json") }
func (l Layout) ContextPath(n int) string    { return filepath.Join(l.IterDir(n), "context.json") }
func (l Layout) SourceDataDir(n int) string  { return filepath.Join(l.IterDir(n), "source_data") }
func (l Layout) OutputDir(n int) string      { return filepath.Join(l.IterDir(n), "output") }

// DataDir holds iteration n's store and file cache. DataRoot, when set,
// relocates it, keyed by task directory name so tasks never collide.
func (l Layout) DataDir(n int) string {
	if l.DataRoot != "" {
		return filepath.Join(l.DataRoot, filepath.Base(l.Root), fmt.Sprintf("iter%d", n))
	}
	return filepath.Join(l.IterDir(n), "data")
}

// StorePath is the per-iteration unified store database.
func (l Layout) StorePath(n int) string {
	return filepath.Join(l.DataDir(n), "unified_storage.db")
}

// FileCachePath is the per-iteration file cache.
func (l Layout) FileCachePath(n int) string {
	return filepath.Join(l.DataDir(n), "file_cache.json")
}

func (l Layout) ReasoningHistoryPath(n int) string {
	return filepath.Join(l.IterDir(n), "reasoning_history.json")
}

func (l Layout) ComponentsConfigPath(n int) string {
	return filepath.Join(l.IterDir(n), "components_config.json")
}

// IterArtifactPath is the per-iteration artifact output.
func (l Layout) IterArtifactPath(n int) string {
	return filepath.Join(l.OutputDir(n), fmt.Sprintf("artifact_iter%d.html", n))
}

// WorkspaceResumeInfoPath is the global resume marker tracking the most
// recent task.
func WorkspaceResumeInfoPath(workspace string) string {
	return filepath.Join(workspace, "resume_info.json")
}

// writeJSON persists v atomically at path, creating parent directories.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// SaveStatus persists the task's status.json.
func (l Layout) SaveStatus(t *Task) error {
	t.UpdatedAt = time.Now()
	return writeJSON(l.StatusPath(), t)
}

// LoadStatus reads the task's status.json.
func (l Layout) LoadStatus() (*Task, error) {
	var t Task
	if err := readJSON(l.StatusPath(), &t); err != nil {
		return nil, fmt.Errorf("load task status: %w", err)
	}
	return &t, nil
}

// SaveCheckpoint writes the iteration checkpoint and mirrors it into the
// task-root and workspace-root resume markers.
func (l Layout) SaveCheckpoint(workspace string, cp *Checkpoint) error {
	if err := writeJSON(l.CheckpointPath(cp.Iteration), cp); err != nil {
		return err
	}

	info := &ResumeInfo{
		AlchemyID:   cp.AlchemyID,
		Timestamp:   cp.Timestamp,
		CurrentStep: cp.CurrentStep,
		Iteration:   cp.Iteration,
		TaskRoot:    l.Root,
	}
	if err := writeJSON(l.ResumeInfoPath(), info); err != nil {
		return err
	}
	if workspace != "" {
		return writeJSON(WorkspaceResumeInfoPath(workspace), info)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint of iteration n.
func (l Layout) LoadCheckpoint(n int) (*Checkpoint, error) {
	var cp Checkpoint
	if err := readJSON(l.CheckpointPath(n), &cp); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &cp, nil
}

// LoadResumeInfo reads the task-root resume marker.
func (l Layout) LoadResumeInfo() (*ResumeInfo, error) {
	var info ResumeInfo
	if err := readJSON(l.ResumeInfoPath(), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LatestCheckpoint finds the checkpoint with the highest iteration number.
func (l Layout) LatestCheckpoint() (*Checkpoint, error) {
	entries, err := os.ReadDir(l.IterationsDir())
	if err != nil {
		return nil, fmt.Errorf("read iterations: %w", err)
	}

	best := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "iter%d", &n); err == nil && n > best {
			if _, statErr := os.Stat(l.CheckpointPath(n)); statErr == nil {
				best = n
			}
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("no checkpoint found under %s", l.IterationsDir())
	}
	return l.LoadCheckpoint(best)
}

// SaveContext persists the optional iteration context.
func (l Layout) SaveContext(n int, ctx map[string]any) error {
	return writeJSON(l.ContextPath(n), ctx)
}

// LoadContext reads the optional iteration context, nil if absent.
func (l Layout) LoadContext(n int) (map[string]any, error) {
	var ctx map[string]any
	err := readJSON(l.ContextPath(n), &ctx)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return ctx, err
}
