// Package registry maintains the workspace-level task index at
// data_alchemy/_index/alchemy_index.json. The index is advisory: each
// task's own status.json stays authoritative, and a scan rebuilds the
// index from it. All read-modify-write cycles run under a cross-process
// file lock.
package registry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/task"
)

// maxIndexedArtifacts bounds how many artifact paths a summary carries.
const maxIndexedArtifacts = 5

// TaskSummary is one task's entry in the index.
type TaskSummary struct {
	AlchemyID       string    `json:"alchemy_id"`
	Name            string    `json:"name,omitempty"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LatestIteration int       `json:"latest_iteration"`
	OriginalQuery   string    `json:"original_query"`
	LatestQuery     string    `json:"latest_query"`
	Status          string    `json:"status"`
	Tags            []string  `json:"tags"`
	IsArchived      bool      `json:"is_archived"`
	Artifacts       []string  `json:"artifacts"`
	TaskRoot        string    `json:"task_root"`
}

// ResumableTask pairs a summary with its resume marker.
type ResumableTask struct {
	Summary TaskSummary     `json:"summary"`
	Resume  task.ResumeInfo `json:"resume"`
}

// index is the persisted index file.
type index struct {
	UpdatedAt time.Time              `json:"updated_at"`
	Tasks     map[string]TaskSummary `json:"tasks"`
}

// Registry reads and writes the task index for one workspace.
type Registry struct {
	workspace string
	indexPath string
	lock      *flock.Flock
}

// New creates a registry for the workspace.
func New(workspace string) *Registry {
	indexDir := filepath.Join(workspace, "data_alchemy", "_index")
	return &Registry{
		workspace: workspace,
		indexPath: filepath.Join(indexDir, "alchemy_index.json"),
		lock:      flock.New(filepath.Join(indexDir, ".alchemy_index.lock")),
	}
}

// withLock runs fn holding the index file lock.
func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0o755); err != nil {
		return errors.New(errors.ErrCodeRegistryIO, "cannot create index directory", err)
	}
	if err := r.lock.Lock(); err != nil {
		return errors.New(errors.ErrCodeRegistryIO, "cannot lock task index", err)
	}
	defer func() { _ = r.lock.Unlock() }()
	return fn()
}

// load reads the index; a missing file yields an empty index.
func (r *Registry) load() (*index, error) {
	idx := &index{Tasks: make(map[string]TaskSummary)}
	raw, err := os.ReadFile(r.indexPath)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeRegistryIO, "cannot read task index", err)
	}
	if err := json.Unmarshal(raw, idx); err != nil {
		return nil, errors.New(errors.ErrCodeRegistryIO, "task index corrupted, run scan to rebuild", err)
	}
	if idx.Tasks == nil {
		idx.Tasks = make(map[string]TaskSummary)
	}
	return idx, nil
}

func (r *Registry) save(idx *index) error {
	idx.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(errors.ErrCodeRegistryIO, "cannot write task index", err)
	}
	if err := os.Rename(tmp, r.indexPath); err != nil {
		_ = os.Remove(tmp)
		return errors.New(errors.ErrCodeRegistryIO, "cannot save task index", err)
	}
	return nil
}

// summarize builds a summary from a task's authoritative status.json,
// preserving index-only fields (name, description) from prev.
func (r *Registry) summarize(layout task.Layout, t *task.Task, prev *TaskSummary) TaskSummary {
	s := TaskSummary{
		AlchemyID:       t.AlchemyID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		LatestIteration: t.LatestIteration,
		OriginalQuery:   t.OriginalQuery,
		LatestQuery:     t.OriginalQuery,
		Status:          t.Status,
		Tags:            t.Tags,
		IsArchived:      t.IsArchived,
		TaskRoot:        layout.Root,
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if n := len(t.Iterations); n > 0 {
		s.LatestQuery = t.Iterations[n-1].Query
		for i := n - 1; i >= 0 && len(s.Artifacts) < maxIndexedArtifacts; i-- {
			for _, a := range t.Iterations[i].Artifacts {
				if len(s.Artifacts) == maxIndexedArtifacts {
					break
				}
				s.Artifacts = append(s.Artifacts, a)
			}
		}
	}
	if s.Artifacts == nil {
		s.Artifacts = []string{}
	}
	if prev != nil {
		s.Name = prev.Name
		s.Description = prev.Description
	}
	return s
}

// Scan walks the workspace and rebuilds the index entry for every task
// directory with a status.json. Entries whose directories are gone are
// dropped. Returns the number of indexed tasks.
func (r *Registry) Scan() (int, error) {
	var count int
	err := r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}

		found := make(map[string]bool)
		entries, err := os.ReadDir(r.workspace)
		if err != nil {
			return errors.New(errors.ErrCodeWorkspace, "cannot read workspace", err)
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), "alchemy_") {
				continue
			}
			id := strings.TrimPrefix(e.Name(), "alchemy_")
			layout := task.NewLayout(r.workspace, id)
			t, err := layout.LoadStatus()
			if err != nil {
				continue
			}
			var prev *TaskSummary
			if p, ok := idx.Tasks[id]; ok {
				prev = &p
			}
			idx.Tasks[id] = r.summarize(layout, t, prev)
			found[id] = true
		}

		for id := range idx.Tasks {
			if !found[id] {
				delete(idx.Tasks, id)
			}
		}
		count = len(idx.Tasks)
		return r.save(idx)
	})
	return count, err
}

// Register adds or refreshes one task's entry from its status.json.
func (r *Registry) Register(alchemyID string) error {
	return r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}
		layout := task.NewLayout(r.workspace, alchemyID)
		t, err := layout.LoadStatus()
		if err != nil {
			return errors.New(errors.ErrCodeTaskNotFound, fmt.Sprintf("task %s has no status", alchemyID), err)
		}
		var prev *TaskSummary
		if p, ok := idx.Tasks[alchemyID]; ok {
			prev = &p
		}
		idx.Tasks[alchemyID] = r.summarize(layout, t, prev)
		return r.save(idx)
	})
}

// update applies mutate to one entry under the lock.
func (r *Registry) update(alchemyID string, mutate func(*TaskSummary) error) error {
	return r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}
		s, ok := idx.Tasks[alchemyID]
		if !ok {
			return errors.New(errors.ErrCodeTaskNotFound, fmt.Sprintf("task %s is not indexed, run scan first", alchemyID), nil)
		}
		if err := mutate(&s); err != nil {
			return err
		}
		s.UpdatedAt = time.Now()
		idx.Tasks[alchemyID] = s
		return r.save(idx)
	})
}

// Rename sets the display name of a task.
func (r *Registry) Rename(alchemyID, name string) error {
	return r.update(alchemyID, func(s *TaskSummary) error {
		s.Name = name
		return nil
	})
}

// Describe sets the free-form description of a task.
func (r *Registry) Describe(alchemyID, text string) error {
	return r.update(alchemyID, func(s *TaskSummary) error {
		s.Description = text
		return nil
	})
}

// Tag adds tags to a task, deduplicated, and mirrors them into the task's
// own status.json.
func (r *Registry) Tag(alchemyID string, tags []string) error {
	return r.update(alchemyID, func(s *TaskSummary) error {
		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			if tag == "" || slices.Contains(s.Tags, tag) {
				continue
			}
			s.Tags = append(s.Tags, tag)
		}
		return r.mirrorTask(alchemyID, func(t *task.Task) { t.Tags = s.Tags })
	})
}

// Untag removes one tag from a task.
func (r *Registry) Untag(alchemyID, tag string) error {
	return r.update(alchemyID, func(s *TaskSummary) error {
		kept := s.Tags[:0]
		for _, existing := range s.Tags {
			if existing != tag {
				kept = append(kept, existing)
			}
		}
		s.Tags = kept
		return r.mirrorTask(alchemyID, func(t *task.Task) { t.Tags = s.Tags })
	})
}

// Archive marks a task archived in both the index and status.json.
func (r *Registry) Archive(alchemyID string) error {
	return r.setArchived(alchemyID, true)
}

// Unarchive clears the archived flag.
func (r *Registry) Unarchive(alchemyID string) error {
	return r.setArchived(alchemyID, false)
}

func (r *Registry) setArchived(alchemyID string, archived bool) error {
	return r.update(alchemyID, func(s *TaskSummary) error {
		s.IsArchived = archived
		return r.mirrorTask(alchemyID, func(t *task.Task) { t.IsArchived = archived })
	})
}

// mirrorTask applies a mutation to the task's authoritative status.json.
func (r *Registry) mirrorTask(alchemyID string, mutate func(*task.Task)) error {
	layout := task.NewLayout(r.workspace, alchemyID)
	t, err := layout.LoadStatus()
	if err != nil {
		// Index-only entry; nothing authoritative to mirror into.
		return nil
	}
	mutate(t)
	return layout.SaveStatus(t)
}

// Delete removes a task from the index and, when deleteFiles is set, its
// directory tree.
func (r *Registry) Delete(alchemyID string, deleteFiles bool) error {
	return r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}
		if _, ok := idx.Tasks[alchemyID]; !ok {
			return errors.New(errors.ErrCodeTaskNotFound, fmt.Sprintf("task %s is not indexed", alchemyID), nil)
		}
		delete(idx.Tasks, alchemyID)
		if err := r.save(idx); err != nil {
			return err
		}
		if deleteFiles {
			layout := task.NewLayout(r.workspace, alchemyID)
			if err := os.RemoveAll(layout.Root); err != nil {
				return errors.New(errors.ErrCodeWorkspace, "cannot delete task files", err)
			}
		}
		return nil
	})
}

// Get returns one task's summary.
func (r *Registry) Get(alchemyID string) (*TaskSummary, error) {
	var out *TaskSummary
	err := r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}
		s, ok := idx.Tasks[alchemyID]
		if !ok {
			return errors.New(errors.ErrCodeTaskNotFound, fmt.Sprintf("task %s is not indexed", alchemyID), nil)
		}
		out = &s
		return nil
	})
	return out, err
}

// ListFilter narrows List output. Zero value lists non-archived tasks.
type ListFilter struct {
	All    bool
	Status string
	Tag    string
	Query  string
}

// List returns summaries matching the filter, newest first.
func (r *Registry) List(f ListFilter) ([]TaskSummary, error) {
	var out []TaskSummary
	err := r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}
		for _, s := range idx.Tasks {
			if s.IsArchived && !f.All {
				continue
			}
			if f.Status != "" && s.Status != f.Status {
				continue
			}
			if f.Tag != "" && !slices.Contains(s.Tags, f.Tag) {
				continue
			}
			if f.Query != "" && !summaryMatches(s, f.Query) {
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Search returns summaries whose id, name, query, description, or tags
// contain the substring, case-insensitive.
func (r *Registry) Search(substring string) ([]TaskSummary, error) {
	return r.List(ListFilter{All: true, Query: substring})
}

func summaryMatches(s TaskSummary, query string) bool {
	q := strings.ToLower(query)
	for _, field := range []string{s.AlchemyID, s.Name, s.OriginalQuery, s.LatestQuery, s.Description} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Resumable returns every indexed task with a resume marker, most recent
// first.
func (r *Registry) Resumable() ([]ResumableTask, error) {
	var out []ResumableTask
	err := r.withLock(func() error {
		idx, err := r.load()
		if err != nil {
			return err
		}
		for _, s := range idx.Tasks {
			layout := task.Layout{Root: s.TaskRoot}
			info, err := layout.LoadResumeInfo()
			if err != nil {
				continue
			}
			out = append(out, ResumableTask{Summary: s, Resume: *info})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Resume.Timestamp.After(out[j].Resume.Timestamp)
	})
	return out, nil
}

// csvHeader is the export column order.
var csvHeader = []string{
	"alchemy_id", "name", "status", "created_at", "updated_at",
	"latest_iteration", "original_query", "latest_query", "tags",
	"is_archived", "task_root",
}

// ExportCSV writes every indexed task to a UTF-8 CSV file with a BOM so
// spreadsheet tools detect the encoding.
func (r *Registry) ExportCSV(path string) (int, error) {
	tasks, err := r.List(ListFilter{All: true})
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.New(errors.ErrCodeRegistryIO, "cannot create export directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.New(errors.ErrCodeRegistryIO, "cannot create export file", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return 0, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, s := range tasks {
		row := []string{
			s.AlchemyID,
			s.Name,
			s.Status,
			s.CreatedAt.Format(time.RFC3339),
			s.UpdatedAt.Format(time.RFC3339),
			strconv.Itoa(s.LatestIteration),
			s.OriginalQuery,
			s.LatestQuery,
			strings.Join(s.Tags, ","),
			strconv.FormatBool(s.IsArchived),
			s.TaskRoot,
		}
		if err := w.Write(row); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return len(tasks), nil
}
