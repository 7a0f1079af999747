package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dataalchemy/alchemy/internal/task"
)

// VersionRecord describes one archived artifact version.
type VersionRecord struct {
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Path      string    `json:"path"`
}

// versionsInfo is artifact_versions/versions_info.json.
type versionsInfo struct {
	LatestVersion int             `json:"latest_version"`
	Versions      []VersionRecord `json:"versions"`
}

// WriteVersioned persists a new artifact: the per-iteration copy is
// written first, then the current artifact.html (if any) is snapshotted
// into artifact_versions before being overwritten. Returns the promoted
// artifact path.
func WriteVersioned(layout task.Layout, iteration int, html, query string) (string, error) {
	iterPath := layout.IterArtifactPath(iteration)
	if err := writeFile(iterPath, html); err != nil {
		return "", fmt.Errorf("write iteration artifact: %w", err)
	}

	latest := layout.LatestArtifact()
	if existing, err := os.ReadFile(latest); err == nil {
		if err := snapshotVersion(layout, existing, query); err != nil {
			return "", err
		}
	}

	if err := writeFile(latest, html); err != nil {
		return "", fmt.Errorf("promote artifact: %w", err)
	}
	return latest, nil
}

// snapshotVersion archives the current artifact.html as the next version.
func snapshotVersion(layout task.Layout, content []byte, query string) error {
	infoPath := filepath.Join(layout.VersionsDir(), "versions_info.json")

	var info versionsInfo
	if raw, err := os.ReadFile(infoPath); err == nil {
		_ = json.Unmarshal(raw, &info)
	}

	next := info.LatestVersion + 1
	versionName := fmt.Sprintf("artifact_v%d.html", next)
	versionPath := filepath.Join(layout.VersionsDir(), versionName)
	if err := writeFile(versionPath, string(content)); err != nil {
		return fmt.Errorf("snapshot artifact version: %w", err)
	}

	info.LatestVersion = next
	info.Versions = append(info.Versions, VersionRecord{
		Version:   next,
		Timestamp: time.Now(),
		Query:     query,
		Path:      versionName,
	})
	if err := writeJSON(infoPath, info); err != nil {
		return fmt.Errorf("update versions info: %w", err)
	}
	return nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Status is artifacts/status.json: the artifact-side view of the task.
type Status struct {
	ArtifactID      string                 `json:"artifact_id"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	LatestIteration int                    `json:"latest_iteration"`
	OriginalQuery   string                 `json:"original_query"`
	Artifact        StatusArtifact         `json:"artifact"`
	Iterations      []task.IterationRecord `json:"iterations"`
}

// StatusArtifact points at the promoted artifact.
type StatusArtifact struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendStatus updates artifacts/status.json with the iteration summary.
func AppendStatus(layout task.Layout, alchemyID, originalQuery, artifactPath string, rec task.IterationRecord) error {
	statusPath := layout.ArtifactStatus()

	var st Status
	if raw, err := os.ReadFile(statusPath); err == nil {
		_ = json.Unmarshal(raw, &st)
	}
	if st.ArtifactID == "" {
		st.ArtifactID = alchemyID
		st.CreatedAt = time.Now()
		st.OriginalQuery = originalQuery
	}

	st.UpdatedAt = time.Now()
	st.LatestIteration = rec.Iteration
	st.Artifact = StatusArtifact{Path: artifactPath, Timestamp: time.Now()}
	st.Iterations = append(st.Iterations, rec)

	return writeJSON(statusPath, st)
}

// WriteGenerationError records why a generation produced no HTML.
func WriteGenerationError(layout task.Layout, iteration int, query, reason string) error {
	return writeJSON(filepath.Join(layout.OutputDir(iteration), "generation_error.json"), map[string]any{
		"timestamp": time.Now(),
		"iteration": iteration,
		"query":     query,
		"reason":    reason,
	})
}
