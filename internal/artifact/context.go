package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// FileMeta describes one context file.
type FileMeta struct {
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	LastModified time.Time `json:"last_modified"`
	AbsolutePath string    `json:"absolute_path"`
}

// ContextBundle is the assembled generation context.
type ContextBundle struct {
	Contents map[string]string   `json:"contents"`
	Meta     map[string]FileMeta `json:"meta"`
}

// contextAudit is the persisted record of which files fed a generation.
type contextAudit struct {
	Timestamp time.Time `json:"timestamp"`
	Total     int       `json:"total"`
	Files     []string  `json:"files"`
}

// AssembleContext reads the given files and every file path referenced in
// their JSON payloads, deduplicated. baseDir anchors the relative paths
// used as map keys. The union of paths is persisted to auditPath.
func AssembleContext(files []string, baseDir, auditPath string) (*ContextBundle, error) {
	seen := make(map[string]struct{})
	var ordered []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		ordered = append(ordered, path)
	}

	for _, f := range files {
		add(f)
	}

	// Expand: file_path values inside JSON payloads join the context
	for _, f := range files {
		if strings.ToLower(filepath.Ext(f)) != ".json" {
			continue
		}
		raw, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		for _, p := range collectFilePaths(payload) {
			add(p)
		}
	}

	bundle := &ContextBundle{
		Contents: make(map[string]string),
		Meta:     make(map[string]FileMeta),
	}

	for _, path := range ordered {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		rel := relKey(path, baseDir)
		bundle.Contents[rel] = decodeText(raw)
		bundle.Meta[rel] = FileMeta{
			FileName:     filepath.Base(path),
			FileSize:     info.Size(),
			LastModified: info.ModTime(),
			AbsolutePath: path,
		}
	}

	if auditPath != "" {
		audit := contextAudit{
			Timestamp: time.Now(),
			Total:     len(ordered),
			Files:     ordered,
		}
		if err := writeJSON(auditPath, audit); err != nil {
			return nil, fmt.Errorf("persist context audit: %w", err)
		}
	}

	return bundle, nil
}

// collectFilePaths walks decoded JSON for "file_path" string values.
func collectFilePaths(v any) []string {
	var out []string
	switch t := v.(type) {
	case map[string]any:
		for key, val := range t {
			if key == "file_path" {
				if s, ok := val.(string); ok {
					out = append(out, s)
				}
				continue
			}
			out = append(out, collectFilePaths(val)...)
		}
	case []any:
		for _, elem := range t {
			out = append(out, collectFilePaths(elem)...)
		}
	}
	return out
}

func relKey(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// decodeText interprets raw bytes as UTF-8, falling back to Latin-1.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// BuildPrompt renders the generation prompt: the query followed by one
// block per context file.
func BuildPrompt(query string, bundle *ContextBundle) string {
	var b strings.Builder
	b.WriteString("Based on the following context files, produce a single self-contained HTML document that answers the query.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\n", query)

	// Stable block order
	keys := make([]string, 0, len(bundle.Contents))
	for k := range bundle.Contents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		fmt.Fprintf(&b, "[file name]: %s\n[file content begin]\n%s\n[file content end]\n\n", name, bundle.Contents[name])
	}
	return b.String()
}

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
