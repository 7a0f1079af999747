// Package filecache tracks per-path ingestion state so unchanged files are
// skipped on re-ingest. Entries age out after a retention window; expired
// entries are dropped when the cache is loaded.
package filecache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRetention is how long entries live without being refreshed.
const DefaultRetention = 30 * 24 * time.Hour

// Entry records one file's ingestion state.
type Entry struct {
	ProcessedAt time.Time `json:"processed_at"`
	Size        int64     `json:"size"`
	RecordCount int       `json:"record_count"`
}

// Cache maps absolute file paths to their ingestion state.
// Mutations mark the cache dirty; Flush persists the whole map atomically
// (write-temp + rename) only when something changed.
type Cache struct {
	path      string
	retention time.Duration

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// Load opens the cache file at path, creating an empty cache if it does not
// exist. Expired entries are removed during load.
func Load(path string, retention time.Duration) (*Cache, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	c := &Cache{
		path:      path,
		retention: retention,
		entries:   make(map[string]Entry),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file cache: %w", err)
	}

	if err := json.Unmarshal(raw, &c.entries); err != nil {
		// A corrupt cache only costs a re-ingest; start fresh.
		slog.Warn("file cache corrupted, starting fresh",
			slog.String("path", path),
			slog.String("error", err.Error()))
		c.entries = make(map[string]Entry)
		c.dirty = true
		return c, nil
	}

	if removed := c.cleanupExpired(); removed > 0 {
		slog.Debug("expired file cache entries removed", slog.Int("count", removed))
	}

	return c, nil
}

// Get returns the entry for path, if present.
func (c *Cache) Get(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	return e, ok
}

// Update records the ingestion state for one path.
func (c *Cache) Update(path string, size int64, recordCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = Entry{
		ProcessedAt: time.Now(),
		Size:        size,
		RecordCount: recordCount,
	}
	c.dirty = true
}

// BatchUpdate records ingestion state for many paths at once.
func (c *Cache) BatchUpdate(updates map[string]Entry) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, e := range updates {
		c.entries[path] = e
	}
	c.dirty = true
}

// Remove drops the entry for path. Returns true if an entry existed.
func (c *Cache) Remove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		return false
	}
	delete(c.entries, path)
	c.dirty = true
	return true
}

// Paths returns all cached paths.
func (c *Cache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	return paths
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// NeedsUpdate reports whether the file at path must be (re)processed:
// no entry exists, the size differs, or the mtime is newer than the last
// processing time.
func (c *Cache) NeedsUpdate(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	c.mu.Lock()
	entry, ok := c.entries[path]
	c.mu.Unlock()

	if !ok {
		return true, nil
	}
	if info.Size() != entry.Size {
		return true, nil
	}
	if info.ModTime().After(entry.ProcessedAt) {
		return true, nil
	}
	return false, nil
}

// CleanupExpired removes entries older than the retention window.
// Returns the number of entries removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupExpired()
}

// cleanupExpired must be called with the lock held.
func (c *Cache) cleanupExpired() int {
	cutoff := time.Now().Add(-c.retention)
	removed := 0
	for path, e := range c.entries {
		if e.ProcessedAt.Before(cutoff) {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Flush persists the cache if anything changed since the last flush.
// The whole map is re-serialized atomically.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write file cache: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("save file cache: %w", err)
	}

	c.dirty = false
	return nil
}

// Close flushes pending changes.
func (c *Cache) Close() error {
	return c.Flush()
}
