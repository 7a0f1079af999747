// Package ingest walks source directories and drives the parse, embed,
// store, and index pipeline, skipping files the cache knows are unchanged.
package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dataalchemy/alchemy/internal/filecache"
	"github.com/dataalchemy/alchemy/internal/parser"
	"github.com/dataalchemy/alchemy/internal/store"
)

// Stats summarizes one ingestion pass.
type Stats struct {
	TotalFiles      int `json:"total_files"`
	SuccessfulFiles int `json:"successful_files"`
	SkippedFiles    int `json:"skipped_files"`
	FailedFiles     int `json:"failed_files"`
	RemovedFiles    int `json:"removed_files"`
	TotalRecords    int `json:"total_records"`
}

// Coordinator ties the file cache, parser, store, and vector index
// together for ingestion.
type Coordinator struct {
	cache  *filecache.Cache
	parser *parser.Parser
	store  *store.Store
	index  store.VectorIndex
	log    *slog.Logger
}

// New creates a coordinator. index may be nil when vectors are disabled.
func New(cache *filecache.Cache, p *parser.Parser, s *store.Store, idx store.VectorIndex, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{cache: cache, parser: p, store: s, index: idx, log: log}
}

// IngestDirs processes every file under the given directories. Files are
// visited sequentially; per-file failures are counted, not fatal. Files
// recorded in the cache but gone from disk are removed from the store and
// index. The cache is flushed before returning.
func (c *Coordinator) IngestDirs(ctx context.Context, dirs []string) (*Stats, error) {
	stats := &Stats{}

	for _, dir := range dirs {
		files, err := listFiles(dir)
		if err != nil {
			c.log.Warn("cannot walk input directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			continue
		}

		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.TotalFiles++
			n, skipped, err := c.ingestFile(ctx, path)
			if err != nil {
				stats.FailedFiles++
				c.log.Warn("file ingestion failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			if skipped {
				stats.SkippedFiles++
			} else {
				stats.SuccessfulFiles++
			}
			stats.TotalRecords += n
		}
	}

	removed, err := c.removeMissing(ctx)
	if err != nil {
		return stats, err
	}
	stats.RemovedFiles = removed

	if err := c.cache.Flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// ingestFile processes one file, returning the number of records it
// contributes. Unchanged files are skipped, reporting their cached record
// count.
func (c *Coordinator) ingestFile(ctx context.Context, path string) (int, bool, error) {
	needs, err := c.cache.NeedsUpdate(path)
	if err != nil {
		return 0, false, err
	}
	if !needs {
		if entry, ok := c.cache.Get(path); ok {
			return entry.RecordCount, true, nil
		}
		return 0, true, nil
	}

	records, err := c.parser.ParseFile(ctx, path)
	if err != nil {
		return 0, false, err
	}

	// Drop the path's old vectors before the store swaps its rows, so the
	// index never serves rows the store no longer has.
	if c.index != nil {
		old, err := c.store.ByPath(ctx, path)
		if err != nil {
			return 0, false, err
		}
		if len(old) > 0 {
			ids := make([]string, len(old))
			for i, r := range old {
				ids[i] = r.ID
			}
			if err := c.index.Remove(ctx, ids); err != nil {
				return 0, false, err
			}
		}
	}

	if err := c.store.Save(ctx, records); err != nil {
		return 0, false, err
	}
	if c.index != nil {
		if err := c.index.Add(ctx, records); err != nil {
			return 0, false, err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, false, err
	}
	c.cache.Update(path, info.Size(), len(records))
	return len(records), false, nil
}

// removeMissing drops store rows, index entries, and cache entries for
// files that disappeared from disk.
func (c *Coordinator) removeMissing(ctx context.Context) (int, error) {
	var gone []string
	for _, path := range c.cache.Paths() {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			gone = append(gone, path)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}

	count, ids, err := c.store.RemoveByPaths(ctx, gone)
	if err != nil {
		return 0, err
	}
	if c.index != nil && len(ids) > 0 {
		if err := c.index.Remove(ctx, ids); err != nil {
			return 0, err
		}
	}
	for _, path := range gone {
		c.cache.Remove(path)
	}

	c.log.Info("removed records for deleted files",
		slog.Int("files", len(gone)),
		slog.Int("records", count))
	return len(gone), nil
}

// listFiles collects regular files under root, skipping hidden entries.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
