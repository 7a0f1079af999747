package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dataalchemy/alchemy/internal/record"
)

// flatEntry holds one indexed vector and the metadata returned with hits.
type flatEntry struct {
	recordID string
	filePath string
	fileName string
	fileType string
	data     record.Data
	vector   []float32
	dead     bool
}

// FlatIndex is a brute-force exact L2 index. Removal tombstones entries;
// re-adding an id reuses a fresh slot and orphans the old one.
type FlatIndex struct {
	mu      sync.RWMutex
	entries []flatEntry
	byID    map[string]int
	dims    int
	live    int
	closed  bool
}

var _ VectorIndex = (*FlatIndex)(nil)

// NewFlatIndex creates an empty flat index. dims of 0 adopts the dimension
// of the first added vector.
func NewFlatIndex(dims int) *FlatIndex {
	return &FlatIndex{
		byID: make(map[string]int),
		dims: dims,
	}
}

// Add indexes the vectors of the given records.
func (f *FlatIndex) Add(ctx context.Context, records []*record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("index is closed")
	}

	for _, r := range records {
		if len(r.Vector) == 0 {
			continue
		}
		if f.dims == 0 {
			f.dims = len(r.Vector)
		}
		if len(r.Vector) != f.dims {
			return ErrDimensionMismatch{Expected: f.dims, Got: len(r.Vector)}
		}

		if pos, ok := f.byID[r.ID]; ok {
			f.entries[pos].dead = true
			f.live--
		}

		f.entries = append(f.entries, flatEntry{
			recordID: r.ID,
			filePath: r.FilePath,
			fileName: r.FileName,
			fileType: r.FileType,
			data:     r.Data,
			vector:   r.Vector,
		})
		f.byID[r.ID] = len(f.entries) - 1
		f.live++
	}
	return nil
}

// Search scans every live entry and returns the topK nearest by L2
// distance, closest first.
func (f *FlatIndex) Search(ctx context.Context, query []float32, topK int) ([]*VectorHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if topK <= 0 || f.live == 0 {
		return []*VectorHit{}, nil
	}
	if f.dims != 0 && len(query) != f.dims {
		return nil, ErrDimensionMismatch{Expected: f.dims, Got: len(query)}
	}

	hits := make([]*VectorHit, 0, f.live)
	for i := range f.entries {
		e := &f.entries[i]
		if e.dead {
			continue
		}
		d := l2Distance(query, e.vector)
		hits = append(hits, &VectorHit{
			RecordID:   e.recordID,
			FilePath:   e.filePath,
			FileName:   e.fileName,
			FileType:   e.fileType,
			Data:       e.data,
			Distance:   d,
			Similarity: Similarity(d),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Remove tombstones the given record ids.
func (f *FlatIndex) Remove(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if pos, ok := f.byID[id]; ok {
			f.entries[pos].dead = true
			delete(f.byID, id)
			f.live--
		}
	}
	return nil
}

// Len returns the number of live vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.live
}

// Close releases the index.
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.entries = nil
	f.byID = nil
	return nil
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
