package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/hnsw"

	"github.com/dataalchemy/alchemy/internal/record"
)

// hnswMeta is the per-record metadata kept alongside the graph.
type hnswMeta struct {
	filePath string
	fileName string
	fileType string
	data     record.Data
}

// HNSWIndex is an approximate nearest-neighbor index over record vectors.
// Deletion is lazy: removed ids are orphaned in the key map rather than
// deleted from the graph, which avoids graph breakage when the last node
// goes away.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[string]hnswMeta
	nextKey uint64

	closed bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

// NewHNSWIndex creates an HNSW index using L2 distance. dims of 0 adopts
// the dimension of the first added vector.
func NewHNSWIndex(dims int) *HNSWIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.EuclideanDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]hnswMeta),
	}
}

// Add indexes the vectors of the given records.
func (h *HNSWIndex) Add(ctx context.Context, records []*record.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("index is closed")
	}

	for _, r := range records {
		if len(r.Vector) == 0 {
			continue
		}
		if h.dims == 0 {
			h.dims = len(r.Vector)
		}
		if len(r.Vector) != h.dims {
			return ErrDimensionMismatch{Expected: h.dims, Got: len(r.Vector)}
		}

		// Lazy replacement: orphan the old key instead of deleting from
		// the graph.
		if oldKey, ok := h.idMap[r.ID]; ok {
			delete(h.keyMap, oldKey)
		}

		key := h.nextKey
		h.nextKey++

		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		h.graph.Add(hnsw.MakeNode(key, vec))

		h.idMap[r.ID] = key
		h.keyMap[key] = r.ID
		h.meta[r.ID] = hnswMeta{
			filePath: r.FilePath,
			fileName: r.FileName,
			fileType: r.FileType,
			data:     r.Data,
		}
	}
	return nil
}

// Search returns up to topK nearest live neighbors, closest first.
// Orphaned graph nodes are filtered out, so the graph is over-queried to
// compensate.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, topK int) ([]*VectorHit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if topK <= 0 || len(h.idMap) == 0 {
		return []*VectorHit{}, nil
	}
	if h.dims != 0 && len(query) != h.dims {
		return nil, ErrDimensionMismatch{Expected: h.dims, Got: len(query)}
	}

	orphans := h.graph.Len() - len(h.idMap)
	nodes := h.graph.Search(query, topK+orphans)

	hits := make([]*VectorHit, 0, topK)
	for _, node := range nodes {
		id, ok := h.keyMap[node.Key]
		if !ok {
			continue
		}
		m := h.meta[id]
		d := float64(h.graph.Distance(query, node.Value))
		hits = append(hits, &VectorHit{
			RecordID:   id,
			FilePath:   m.filePath,
			FileName:   m.fileName,
			FileType:   m.fileType,
			Data:       m.data,
			Distance:   d,
			Similarity: Similarity(d),
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

// Remove drops the given record ids. Graph nodes are orphaned, not
// deleted.
func (h *HNSWIndex) Remove(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, ok := h.idMap[id]; ok {
			delete(h.keyMap, key)
			delete(h.idMap, id)
			delete(h.meta, id)
		}
	}
	return nil
}

// Len returns the number of live vectors.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Close releases the index.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	h.idMap = nil
	h.keyMap = nil
	h.meta = nil
	return nil
}
