package store

import (
	"context"
	"fmt"
	"log/slog"
)

// NewVectorIndex creates a vector index for the chosen backend. An empty
// backend selects flat exact search.
func NewVectorIndex(backend Backend, dims int) (VectorIndex, error) {
	switch backend {
	case BackendFlat, "":
		return NewFlatIndex(dims), nil
	case BackendHNSW:
		return NewHNSWIndex(dims), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", backend)
	}
}

// InitVectorIndex builds a vector index over every stored vector. Called at
// startup so search sees the full corpus.
func InitVectorIndex(ctx context.Context, s *Store, backend Backend) (VectorIndex, error) {
	records, err := s.AllVectors(ctx)
	if err != nil {
		return nil, err
	}

	dims := 0
	if len(records) > 0 {
		dims = len(records[0].Vector)
	}

	idx, err := NewVectorIndex(backend, dims)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, records); err != nil {
		_ = idx.Close()
		return nil, err
	}

	slog.Debug("vector index initialized",
		slog.String("backend", string(backend)),
		slog.Int("vectors", idx.Len()))
	return idx, nil
}
