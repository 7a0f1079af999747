// Package store persists records in SQLite and serves exact nearest-neighbor
// search over their vectors. The SQL store is the source of truth; vector
// indexes are in-memory projections rebuilt from it at startup.
package store

import (
	"context"
	"fmt"

	"github.com/dataalchemy/alchemy/internal/record"
)

// VectorHit is one nearest-neighbor result with the record metadata needed
// by the search executor.
type VectorHit struct {
	RecordID   string
	FilePath   string
	FileName   string
	FileType   string
	Data       record.Data
	Distance   float64
	Similarity float64
}

// VectorIndex serves nearest-neighbor queries over record vectors.
type VectorIndex interface {
	// Add indexes the vectors of the given records. Records without a
	// vector are skipped. Re-adding an id replaces its vector.
	Add(ctx context.Context, records []*record.Record) error

	// Search returns up to topK nearest neighbors by L2 distance,
	// closest first. Tombstoned ids are never returned.
	Search(ctx context.Context, query []float32, topK int) ([]*VectorHit, error)

	// Remove drops the given record ids from the index.
	Remove(ctx context.Context, ids []string) error

	// Len returns the number of live vectors.
	Len() int

	// Close releases resources.
	Close() error
}

// Backend selects a vector index implementation.
type Backend string

const (
	// BackendFlat is a brute-force exact L2 scan, the default.
	BackendFlat Backend = "flat"

	// BackendHNSW is an approximate graph index for large corpora.
	BackendHNSW Backend = "hnsw"
)

// Similarity maps an L2 distance to the (0, 10] similarity scale used
// throughout search. Monotonic and finite; thresholds compare against this
// mapped value.
func Similarity(distance float64) float64 {
	return 10 / (1 + distance)
}

// ErrDimensionMismatch reports a vector whose dimension differs from the
// index's.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
