package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/dataalchemy/alchemy/internal/record"
)

// Executor runs search plans against an Engine.
type Executor struct {
	engine *Engine
	log    *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(engine *Engine, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{engine: engine, log: log}
}

// Execute runs every query in the plan sequentially: structured queries in
// submission order, then vector queries. Per-query failures are logged and
// skipped. Results are deduplicated by content fingerprint, first write
// wins across both streams. Execute never returns an error: a plan-wide
// failure produces an empty envelope with Metadata.Error set.
func (x *Executor) Execute(ctx context.Context, plan *SearchPlan) *SearchResults {
	started := time.Now()
	results := &SearchResults{
		Structured: []ResultRow{},
		Vector:     []ResultRow{},
		Insights: Insights{
			KeyConcepts:       []string{},
			Relationships:     []string{},
			Timeline:          []string{},
			ImportanceRanking: []string{},
		},
		Metadata: ResultMetadata{
			OriginalQuery: plan.Metadata.OriginalQuery,
			GeneratedAt:   started,
		},
	}

	if x.engine == nil {
		results.Metadata.Error = "search engine unavailable"
		results.Metadata.ExecutionTime = time.Since(started)
		return results
	}

	seen := make(map[string]struct{})

	for _, q := range plan.StructuredQueries {
		rows, err := x.engine.Structured(ctx, q)
		if err != nil {
			x.log.Warn("structured query failed, skipping",
				slog.String("kind", q.Kind),
				slog.String("error", err.Error()))
			continue
		}
		for _, r := range rows {
			if !claim(seen, r.Data) {
				continue
			}
			results.Structured = append(results.Structured, ResultRow{
				RecordID: r.ID,
				FilePath: r.FilePath,
				FileName: r.FileName,
				FileType: r.FileType,
				Data:     r.Data,
			})
		}
	}

	for _, q := range plan.VectorQueries {
		hits, err := x.engine.Vector(ctx, q)
		if err != nil {
			x.log.Warn("vector query failed, skipping",
				slog.String("reference_text", q.ReferenceText),
				slog.String("error", err.Error()))
			continue
		}
		// Hits are already thresholded; dedup runs after.
		for _, h := range hits {
			if !claim(seen, h.Data) {
				continue
			}
			results.Vector = append(results.Vector, ResultRow{
				RecordID:   h.RecordID,
				FilePath:   h.FilePath,
				FileName:   h.FileName,
				FileType:   h.FileType,
				Data:       h.Data,
				Similarity: h.Similarity,
			})
		}
	}

	results.Stats = Stats{
		StructuredCount: len(results.Structured),
		VectorCount:     len(results.Vector),
		Total:           len(results.Structured) + len(results.Vector),
	}
	results.Metadata.ExecutionTime = time.Since(started)
	return results
}

// claim records the fingerprint of data, returning false if it was already
// seen in this invocation.
func claim(seen map[string]struct{}, data record.Data) bool {
	fp := record.Fingerprint(data)
	if _, ok := seen[fp]; ok {
		return false
	}
	seen[fp] = struct{}{}
	return true
}
