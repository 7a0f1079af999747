package search

import (
	"fmt"
	"time"

	"github.com/dataalchemy/alchemy/internal/errors"
)

// BuildPlan converts an intent into a search plan. Pure: no I/O, no state.
//
// Each structured condition yields at most one query, the first applicable
// shape in priority order keyword, file, date. Each vector condition with a
// non-empty reference text yields one vector query. An intent producing
// neither fails with an empty-plan error.
func BuildPlan(intent *Intent) (*SearchPlan, error) {
	plan := &SearchPlan{
		Metadata: PlanMetadata{
			GeneratedAt:   time.Now(),
			OriginalQuery: intent.OriginalQuery,
		},
	}

	for _, cond := range intent.StructuredConditions {
		q, ok := structuredQueryFor(cond)
		if !ok {
			continue
		}
		plan.StructuredQueries = append(plan.StructuredQueries, q)
		plan.Steps = append(plan.Steps, fmt.Sprintf("structured:%s", q.Kind))
	}

	for _, cond := range intent.VectorConditions {
		if cond.ReferenceText == "" {
			continue
		}
		topK := cond.TopK
		if topK <= 0 {
			topK = DefaultTopK
		}
		threshold := cond.SimilarityThreshold
		if threshold <= 0 {
			threshold = DefaultThreshold
		}
		plan.VectorQueries = append(plan.VectorQueries, VectorQuery{
			ReferenceText: cond.ReferenceText,
			TopK:          topK,
			Threshold:     threshold,
		})
		plan.Steps = append(plan.Steps, "vector")
	}

	if len(plan.Steps) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyPlan, "no valid plan: intent produced no queries", nil)
	}
	return plan, nil
}

// structuredQueryFor picks the first applicable shape for one condition.
func structuredQueryFor(cond StructuredCondition) (StructuredQuery, bool) {
	if cond.Keyword != "" {
		return StructuredQuery{Kind: QueryText, Text: cond.Keyword}, true
	}
	if len(cond.FileTypes) > 0 && cond.FileTypes[0] != "" {
		return StructuredQuery{Kind: QueryFile, FileType: cond.FileTypes[0]}, true
	}
	if cond.TimeRange != nil {
		r := *cond.TimeRange
		return StructuredQuery{Kind: QueryDate, Range: &r}, true
	}
	return StructuredQuery{}, false
}
