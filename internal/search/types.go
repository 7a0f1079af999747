// Package search turns a parsed intent into a plan, runs the plan against
// the store and vector index, and assembles deduplicated results.
package search

import (
	"time"

	"github.com/dataalchemy/alchemy/internal/record"
)

// Vector query defaults, shared with the intent parser.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.6
)

// TimeRange bounds a date query.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// StructuredCondition is one structured constraint extracted from a query.
// Conditions are OR-combined: each becomes its own query in the plan.
type StructuredCondition struct {
	TimeRange  *TimeRange `json:"time_range,omitempty"`
	FileTypes  []string   `json:"file_types,omitempty"`
	Keyword    string     `json:"keyword,omitempty"`
	Exclusions []string   `json:"exclusions,omitempty"`
}

// VectorCondition is one semantic constraint extracted from a query.
type VectorCondition struct {
	ReferenceText       string  `json:"reference_text"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	TopK                int     `json:"top_k"`
}

// Intent is the parsed form of a natural-language query.
type Intent struct {
	OriginalQuery        string                `json:"original_query"`
	StructuredConditions []StructuredCondition `json:"structured_conditions"`
	VectorConditions     []VectorCondition     `json:"vector_conditions"`
}

// Structured query shapes. The planner emits no others.
const (
	QueryText = "text"
	QueryFile = "file"
	QueryDate = "date"
)

// StructuredQuery is one executable structured query.
type StructuredQuery struct {
	Kind     string     `json:"kind"`
	Text     string     `json:"text,omitempty"`
	FileType string     `json:"file_type,omitempty"`
	Range    *TimeRange `json:"range,omitempty"`
}

// VectorQuery is one executable vector query.
type VectorQuery struct {
	ReferenceText string  `json:"reference_text"`
	TopK          int     `json:"top_k"`
	Threshold     float64 `json:"threshold"`
}

// PlanMetadata carries plan provenance.
type PlanMetadata struct {
	GeneratedAt   time.Time `json:"generated_at"`
	OriginalQuery string    `json:"original_query"`
}

// SearchPlan is the executable form of an intent.
type SearchPlan struct {
	Steps             []string          `json:"steps"`
	StructuredQueries []StructuredQuery `json:"structured_queries"`
	VectorQueries     []VectorQuery     `json:"vector_queries"`
	Metadata          PlanMetadata      `json:"metadata"`
}

// ResultRow is one search hit as the artifact generator consumes it.
type ResultRow struct {
	RecordID   string      `json:"record_id"`
	FilePath   string      `json:"file_path"`
	FileName   string      `json:"file_name"`
	FileType   string      `json:"file_type"`
	Data       record.Data `json:"data"`
	Similarity float64     `json:"similarity,omitempty"`
}

// Stats counts results per stream. Total always equals the sum of the
// list lengths.
type Stats struct {
	StructuredCount int `json:"structured_count"`
	VectorCount     int `json:"vector_count"`
	Total           int `json:"total"`
}

// Insights is reserved for future enrichment; every field starts empty.
type Insights struct {
	KeyConcepts       []string `json:"key_concepts"`
	Relationships     []string `json:"relationships"`
	Timeline          []string `json:"timeline"`
	ImportanceRanking []string `json:"importance_ranking"`
}

// ResultMetadata carries execution provenance. Error is set only when the
// whole plan failed.
type ResultMetadata struct {
	OriginalQuery string        `json:"original_query"`
	GeneratedAt   time.Time     `json:"generated_at"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
}

// SearchResults is the executor's result envelope.
type SearchResults struct {
	Structured []ResultRow    `json:"structured"`
	Vector     []ResultRow    `json:"vector"`
	Stats      Stats          `json:"stats"`
	Insights   Insights       `json:"insights"`
	Metadata   ResultMetadata `json:"metadata"`
}
