// Package mcp exposes alchemy over the Model Context Protocol: a search
// tool querying a task's hybrid store and a task listing tool over the
// workspace registry.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/record"
	"github.com/dataalchemy/alchemy/internal/registry"
	"github.com/dataalchemy/alchemy/internal/search"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/internal/task"
	"github.com/dataalchemy/alchemy/pkg/version"
)

// Server serves alchemy tools over MCP.
type Server struct {
	workspace string
	dataRoot  string
	registry  *registry.Registry
	embedder  embed.Embedder
	backend   store.Backend
	log       *slog.Logger

	mcp *mcp.Server
}

// NewServer creates the server and registers its tools. dataRoot, when
// non-empty, relocates per-iteration store data (the DB_PATH override).
func NewServer(workspace, dataRoot string, reg *registry.Registry, embedder embed.Embedder, backend store.Backend, log *slog.Logger) (*Server, error) {
	if reg == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "registry is required", nil)
	}
	if embedder == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "embedder is required", nil)
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		workspace: workspace,
		dataRoot:  dataRoot,
		registry:  reg,
		embedder:  embedder,
		backend:   backend,
		log:       log,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "alchemy",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid keyword and semantic search over an ingested alchemy task's records. Provide the task id and a natural-language query.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List alchemy tasks in the workspace with status, latest query, and iteration count. Supports substring filtering.",
	}, s.listTasksHandler)

	s.log.Info("mcp tools registered", slog.Int("count", 2))
}

// SearchInput is the search tool's request.
type SearchInput struct {
	TaskID string `json:"task_id" jsonschema:"the alchemy task id to search"`
	Query  string `json:"query" jsonschema:"the natural-language query"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"maximum vector results, default 5"`
}

// SearchHit is one result row.
type SearchHit struct {
	RecordID   string  `json:"record_id"`
	FilePath   string  `json:"file_path"`
	FileName   string  `json:"file_name"`
	FileType   string  `json:"file_type"`
	Content    string  `json:"content,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Stream     string  `json:"stream"`
}

// SearchOutput is the search tool's response.
type SearchOutput struct {
	Hits  []SearchHit  `json:"hits"`
	Stats search.Stats `json:"stats"`
}

func (s *Server) searchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.TaskID == "" || input.Query == "" {
		return nil, SearchOutput{}, errors.New(errors.ErrCodeInvalidInput, "task_id and query are required", nil)
	}

	results, err := s.runSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Hits: []SearchHit{}, Stats: results.Stats}
	for _, row := range results.Structured {
		out.Hits = append(out.Hits, toHit(row, "structured"))
	}
	for _, row := range results.Vector {
		out.Hits = append(out.Hits, toHit(row, "vector"))
	}
	return nil, out, nil
}

// runSearch opens the task's latest iteration store and executes a direct
// hybrid plan for the query.
func (s *Server) runSearch(ctx context.Context, input SearchInput) (*search.SearchResults, error) {
	summary, err := s.registry.Get(input.TaskID)
	if err != nil {
		return nil, err
	}
	layout := task.Layout{Root: summary.TaskRoot, DataRoot: s.dataRoot}
	iteration := summary.LatestIteration
	if iteration < 1 {
		iteration = 1
	}

	st, err := store.Open(layout.StorePath(iteration))
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	idx, err := store.InitVectorIndex(ctx, st, s.backend)
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()

	topK := input.TopK
	if topK <= 0 {
		topK = search.DefaultTopK
	}
	plan, err := search.BuildPlan(&search.Intent{
		OriginalQuery:        input.Query,
		StructuredConditions: []search.StructuredCondition{{Keyword: input.Query}},
		VectorConditions: []search.VectorCondition{{
			ReferenceText:       input.Query,
			SimilarityThreshold: search.DefaultThreshold,
			TopK:                topK,
		}},
	})
	if err != nil {
		return nil, err
	}

	engine := search.NewEngine(st, idx, s.embedder)
	return search.NewExecutor(engine, s.log).Execute(ctx, plan), nil
}

func toHit(row search.ResultRow, stream string) SearchHit {
	hit := SearchHit{
		RecordID:   row.RecordID,
		FilePath:   row.FilePath,
		FileName:   row.FileName,
		FileType:   row.FileType,
		Similarity: row.Similarity,
		Stream:     stream,
	}
	if v, ok := row.Data[record.KeyContent]; ok && v.Kind() == record.KindString {
		hit.Content = v.Text()
	}
	return hit
}

// ListTasksInput is the list_tasks tool's request.
type ListTasksInput struct {
	All   bool   `json:"all,omitempty" jsonschema:"include archived tasks"`
	Query string `json:"query,omitempty" jsonschema:"substring filter over id, name, query, and tags"`
}

// TaskInfo is one listed task.
type TaskInfo struct {
	AlchemyID       string   `json:"alchemy_id"`
	Name            string   `json:"name,omitempty"`
	Status          string   `json:"status"`
	LatestIteration int      `json:"latest_iteration"`
	LatestQuery     string   `json:"latest_query"`
	Tags            []string `json:"tags"`
	IsArchived      bool     `json:"is_archived"`
}

// ListTasksOutput is the list_tasks tool's response.
type ListTasksOutput struct {
	Tasks []TaskInfo `json:"tasks"`
	Total int        `json:"total"`
}

func (s *Server) listTasksHandler(ctx context.Context, req *mcp.CallToolRequest, input ListTasksInput) (*mcp.CallToolResult, ListTasksOutput, error) {
	summaries, err := s.registry.List(registry.ListFilter{All: input.All, Query: input.Query})
	if err != nil {
		return nil, ListTasksOutput{}, err
	}

	out := ListTasksOutput{Tasks: []TaskInfo{}}
	for _, sum := range summaries {
		out.Tasks = append(out.Tasks, TaskInfo{
			AlchemyID:       sum.AlchemyID,
			Name:            sum.Name,
			Status:          sum.Status,
			LatestIteration: sum.LatestIteration,
			LatestQuery:     sum.LatestQuery,
			Tags:            sum.Tags,
			IsArchived:      sum.IsArchived,
		})
	}
	out.Total = len(out.Tasks)
	return nil, out, nil
}

// Serve runs the server over stdio until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("starting mcp server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}
