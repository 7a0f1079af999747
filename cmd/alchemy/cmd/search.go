package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dataalchemy/alchemy/internal/config"
	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/output"
	"github.com/dataalchemy/alchemy/internal/record"
	"github.com/dataalchemy/alchemy/internal/registry"
	"github.com/dataalchemy/alchemy/internal/search"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/internal/task"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	taskID  string
	topK    int
	format  string
	offline bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a task's ingested records",
		Long: `Search a task's ingested records with a direct hybrid plan: the
query runs as a keyword match and as a semantic vector search, without
invoking the LLM for intent extraction.

Without --task, the most recently updated task is searched.

Examples:
  alchemy search "incident timeline" --task 20260301_142233
  alchemy search "retry storms" --top-k 10 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearchCmd(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.taskID, "task", "", "Task to search (default: most recently updated)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", search.DefaultTopK, "Maximum vector results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use the deterministic hash embedder (no embedding API)")

	return cmd
}

func runSearchCmd(cmd *cobra.Command, query string, opts searchOptions) error {
	cleanup := setupFileLogging()
	defer cleanup()
	out := newWriter(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	taskID := opts.taskID
	if taskID == "" {
		reg := taskRegistry(cfg)
		if _, err := reg.Scan(); err != nil {
			return err
		}
		summaries, err := reg.List(registry.ListFilter{})
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			return fmt.Errorf("no tasks in %s, run 'alchemy run' first", cfg.WorkDir)
		}
		taskID = summaries[0].AlchemyID
		out.Dim("searching most recent task %s", taskID)
	}

	layout := cfg.TaskLayout(taskID)
	tsk, err := layout.LoadStatus()
	if err != nil {
		return fmt.Errorf("task %s not found in %s", taskID, cfg.WorkDir)
	}
	iteration := tsk.LatestIteration
	if iteration < 1 {
		iteration = 1
	}

	embedder, err := buildEmbedder(cfg, opts.offline)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	results, err := executeDirectSearch(cmd.Context(), cfg, layout, iteration, embedder, query, opts.topK)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	formatSearchResults(out, query, results)
	return nil
}

// executeDirectSearch runs a raw-query hybrid plan against one iteration's
// store.
func executeDirectSearch(ctx context.Context, cfg *config.Config, layout task.Layout, iteration int, embedder embed.Embedder, query string, topK int) (*search.SearchResults, error) {
	st, err := store.Open(layout.StorePath(iteration))
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	idx, err := store.InitVectorIndex(ctx, st, vectorBackend(cfg))
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()

	plan, err := search.BuildPlan(&search.Intent{
		OriginalQuery:        query,
		StructuredConditions: []search.StructuredCondition{{Keyword: query}},
		VectorConditions: []search.VectorCondition{{
			ReferenceText:       query,
			SimilarityThreshold: search.DefaultThreshold,
			TopK:                topK,
		}},
	})
	if err != nil {
		return nil, err
	}

	engine := search.NewEngine(st, idx, embedder)
	return search.NewExecutor(engine, nil).Execute(ctx, plan), nil
}

func formatSearchResults(out *output.Writer, query string, results *search.SearchResults) {
	if results.Stats.Total == 0 {
		out.Printf("No results found for %q", query)
		return
	}
	out.Printf("Found %d result(s) for %q (%d structured, %d vector):",
		results.Stats.Total, query, results.Stats.StructuredCount, results.Stats.VectorCount)
	out.Newline()

	i := 0
	printRow := func(row search.ResultRow, stream string) {
		i++
		if row.Similarity > 0 {
			out.Printf("%d. %s [%s] (similarity: %.2f)", i, row.FilePath, stream, row.Similarity)
		} else {
			out.Printf("%d. %s [%s]", i, row.FilePath, stream)
		}
		if v, ok := row.Data[record.KeyContent]; ok && v.Kind() == record.KindString {
			out.Dim("   %s", truncate(strings.ReplaceAll(v.Text(), "\n", " "), 120))
		}
	}
	for _, row := range results.Structured {
		printRow(row, "structured")
	}
	for _, row := range results.Vector {
		printRow(row, "vector")
	}
}
