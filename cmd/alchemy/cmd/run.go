package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dataalchemy/alchemy/internal/config"
	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/llm"
	"github.com/dataalchemy/alchemy/internal/orchestrator"
	"github.com/dataalchemy/alchemy/internal/output"
	"github.com/dataalchemy/alchemy/internal/task"
)

// runOptions holds CLI flags for run.
type runOptions struct {
	inputs        []string
	taskID        string
	iterations    int
	offline       bool
	showReasoning bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run the full pipeline for a query",
		Long: `Run the full pipeline: stage the input directories, ingest them
into a fresh per-task index, search for the query, and generate an HTML
artifact. With --iterations above 1 the artifact's own follow-up
suggestion drives further refinement passes.

With --task, a new iteration is added to an existing task instead of
creating a new one. Input directories then default to the task's
previously staged data.

Examples:
  alchemy run "summarize our Q3 incidents" --input ./reports
  alchemy run "compare the two proposals" --input ./a --input ./b --iterations 3
  alchemy run "now focus on latency" --task 20260301_142233`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, "Input directory to ingest (repeatable)")
	cmd.Flags().StringVar(&opts.taskID, "task", "", "Continue an existing task with a new iteration")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 1, "Maximum iterations including self-optimization passes")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use the deterministic hash embedder (no embedding API)")
	cmd.Flags().BoolVar(&opts.showReasoning, "show-reasoning", false, "Stream the model's reasoning and output while generating")

	return cmd
}

func runRun(cmd *cobra.Command, query string, opts runOptions) error {
	cleanup := setupFileLogging()
	defer cleanup()
	out := newWriter(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForLLM(); err != nil {
		return err
	}
	if opts.taskID == "" && len(opts.inputs) == 0 {
		return fmt.Errorf("no input directories. Use --input DIR, or --task ID to reuse a task's data")
	}

	orch, modelReg, embedder, err := buildOrchestrator(cfg, opts.offline, opts.iterations, opts.showReasoning, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = modelReg.Close() }()
	defer func() { _ = embedder.Close() }()

	stopSignals := watchInterrupt(out, orch)
	defer stopSignals()

	var res *orchestrator.Result
	if opts.taskID != "" {
		res, err = orch.Continue(cmd.Context(), opts.taskID, query, opts.inputs)
	} else {
		res, err = orch.Run(cmd.Context(), query, opts.inputs)
	}
	if err != nil {
		return err
	}

	if err := taskRegistry(cfg).Register(res.AlchemyID); err != nil {
		out.Warning("task finished but could not be indexed: %v", err)
	}
	printResult(out, res)
	return nil
}

// buildOrchestrator wires the pipeline from the configuration. The caller
// closes the returned model registry and embedder.
func buildOrchestrator(cfg *config.Config, offline bool, iterations int, showReasoning bool, cmd *cobra.Command) (*orchestrator.Orchestrator, *llm.Registry, embed.Embedder, error) {
	embedder, err := buildEmbedder(cfg, offline)
	if err != nil {
		return nil, nil, nil, err
	}
	modelReg, err := buildModelRegistry(cfg)
	if err != nil {
		_ = embedder.Close()
		return nil, nil, nil, err
	}

	ocfg := orchestrator.Config{
		Workspace:      cfg.WorkDir,
		DataRoot:       cfg.DBPath,
		Registry:       modelReg,
		Embedder:       embedder,
		VectorBackend:  vectorBackend(cfg),
		GeneratorModel: cfg.Models.Generator,
		ReasoningModel: cfg.Models.Reasoning,
		SelfOptimize:   iterations > 1,
		MaxIterations:  iterations,
	}
	if showReasoning {
		w := cmd.OutOrStdout()
		ocfg.OnSegment = func(seg string) { _, _ = fmt.Fprint(w, seg) }
	}
	return orchestrator.New(ocfg), modelReg, embedder, nil
}

// watchInterrupt converts the first SIGINT/SIGTERM into a cooperative
// cancellation; the pipeline checkpoints and exits cleanly.
func watchInterrupt(out *output.Writer, orch *orchestrator.Orchestrator) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sig; ok {
			out.Warning("interrupt received, checkpointing before exit")
			orch.Cancel()
		}
	}()
	return func() {
		signal.Stop(sig)
		close(sig)
	}
}

func printResult(out *output.Writer, res *orchestrator.Result) {
	out.Newline()
	switch res.Status {
	case task.StatusCompleted:
		out.Success("task %s completed after %d iteration(s)", res.AlchemyID, res.Iteration)
	case task.StatusCancelled:
		out.Warning("task %s cancelled at iteration %d, resume with: alchemy resume %s",
			res.AlchemyID, res.Iteration, res.AlchemyID)
		if res.Checkpoint != nil {
			out.KV("checkpointed at", "%s", res.Checkpoint.CurrentStep)
		}
	default:
		out.Printf("task %s finished with status %s", res.AlchemyID, res.Status)
	}

	if res.ArtifactPath != "" {
		out.KV("artifact", "%s", res.ArtifactPath)
	}
	if res.IngestStats != nil {
		out.KV("ingested", "%d file(s), %d record(s), %d failed",
			res.IngestStats.SuccessfulFiles, res.IngestStats.TotalRecords, res.IngestStats.FailedFiles)
	}
	if res.SearchStats != nil {
		out.KV("search hits", "%d structured, %d vector",
			res.SearchStats.StructuredCount, res.SearchStats.VectorCount)
	}
	if res.OptimizationSuggestion != "" {
		out.Dim("next suggestion: %s", res.OptimizationSuggestion)
	}
}
