package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dataalchemy/alchemy/internal/config"
	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/filecache"
	"github.com/dataalchemy/alchemy/internal/ingest"
	"github.com/dataalchemy/alchemy/internal/output"
	"github.com/dataalchemy/alchemy/internal/parser"
	"github.com/dataalchemy/alchemy/internal/store"
	"github.com/dataalchemy/alchemy/internal/task"
	"github.com/dataalchemy/alchemy/internal/watcher"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	inputs  []string
	taskID  string
	offline bool
	watch   bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest directories into an existing task's index",
		Long: `Ingest input directories into an existing task's latest iteration
index without running search or generation. Unchanged files are skipped
via the fingerprint cache; deleted files are removed from the index.

With --watch, the directories stay under observation and changes are
re-ingested as they settle.

Examples:
  alchemy ingest --task 20260301_142233 --input ./reports
  alchemy ingest --task 20260301_142233 --input ./reports --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, "Input directory to ingest (repeatable)")
	cmd.Flags().StringVar(&opts.taskID, "task", "", "Task whose index receives the records")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use the deterministic hash embedder (no embedding API)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep watching the directories and re-ingest changes")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runIngest(cmd *cobra.Command, opts ingestOptions) error {
	cleanup := setupFileLogging()
	defer cleanup()
	out := newWriter(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, dir := range opts.inputs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("input directory %s is not readable", dir)
		}
	}

	layout := cfg.TaskLayout(opts.taskID)
	tsk, err := layout.LoadStatus()
	if err != nil {
		return fmt.Errorf("task %s not found in %s", opts.taskID, cfg.WorkDir)
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

	coordinator, closeAll, err := openCoordinator(cmd.Context(), cfg, layout, iteration, embedder)
	if err != nil {
		return err
	}
	defer closeAll()

	stats, err := coordinator.IngestDirs(cmd.Context(), opts.inputs)
	if err != nil {
		return err
	}
	printIngestStats(out, stats)

	if !opts.watch {
		return nil
	}
	return watchAndIngest(cmd.Context(), out, coordinator, opts.inputs)
}

// openCoordinator opens the iteration's store, cache, and vector index and
// wires the ingestion coordinator over them.
func openCoordinator(ctx context.Context, cfg *config.Config, layout task.Layout, iteration int, embedder embed.Embedder) (*ingest.Coordinator, func(), error) {
	st, err := store.Open(layout.StorePath(iteration))
	if err != nil {
		return nil, nil, err
	}
	cache, err := filecache.Load(layout.FileCachePath(iteration), 0)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	idx, err := store.InitVectorIndex(ctx, st, vectorBackend(cfg))
	if err != nil {
		_ = cache.Close()
		_ = st.Close()
		return nil, nil, err
	}

	closeAll := func() {
		_ = cache.Close()
		_ = idx.Close()
		_ = st.Close()
	}
	p := parser.New(parser.Options{Embedder: embedder, Logger: slog.Default()})
	return ingest.New(cache, p, st, idx, slog.Default()), closeAll, nil
}

// watchAndIngest re-runs ingestion whenever the watched directories settle
// after a change. Runs until interrupted.
func watchAndIngest(ctx context.Context, out *output.Writer, coordinator *ingest.Coordinator, dirs []string) error {
	w, err := watcher.New(watcher.DefaultDebounceWindow, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	for _, dir := range dirs {
		if err := w.Watch(dir); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	out.Println("watching for changes, press Ctrl-C to stop")
	for {
		select {
		case <-sig:
			out.Println("stopped watching")
			return nil
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Batches():
			if !ok {
				return nil
			}
			out.Dim("%d change(s) detected, re-ingesting", len(batch))
			stats, err := coordinator.IngestDirs(ctx, dirs)
			if err != nil {
				out.Error("re-ingest failed: %v", err)
				continue
			}
			printIngestStats(out, stats)
		}
	}
}

func printIngestStats(out *output.Writer, stats *ingest.Stats) {
	out.Success("ingested %d/%d file(s), %d record(s)",
		stats.SuccessfulFiles, stats.TotalFiles, stats.TotalRecords)
	if stats.SkippedFiles > 0 {
		out.Dim("%d unchanged file(s) skipped", stats.SkippedFiles)
	}
	if stats.FailedFiles > 0 {
		out.Warning("%d file(s) failed to parse", stats.FailedFiles)
	}
	if stats.RemovedFiles > 0 {
		out.Dim("%d deleted file(s) removed from the index", stats.RemovedFiles)
	}
}
