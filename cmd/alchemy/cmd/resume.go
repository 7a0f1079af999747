package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	var (
		offline       bool
		iterations    int
		showReasoning bool
		list          bool
	)

	cmd := &cobra.Command{
		Use:   "resume [alchemy-id]",
		Short: "Resume an interrupted task from its last checkpoint",
		Long: `Resume an interrupted task from its last checkpoint. A run stopped
during or before ingestion restarts its iteration from source staging;
a run stopped later reopens the iteration's index and picks up at
intent parsing.

Without an id, the most recently checkpointed task is resumed.

Examples:
  alchemy resume
  alchemy resume 20260301_142233
  alchemy resume --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return runResumeList(cmd)
			}
			var id string
			if len(args) > 0 {
				id = args[0]
			}
			return runResume(cmd, id, offline, iterations, showReasoning)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List resumable tasks instead of resuming")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use the deterministic hash embedder (no embedding API)")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 1, "Maximum iterations including self-optimization passes")
	cmd.Flags().BoolVar(&showReasoning, "show-reasoning", false, "Stream the model's reasoning and output while generating")

	return cmd
}

func runResume(cmd *cobra.Command, alchemyID string, offline bool, iterations int, showReasoning bool) error {
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

	reg := taskRegistry(cfg)
	if alchemyID == "" {
		if _, err := reg.Scan(); err != nil {
			return err
		}
		resumable, err := reg.Resumable()
		if err != nil {
			return err
		}
		if len(resumable) == 0 {
			return fmt.Errorf("no resumable tasks in %s", cfg.WorkDir)
		}
		alchemyID = resumable[0].Summary.AlchemyID
		out.Dim("resuming most recent task %s", alchemyID)
	}

	orch, modelReg, embedder, err := buildOrchestrator(cfg, offline, iterations, showReasoning, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = modelReg.Close() }()
	defer func() { _ = embedder.Close() }()

	stopSignals := watchInterrupt(out, orch)
	defer stopSignals()

	res, err := orch.Resume(cmd.Context(), alchemyID)
	if err != nil {
		return err
	}

	if err := reg.Register(res.AlchemyID); err != nil {
		out.Warning("task finished but could not be indexed: %v", err)
	}
	printResult(out, res)
	return nil
}

func runResumeList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := taskRegistry(cfg)
	if _, err := reg.Scan(); err != nil {
		return err
	}
	resumable, err := reg.Resumable()
	if err != nil {
		return err
	}
	if len(resumable) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No resumable tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ALCHEMY ID\tSTEP\tITER\tCHECKPOINTED\tQUERY")
	for _, r := range resumable {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.Summary.AlchemyID,
			r.Resume.CurrentStep,
			r.Resume.Iteration,
			r.Resume.Timestamp.Format("2006-01-02 15:04:05"),
			truncate(r.Summary.LatestQuery, 50))
	}
	return w.Flush()
}

// truncate shortens s to at most n runes with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
