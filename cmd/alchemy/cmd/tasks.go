package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dataalchemy/alchemy/internal/registry"
	"github.com/dataalchemy/alchemy/internal/task"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the workspace task index",
		Long: `List, inspect, and curate the tasks in the workspace.

The index under data_alchemy/_index/ is advisory: each task's own
status.json stays authoritative, and 'tasks scan' rebuilds the index
from disk at any time.

Examples:
  alchemy tasks list
  alchemy tasks show 20260301_142233
  alchemy tasks tag 20260301_142233 quarterly incidents
  alchemy tasks export --output tasks.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasksList(cmd, tasksListOptions{})
		},
	}

	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksShowCmd())
	cmd.AddCommand(newTasksScanCmd())
	cmd.AddCommand(newTasksRenameCmd())
	cmd.AddCommand(newTasksDescribeCmd())
	cmd.AddCommand(newTasksTagCmd())
	cmd.AddCommand(newTasksUntagCmd())
	cmd.AddCommand(newTasksArchiveCmd())
	cmd.AddCommand(newTasksUnarchiveCmd())
	cmd.AddCommand(newTasksDeleteCmd())
	cmd.AddCommand(newTasksExportCmd())
	cmd.AddCommand(newTasksResumableCmd())

	return cmd
}

func newTasksResumableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resumable",
		Short: "List tasks with a resume checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResumeList(cmd)
		},
	}
}

// tasksListOptions holds CLI flags for tasks list.
type tasksListOptions struct {
	all    bool
	status string
	tag    string
	query  string
}

func newTasksListCmd() *cobra.Command {
	var opts tasksListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasksList(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "Include archived tasks")
	cmd.Flags().StringVar(&opts.status, "status", "", "Filter by status (running, completed, failed, cancelled)")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "Filter by tag")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Substring filter over id, name, query, and tags")

	return cmd
}

func runTasksList(cmd *cobra.Command, opts tasksListOptions) error {
	reg, err := scannedRegistry()
	if err != nil {
		return err
	}
	summaries, err := reg.List(registry.ListFilter{
		All:    opts.all,
		Status: opts.status,
		Tag:    opts.tag,
		Query:  opts.query,
	})
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ALCHEMY ID\tNAME\tSTATUS\tITER\tUPDATED\tQUERY\tTAGS")
	for _, s := range summaries {
		name := s.Name
		if s.IsArchived {
			name = strings.TrimSpace(name + " (archived)")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.AlchemyID,
			name,
			s.Status,
			s.LatestIteration,
			s.UpdatedAt.Format("2006-01-02 15:04"),
			truncate(s.LatestQuery, 40),
			strings.Join(s.Tags, ","))
	}
	return w.Flush()
}

func newTasksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <alchemy-id>",
		Short: "Show one task's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksShow(cmd, args[0])
		},
	}
}

func runTasksShow(cmd *cobra.Command, alchemyID string) error {
	reg, err := scannedRegistry()
	if err != nil {
		return err
	}
	s, err := reg.Get(alchemyID)
	if err != nil {
		return err
	}

	out := newWriter(cmd.OutOrStdout())
	out.Header(s.AlchemyID)
	if s.Name != "" {
		out.KV("name", "%s", s.Name)
	}
	if s.Description != "" {
		out.KV("description", "%s", s.Description)
	}
	out.KV("status", "%s", s.Status)
	out.KV("created", "%s", s.CreatedAt.Format("2006-01-02 15:04:05"))
	out.KV("updated", "%s", s.UpdatedAt.Format("2006-01-02 15:04:05"))
	out.KV("iterations", "%d", s.LatestIteration)
	out.KV("original query", "%s", s.OriginalQuery)
	if s.LatestQuery != s.OriginalQuery {
		out.KV("latest query", "%s", s.LatestQuery)
	}
	if len(s.Tags) > 0 {
		out.KV("tags", "%s", strings.Join(s.Tags, ", "))
	}
	if s.IsArchived {
		out.KV("archived", "yes")
	}
	out.KV("path", "%s", s.TaskRoot)
	for _, a := range s.Artifacts {
		out.Dim("artifact: %s", a)
	}

	// Per-iteration history comes from the authoritative status.json.
	layout := task.Layout{Root: s.TaskRoot}
	if tsk, err := layout.LoadStatus(); err == nil && len(tsk.Iterations) > 0 {
		out.Newline()
		out.Header("iterations")
		for _, it := range tsk.Iterations {
			out.Printf("%d. %s  %s", it.Iteration,
				it.Timestamp.Format("2006-01-02 15:04"), truncate(it.Query, 60))
		}
	}
	return nil
}

func newTasksScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Rebuild the index from the workspace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			count, err := taskRegistry(cfg).Scan()
			if err != nil {
				return err
			}
			newWriter(cmd.OutOrStdout()).Success("indexed %d task(s)", count)
			return nil
		},
	}
}

func newTasksRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <alchemy-id> <name>",
		Short: "Set a task's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTask(cmd, args[0], "renamed", func(reg *registry.Registry) error {
				return reg.Rename(args[0], args[1])
			})
		},
	}
}

func newTasksDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <alchemy-id> <text>",
		Short: "Set a task's description",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return mutateTask(cmd, args[0], "described", func(reg *registry.Registry) error {
				return reg.Describe(args[0], text)
			})
		},
	}
}

func newTasksTagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag <alchemy-id> <tag>...",
		Short: "Add tags to a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTask(cmd, args[0], "tagged", func(reg *registry.Registry) error {
				return reg.Tag(args[0], args[1:])
			})
		},
	}
}

func newTasksUntagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untag <alchemy-id> <tag>",
		Short: "Remove a tag from a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTask(cmd, args[0], "untagged", func(reg *registry.Registry) error {
				return reg.Untag(args[0], args[1])
			})
		},
	}
}

func newTasksArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <alchemy-id>",
		Short: "Archive a task (hidden from default listings)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTask(cmd, args[0], "archived", func(reg *registry.Registry) error {
				return reg.Archive(args[0])
			})
		},
	}
}

func newTasksUnarchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unarchive <alchemy-id>",
		Short: "Restore an archived task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateTask(cmd, args[0], "unarchived", func(reg *registry.Registry) error {
				return reg.Unarchive(args[0])
			})
		},
	}
}

func newTasksDeleteCmd() *cobra.Command {
	var (
		force bool
		files bool
	)

	cmd := &cobra.Command{
		Use:   "delete <alchemy-id>",
		Short: "Remove a task from the index",
		Long: `Remove a task from the index. With --files its directory tree is
deleted as well, which cannot be undone and therefore requires --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if files && !force {
				return fmt.Errorf("deleting task files is permanent, add --force to confirm")
			}
			return mutateTask(cmd, args[0], "deleted", func(reg *registry.Registry) error {
				return reg.Delete(args[0], files)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm permanent deletion")
	cmd.Flags().BoolVar(&files, "files", false, "Also delete the task's directory tree")

	return cmd
}

func newTasksExportCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the task index to CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := scannedRegistry()
			if err != nil {
				return err
			}
			count, err := reg.ExportCSV(outputPath)
			if err != nil {
				return err
			}
			newWriter(cmd.OutOrStdout()).Success("exported %d task(s) to %s", count, outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "alchemy_tasks.csv", "Destination CSV file")

	return cmd
}

// scannedRegistry loads the config and rebuilds the index before use, so
// listings reflect the workspace even when runs bypassed the registry.
func scannedRegistry() (*registry.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	reg := taskRegistry(cfg)
	if _, err := reg.Scan(); err != nil {
		return nil, err
	}
	return reg, nil
}

// mutateTask runs one index mutation and reports the outcome.
func mutateTask(cmd *cobra.Command, alchemyID, verb string, fn func(*registry.Registry) error) error {
	reg, err := scannedRegistry()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	newWriter(cmd.OutOrStdout()).Success("task %s %s", alchemyID, verb)
	return nil
}
