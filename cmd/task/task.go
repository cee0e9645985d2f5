// Package task provides commands to create and inspect migration tasks.
package task

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/repomigrate/internal/app"
	"github.com/tphakala/repomigrate/internal/buildinfo"
	"github.com/tphakala/repomigrate/internal/conf"
	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/migrate"
)

// Command creates and returns the task command group
func Command(settings *conf.Settings, info *buildinfo.Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and inspect migration tasks",
	}

	withRuntime := func(fn func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			rt, err := app.Bootstrap(settings, info)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return fn(cmd.Context(), cmd, rt, args)
		}
	}

	cmd.AddCommand(
		createCommand(withRuntime),
		listCommand(withRuntime),
		showCommand(withRuntime),
		failedCommand(withRuntime),
		resetFailedCommand(withRuntime),
	)
	return cmd
}

type runFunc = func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error

type runtimeWrapper = func(runFunc) func(*cobra.Command, []string) error

func createCommand(with runtimeWrapper) *cobra.Command {
	var req migrate.CreateTaskRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a migration task for a repository",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			task, err := rt.Tasks.CreateTask(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created task %s: %s/%s %s -> %s\n",
				task.ID, task.ProjectID, task.RepoName, displayKey(task.SrcKey()), task.DstStorageKey)
			return nil
		}),
	}

	cmd.Flags().StringVar(&req.ProjectID, "project", "", "Project id")
	cmd.Flags().StringVar(&req.RepoName, "repo", "", "Repository name")
	cmd.Flags().StringVar(&req.DstStorageKey, "dst", "", "Destination storage key")
	cmd.Flags().StringVar(&req.Operator, "operator", "", "User creating the task")
	for _, name := range []string{"project", "repo", "dst", "operator"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func listCommand(with runtimeWrapper) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List migration tasks",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			filter := datastore.TaskFilter{State: entities.TaskState(state), Limit: limit}
			if state != "" && !filter.State.Valid() {
				return fmt.Errorf("unknown task state %q", state)
			}
			tasks, err := rt.Stores.Tasks.List(ctx, filter)
			if err != nil {
				return err
			}
			return writeTaskTable(cmd.OutOrStdout(), tasks)
		}),
	}

	cmd.Flags().StringVar(&state, "state", "", "Only tasks in this state (CREATED, EXECUTING, SUCCESS, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of tasks")
	return cmd
}

func showCommand(with runtimeWrapper) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one migration task",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			task, err := rt.Stores.Tasks.Get(ctx, args[0])
			if err != nil {
				return err
			}
			failed, err := rt.Stores.FailedNodes.Count(ctx, task.ID)
			if err != nil {
				return err
			}
			return writeTask(cmd.OutOrStdout(), newTaskView(task, failed), output)
		}),
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatYAML, "Output format (yaml or json)")
	return cmd
}

func failedCommand(with runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "failed ID",
		Short: "List nodes that failed to migrate in a task",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			nodes, err := rt.Stores.FailedNodes.List(ctx, args[0])
			if err != nil {
				return err
			}
			return writeFailedTable(cmd.OutOrStdout(), nodes)
		}),
	}
}

func resetFailedCommand(with runtimeWrapper) *cobra.Command {
	var project, repo string

	cmd := &cobra.Command{
		Use:   "reset-failed",
		Short: "Reset retry counters of a repository's failed nodes",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			n, err := rt.Stores.FailedNodes.ResetRetryCount(ctx, project, repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed node(s) of %s/%s\n", n, project, repo)
			return nil
		}),
	}

	cmd.Flags().StringVar(&project, "project", "", "Project id")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository name")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}
