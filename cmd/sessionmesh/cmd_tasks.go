package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sessionmesh"
	"github.com/hupe1980/sessionmesh/core"
)

var (
	taskDeps       []string
	readyLimit     int
	taskFailReason string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Schedule and track dependent work units",
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <session> <task>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			t, err := m.Tasks.Create(ctx, args[0], args[1], taskDeps)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		})
	},
}

var tasksReadyCmd = &cobra.Command{
	Use:   "ready <session>",
	Short: "List tasks whose dependencies are completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			ids, err := m.Tasks.Ready(ctx, args[0], readyLimit)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

var tasksClaimCmd = &cobra.Command{
	Use:   "claim <session> <task> <agent>",
	Short: "Claim a ready task for an agent",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			t, err := m.Tasks.Claim(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		})
	},
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <session> <task>",
	Short: "Mark an in-progress task completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateStatus(cmd, args[0], args[1], core.TaskCompleted, "")
	},
}

var tasksFailCmd = &cobra.Command{
	Use:   "fail <session> <task>",
	Short: "Record a failed attempt; the task is retried until retries run out",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateStatus(cmd, args[0], args[1], core.TaskFailed, taskFailReason)
	},
}

var tasksProgressCmd = &cobra.Command{
	Use:   "progress <session>",
	Short: "Print task counts by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			p, err := m.Tasks.Progress(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		})
	},
}

var tasksReclaimCmd = &cobra.Command{
	Use:   "reclaim <session>",
	Short: "Return in-progress tasks with expired leases to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			ids, err := m.Tasks.Reclaim(ctx, args[0], cfg.Tasks.StaleAfter)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

func updateStatus(cmd *cobra.Command, sessionID, taskID string, status core.TaskStatus, msg string) error {
	return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
		t, err := m.Tasks.UpdateStatus(ctx, sessionID, taskID, status, msg)
		if err != nil {
			return err
		}
		return printJSON(cmd, t)
	})
}

func init() {
	tasksAddCmd.Flags().StringSliceVarP(&taskDeps, "depends-on", "d", nil, "Dependency task ids")
	tasksReadyCmd.Flags().IntVarP(&readyLimit, "limit", "n", 0, "Maximum number of ids (0 = all)")
	tasksFailCmd.Flags().StringVar(&taskFailReason, "error", "", "Error message recorded with the attempt")

	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksReadyCmd)
	tasksCmd.AddCommand(tasksClaimCmd)
	tasksCmd.AddCommand(tasksDoneCmd)
	tasksCmd.AddCommand(tasksFailCmd)
	tasksCmd.AddCommand(tasksProgressCmd)
	tasksCmd.AddCommand(tasksReclaimCmd)
}
