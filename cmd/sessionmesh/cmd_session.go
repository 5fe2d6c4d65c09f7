package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sessionmesh"
)

var (
	sessionMeta   []string
	sessionReason string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create, inspect and finish sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create [id]",
	Short: "Create a session (an id is generated when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseMeta(sessionMeta)
		if err != nil {
			return err
		}
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			sess, err := m.CreateSession(ctx, id, meta)
			if err != nil {
				return err
			}
			return printJSON(cmd, sess)
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			ids, err := m.ListSessions(ctx)
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

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the full session document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			st, _, err := m.OpenSession(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})
	},
}

var sessionSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Print aggregate counts of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			sum, err := m.Summary(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		})
	},
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a session completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			sess, err := m.Complete(ctx, args[0], sessionReason)
			if err != nil {
				return err
			}
			return printJSON(cmd, sess)
		})
	},
}

var sessionFailCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Mark a session failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			sess, err := m.Fail(ctx, args[0], sessionReason)
			if err != nil {
				return err
			}
			return printJSON(cmd, sess)
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			return m.DeleteSession(ctx, args[0])
		})
	},
}

func init() {
	sessionCreateCmd.Flags().StringSliceVarP(&sessionMeta, "meta", "m", nil, "Metadata as key=value (repeatable)")
	sessionCompleteCmd.Flags().StringVar(&sessionReason, "reason", "", "Reason recorded with the status")
	sessionFailCmd.Flags().StringVar(&sessionReason, "reason", "", "Reason recorded with the status")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionSummaryCmd)
	sessionCmd.AddCommand(sessionCompleteCmd)
	sessionCmd.AddCommand(sessionFailCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func parseMeta(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}
