package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sessionmesh"
	"github.com/hupe1980/sessionmesh/core"
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "Record and inspect findings",
}

var findingsAddCmd = &cobra.Command{
	Use:   "add <session> <file-key> <agent> <json-payload>",
	Short: "Record a finding, superseding the agent's previous one for the file",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := core.ParseValue([]byte(args[3]))
		if err != nil {
			return err
		}
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			entry, err := m.Ledger.AddFinding(ctx, args[0], args[1], args[2], payload)
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		})
	},
}

var findingsContextCmd = &cobra.Command{
	Use:   "context <session> <file-key>",
	Short: "Print current findings and history for a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			fc, err := m.Ledger.GetFileContext(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, fc)
		})
	},
}

func init() {
	findingsCmd.AddCommand(findingsAddCmd)
	findingsCmd.AddCommand(findingsContextCmd)
}
