package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sessionmesh"
	"github.com/hupe1980/sessionmesh/core"
)

var (
	reportSections []string
	reportStyle    string
	reportPretty   bool
	reportWidth    int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build and render the progressive report",
}

var reportInitCmd = &cobra.Command{
	Use:   "init <session>",
	Short: "Declare the report sections in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		style := core.ReportStyle(reportStyle)
		if style == "" {
			style = core.ReportStyle(cfg.Report.Style)
		}
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			return m.Report.Initialize(ctx, args[0], reportSections, style)
		})
	},
}

var reportAppendCmd = &cobra.Command{
	Use:   "append <session> <section> <text>",
	Short: "Append text to a section",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			return m.Report.Update(ctx, args[0], args[1], args[2], nil)
		})
	},
}

var reportFinalizeCmd = &cobra.Command{
	Use:   "finalize <session>",
	Short: "Render the report as Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMesh(cmd, func(ctx context.Context, m *sessionmesh.Mesh) error {
			doc, err := m.Report.Finalize(ctx, args[0])
			if err != nil {
				return err
			}
			if reportPretty {
				doc, err = renderPretty(doc, reportWidth)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), doc)
			return err
		})
	},
}

// renderPretty styles Markdown for a terminal.
func renderPretty(doc string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	return r.Render(doc)
}

func init() {
	reportInitCmd.Flags().StringSliceVarP(&reportSections, "section", "s", nil, "Section names in order (repeatable)")
	reportInitCmd.Flags().StringVar(&reportStyle, "style", "", "Row style: table or list (default from config)")
	_ = reportInitCmd.MarkFlagRequired("section")
	reportFinalizeCmd.Flags().BoolVar(&reportPretty, "pretty", false, "Render for the terminal")
	reportFinalizeCmd.Flags().IntVar(&reportWidth, "width", 100, "Word wrap width for --pretty")

	reportCmd.AddCommand(reportInitCmd)
	reportCmd.AddCommand(reportAppendCmd)
	reportCmd.AddCommand(reportFinalizeCmd)
}
