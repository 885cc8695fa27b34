package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dispatch/internal/ipc"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect workflow phase state",
	}

	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowSummaryCommand(ctx))

	return workflowCmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow and its transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowDescribe(workflowID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				workflow := resp.Workflow
				for _, line := range renderSectionHeader("Workflow "+workflow.WorkflowID, colorize) {
					fmt.Fprintln(stdout, line)
				}
				if workflow.Name != "" {
					fmt.Fprintln(stdout, renderStatusLine("Name", statusInfo, workflow.Name, colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Phase", statusInfo, workflow.CurrentPhase, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Status", statusInfo, formatStatusLabel(workflow.Status), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Started", statusInfo, formatDisplayTime(workflow.StartedAt), colorize))
				if workflow.CompletedAt != "" {
					fmt.Fprintln(stdout, renderStatusLine("Completed", statusInfo, formatDisplayTime(workflow.CompletedAt), colorize))
				}

				if len(resp.Transitions) > 0 {
					fmt.Fprintln(stdout)
					table := renderTable(
						[]string{"From", "To", "Status", "Duration", "At"},
						buildTransitionRows(resp.Transitions),
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					)
					fmt.Fprintln(stdout, table)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}

func newWorkflowSummaryCommand(ctx *commandContext) *cobra.Command {
	var window time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show aggregate phase statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowSummary(int(window.Seconds()))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Summary)
				}

				stdout := cmd.OutOrStdout()
				summary := resp.Summary
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader(fmt.Sprintf("Phase Activity (last %s)", window), colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Transitions", statusInfo,
					fmt.Sprintf("%d total, %d successful, %d unsuccessful", summary.Total, summary.Successful, summary.Unsuccessful),
					colorize))
				fmt.Fprintln(stdout, renderStatusLine("Avg duration", statusInfo, formatDurationMS(summary.AvgDurationMS), colorize))

				rows := buildPhaseSummaryRows(summary)
				if len(rows) > 0 {
					fmt.Fprintln(stdout)
					table := renderTable(
						[]string{"Phase", "Count", "Avg Duration"},
						rows,
						[]columnAlignment{alignLeft, alignRight, alignRight},
					)
					fmt.Fprintln(stdout, table)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", time.Hour, "Rolling window to aggregate over")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}
