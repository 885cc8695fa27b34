package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dispatch/internal/ipc"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect agent sessions",
	}

	sessionsCmd.AddCommand(newSessionListCommand(ctx))
	sessionsCmd.AddCommand(newSessionProgressCommand(ctx))

	return sessionsCmd
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Sessions)
				}
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded")
					return nil
				}
				table := renderTable(
					[]string{"Session", "Orchestrator", "Status", "Created", "Last Activity"},
					buildSessionRows(resp.Sessions),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}

func newSessionProgressCommand(ctx *commandContext) *cobra.Command {
	var includeItems bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "progress <session-id>",
		Short: "Show aggregate progress for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionProgress(sessionID, includeItems)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Progress)
				}

				stdout := cmd.OutOrStdout()
				progress := resp.Progress
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Session "+progress.Session.SessionID, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Status", statusInfo, formatStatusLabel(progress.Session.Status), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo,
					fmt.Sprintf("%.1f%% (%d/%d completed, %d failed, %d cancelled)",
						progress.Percent, progress.Completed, progress.Total, progress.Failed, progress.Cancelled),
					colorize))

				if includeItems && len(progress.Items) > 0 {
					fmt.Fprintln(stdout)
					table := renderTable(
						[]string{"ID", "Session", "Task", "Status", "Priority", "Agent", "Retries", "Created"},
						buildWorkItemRows(progress.Items),
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
					)
					fmt.Fprintln(stdout, table)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&includeItems, "items", false, "Include per-item detail")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}
