package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dispatch/internal/ipc"
)

func newDLQCommand(ctx *commandContext) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage the dead letter queue",
	}

	dlqCmd.AddCommand(newDLQListCommand(ctx))
	dlqCmd.AddCommand(newDLQReprocessCommand(ctx))
	dlqCmd.AddCommand(newDLQEscalateCommand(ctx))

	return dlqCmd
}

func newDLQListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DLQList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Entries)
				}
				if len(resp.Entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Dead letter queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"Entry", "Item", "Reason", "Attempts", "Reprocessable", "Escalated", "Last Failure"},
					buildDLQRows(resp.Entries),
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}

func newDLQReprocessCommand(ctx *commandContext) *cobra.Command {
	var triggeredBy string

	cmd := &cobra.Command{
		Use:   "reprocess <entry-id>",
		Short: "Requeue a dead lettered work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID := strings.TrimSpace(args[0])
			if entryID == "" {
				return errors.New("entry id is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DLQReprocess(entryID, strings.TrimSpace(triggeredBy))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued work item %d (attempt %d)\n",
					resp.Entry.WorkItemID, resp.Entry.ReprocessAttempts)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&triggeredBy, "triggered-by", "", "Operator or agent requesting the reprocess")
	return cmd
}

func newDLQEscalateCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "escalate <entry-id>",
		Short: "Escalate a dead letter entry for human attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID := strings.TrimSpace(args[0])
			if entryID == "" {
				return errors.New("entry id is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DLQEscalate(entryID, strings.TrimSpace(reason))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Escalated entry %s (work item %d)\n",
					resp.Entry.ID, resp.Entry.WorkItemID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the entry needs attention")
	return cmd
}
