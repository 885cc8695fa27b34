package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dispatch/internal/ipc"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Inspect and manage work items",
	}

	workCmd.AddCommand(newWorkStatusCommand(ctx))
	workCmd.AddCommand(newWorkListCommand(ctx))
	workCmd.AddCommand(newWorkDescribeCommand(ctx))
	workCmd.AddCommand(newWorkSubmitCommand(ctx))
	workCmd.AddCommand(newWorkCancelCommand(ctx))

	return workCmd
}

func newWorkStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show work queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(status.QueueStats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newWorkListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(listStatuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Items)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Session", "Task", "Status", "Priority", "Agent", "Retries", "Created"},
					buildWorkItemRows(resp.Items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by work item status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}

func newWorkDescribeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <item-id>",
		Short: "Show a single work item in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid work item id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(id)
				if err != nil {
					return err
				}
				return writeJSON(cmd, resp.Item)
			})
		},
	}
}

func newWorkSubmitCommand(ctx *commandContext) *cobra.Command {
	var req ipc.EnqueueRequest

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.SessionID) == "" {
				return errors.New("--session is required")
			}
			if strings.TrimSpace(req.TaskType) == "" {
				return errors.New("--type is required")
			}
			if deadline := strings.TrimSpace(req.Deadline); deadline != "" {
				if _, err := time.Parse(time.RFC3339, deadline); err != nil {
					return fmt.Errorf("invalid --deadline %q: expected RFC3339 timestamp", deadline)
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted work item %d (%s)\n", resp.Item.ID, resp.Item.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.SessionID, "session", "", "Session the work item belongs to")
	cmd.Flags().StringVar(&req.WorkflowID, "workflow", "", "Workflow the work item belongs to")
	cmd.Flags().StringVar(&req.TaskType, "type", "", "Task type")
	cmd.Flags().StringSliceVar(&req.Capabilities, "capability", nil, "Required agent capability (repeatable)")
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "Scheduling priority (higher runs first)")
	cmd.Flags().StringVar(&req.Deadline, "deadline", "", "RFC3339 deadline for priority aging")
	cmd.Flags().StringVar(&req.Payload, "payload", "", "JSON payload for the task handler")
	cmd.Flags().StringVar(&req.CreatedByAgentID, "created-by", "", "Agent submitting the work item")
	return cmd
}

func newWorkCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item-id> [item-id...]",
		Short: "Cancel work items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid work item id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueCancel(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d of %d items\n", resp.Updated, len(ids))
				return nil
			})
		},
	}
}
