package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dispatch/internal/ipc"
)

func newAgentsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AgentList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Agents)
				}
				if len(resp.Agents) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No agents registered")
					return nil
				}
				table := renderTable(
					[]string{"Agent", "Tier", "Capabilities", "Status", "Load", "Heartbeat"},
					buildAgentRows(resp.Agents),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	return cmd
}
