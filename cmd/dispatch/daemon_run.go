package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dispatch/internal/daemonrun"
)

// newDaemonRunCommand runs the daemon loop in the foreground. `dispatch
// start` launches this subcommand as a detached process.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the dispatch daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			opts := daemonrun.Options{LogLevel: strings.TrimSpace(logLevel)}
			if ctx.socketFlag != nil {
				opts.SocketPath = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}
