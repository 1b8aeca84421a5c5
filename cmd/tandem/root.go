package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates the root tandem command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tandem",
		Short: "Agent session streaming engine",
		Long: `Tandem hosts concurrent agent sessions over a CLI backend and streams
each session's output to clients in either the backend's raw protocol or A2A.

Available subcommands:
  serve       Run the engine HTTP server
  sessions    List recorded sessions
  version     Print version information

Examples:
  tandem serve
  tandem serve --config /etc/tandem/tandem.yaml
  tandem sessions`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}
