// Command svcwrap runs a worker daemon under the host service manager and
// manages its registration.
//
// Without a subcommand it runs as the service itself. The install, remove,
// start, stop, status and restart subcommands act on the registered service;
// debug runs the service in the foreground with console logging.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "svcwrap",
	Short: "Service supervisor for a long-running worker daemon",
	Long: `svcwrap is registered with the host service manager (systemd or the
Windows Service Control Manager). When started by the host it launches the
worker daemon, monitors it and stops it within a bounded time on request.

Configuration is read from $SVCWRAP_CONFIG or svcwrap.yaml beside the
executable, with SVCWRAP_* environment overrides.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runService(cmd.Context(), false)
	},
}

func init() {
	rootCmd.AddCommand(
		installCmd,
		removeCmd,
		startCmd,
		stopCmd,
		statusCmd,
		restartCmd,
		debugCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
