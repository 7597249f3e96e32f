package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeoAziz/netverse-engine/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the netverse daemon in the foreground",
	Long: `Run the netverse daemon process in the foreground.

The daemon:
  1. Loads configuration from the config file
  2. Initializes logging and metrics
  3. Starts the pipeline, the WebSocket stream and the control socket
  4. Waits for capture commands from the CLI
  5. Handles SIGTERM/SIGINT for graceful shutdown and SIGHUP for reload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile)
		if err != nil {
			return fmt.Errorf("create daemon: %w", err)
		}
		if err := d.Start(); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		return d.Run()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
