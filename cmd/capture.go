package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/GeoAziz/netverse-engine/internal/capture"
)

var startFlags capture.SourceConfig

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capturing on a network device",
	Long: `Ask the running daemon to start a capture session.

Examples:
  netverse start -i eth0
  netverse start -i eth0 -f "tcp port 443"
  netverse start -i eth0 --engine afpacket`,
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().CaptureStart(context.Background(), startFlags)
		if err != nil {
			exitWithError("start capture", err)
		}
		printResult(resp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active capture session",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().CaptureStop(context.Background())
		if err != nil {
			exitWithError("stop capture", err)
		}
		printResult(resp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and capture status",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().DaemonStatus(context.Background())
		if err != nil {
			exitWithError("query daemon status", err)
		}
		printResult(resp)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().DaemonShutdown(context.Background())
		if err != nil {
			exitWithError("shut daemon down", err)
		}
		printResult(resp)
	},
}

func init() {
	startCmd.Flags().StringVarP(&startFlags.Device, "interface", "i", "", "network device to capture on (defaults to the daemon's configured device)")
	startCmd.Flags().StringVar((*string)(&startFlags.Engine), "engine", "", "capture engine (pcap or afpacket)")
	startCmd.Flags().StringVarP(&startFlags.BPFFilter, "filter", "f", "", "BPF filter expression")
	startCmd.Flags().IntVar(&startFlags.SnapLen, "snaplen", 0, "bytes to capture per packet (0 = config default)")
	startCmd.Flags().BoolVar(&startFlags.Promiscuous, "promisc", false, "enable promiscuous mode")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(shutdownCmd)
}
