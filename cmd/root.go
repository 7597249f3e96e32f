// Package cmd implements the netverse CLI with cobra.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GeoAziz/netverse-engine/internal/command"
)

var (
	configFile string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "netverse",
	Short: "NetVerse - network traffic capture and analysis engine",
	Long: `NetVerse captures live network traffic, enriches it with geolocation and
reputation context, streams it to WebSocket clients and persists it for
historical queries.

The daemon runs the pipeline; the other commands drive it over its local
control socket.`,
	Version: "0.1.0",
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netverse/netverse.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/netverse.sock",
		"daemon control socket path")
}

func newClient() *command.UDSClient {
	return command.NewUDSClient(socketPath, 10*time.Second)
}

// printResult renders a command result as indented JSON.
func printResult(resp *command.Response) {
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("daemon returned error %d: %s", resp.Error.Code, resp.Error.Message), nil)
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		exitWithError("format result", err)
	}
	fmt.Println(string(out))
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
