package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeoAziz/netverse-engine/internal/config"
)

var configInitOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Render the default configuration to a file. The stream token is left
empty and must be filled in (or provided via NETVERSE_STREAM_TOKEN) before
the daemon will start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configInitOutput); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configInitOutput)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(configFile); err != nil {
			return err
		}
		fmt.Printf("%s is valid\n", configFile)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "netverse.yml", "output path")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
