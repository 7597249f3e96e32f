package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/GeoAziz/netverse-engine/internal/command"
)

var logsFlags command.QueryLogsParams

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query stored traffic records",
	Long: `Query records persisted by the pipeline, most recent first.

Examples:
  netverse logs --limit 20
  netverse logs --protocol TCP --source 192.168.1.10
  netverse logs --start 2026-08-29T00:00:00Z`,
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().QueryLogs(context.Background(), logsFlags)
		if err != nil {
			exitWithError("query logs", err)
		}
		printResult(resp)
	},
}

var summaryHours int

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize recent traffic",
	Long: `Aggregate recent traffic: totals, per-protocol counts and the top
sources, destinations and destination ports.

Examples:
  netverse summary
  netverse summary --hours 48`,
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().Summarize(context.Background(), summaryHours)
		if err != nil {
			exitWithError("summarize traffic", err)
		}
		printResult(resp)
	},
}

func init() {
	logsCmd.Flags().IntVar(&logsFlags.Limit, "limit", 0, "maximum records to return (default 100, cap 1000)")
	logsCmd.Flags().StringVar(&logsFlags.Protocol, "protocol", "", "filter by protocol (TCP, UDP, ICMP)")
	logsCmd.Flags().StringVar(&logsFlags.SourceIP, "source", "", "filter by source address")
	logsCmd.Flags().StringVar(&logsFlags.DestIP, "dest", "", "filter by destination address")
	logsCmd.Flags().StringVar(&logsFlags.StartTime, "start", "", "records at or after this RFC 3339 time")
	logsCmd.Flags().StringVar(&logsFlags.EndTime, "end", "", "records at or before this RFC 3339 time")

	summaryCmd.Flags().IntVar(&summaryHours, "hours", 0, "lookback window in hours (default 24, cap 168)")

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(summaryCmd)
}
