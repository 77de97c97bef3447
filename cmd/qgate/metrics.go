package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/qgate/internal/metrics"
)

var metricsDir string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Dump engine counters in Prometheus text format",
	Long: `Print the accumulated engine counters in Prometheus text exposition
format. Every check and bypass run merges its counters into a textfile,
so values accumulate across runs; point the node-exporter textfile
collector at the same file to scrape them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := metrics.Read(metricsDir)
		if err != nil {
			return fmt.Errorf("read metrics: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsDir, "dir", metrics.DefaultDir, "Directory holding the metrics textfile")
	rootCmd.AddCommand(metricsCmd)
}
