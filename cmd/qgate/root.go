package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	output  string
	cfgFile string
)

// Exit codes. Callers treat exitConfigError as "fail closed": run every
// gate, skip nothing, because the policy itself could not be trusted.
const (
	exitOK          = 0
	exitConfigError = 2
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "qgate",
	Short: "Quality-gate policy resolution engine",
	Long: `qgate decides which quality gates must run for a push, PR, or merge.

Given the current branch, the changed files, and the pipeline stage, it
resolves the configured branch policies, file pattern rules, and stage
relaxations into a single decision: which gates run, with what
thresholds, commands, and timeouts. It never runs gates itself; the
surrounding hook or CI job executes the decision.

Core Commands:
  check        Resolve the gate set for a context
  validate     Validate the policy configuration
  bypass       Record an emergency bypass
  watch        Hot-reload the config and print decisions on change
  metrics      Dump engine counters in Prometheus text format`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .qgate/quality-gates.yaml)")
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
