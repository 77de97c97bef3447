package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boshu2/qgate/internal/config"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Hot-reload the config and report changes",
	Long: `Watch the configuration file and revalidate it on every change.

Intended for long-lived CI runners: a new model is swapped in atomically
only when the whole document validates, so an in-progress or broken edit
never replaces the running policy. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := config.ResolvePath(cfgFile)

	onReload := func(model *config.Model, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "reload rejected, previous config stays active:\n")
			reportConfigError(err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reloaded: %d gates, %d branch policies, %d file rules\n",
			len(model.Gates), len(model.BranchPolicies), len(model.FileRules))
	}

	w, err := config.NewWatcher(path, onReload)
	if err != nil {
		reportConfigError(err)
		os.Exit(exitConfigError)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		_ = w.Close() //nolint:errcheck // shutting down
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s (%d gates loaded)\n", path, len(w.Model().Gates))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
