package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/qgate/internal/bypass"
	"github.com/boshu2/qgate/internal/metrics"
)

var (
	bypassReason string
	bypassBranch string
	bypassDir    string
)

var bypassCmd = &cobra.Command{
	Use:   "bypass",
	Short: "Record an emergency bypass",
	Long: `Record that gate enforcement was manually overridden, and check the
recent history for abuse.

Bypasses are an escape hatch and are never blocked. The record is
append-only evidence; if the same reason keeps recurring inside the
abuse window, an advisory alert suggests the policy itself is defective.

Examples:
  qgate bypass --reason "Production outage - rollback needed"`,
	RunE: runBypass,
}

func init() {
	bypassCmd.Flags().StringVar(&bypassReason, "reason", "", "Why enforcement was overridden (required)")
	bypassCmd.Flags().StringVar(&bypassBranch, "branch", "", "Branch the bypass applies to")
	bypassCmd.Flags().StringVar(&bypassDir, "dir", bypass.DefaultDir, "Directory holding the bypass log")
	_ = bypassCmd.MarkFlagRequired("reason") //nolint:errcheck // flag is registered above
	rootCmd.AddCommand(bypassCmd)
}

func runBypass(cmd *cobra.Command, args []string) error {
	tracker := bypass.NewTracker(bypass.WithDir(bypassDir))

	now := time.Now()
	rec, err := tracker.Append(bypassReason, bypassBranch, now)
	if err != nil {
		return fmt.Errorf("record bypass: %w", err)
	}
	metrics.Bypasses.Inc()

	alert, err := tracker.CheckAbuse(now)
	if err != nil {
		return fmt.Errorf("check abuse: %w", err)
	}
	if alert != nil {
		metrics.BypassAlerts.Inc()
	}
	if err := metrics.Flush(metrics.DefaultDir); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: persist metrics: %v\n", err)
	}

	w := cmd.OutOrStdout()
	if GetOutput() == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Record *bypass.Record `json:"record"`
			Alert  *bypass.Alert  `json:"alert,omitempty"`
		}{rec, alert})
	}

	fmt.Fprintf(w, "Bypass recorded: %s (%s)\n", rec.ID, rec.Timestamp.Format(time.RFC3339))
	if alert != nil {
		fmt.Fprintf(w, "ALERT: %s\n", alert.Message)
	}
	return nil
}
