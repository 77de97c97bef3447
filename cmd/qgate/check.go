package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/qgate/internal/config"
	"github.com/boshu2/qgate/internal/metrics"
	"github.com/boshu2/qgate/internal/resolve"
)

var (
	checkBranch       string
	checkStage        string
	checkChangedFiles []string
	checkFromStdin    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve the gate set for a context",
	Long: `Resolve which gates must run for the given branch, changed files,
and pipeline stage, and print the decision.

The caller gathers the context from git; qgate never runs git itself.
When the branch cannot be determined, pass nothing: the engine then
assumes main (the strictest default). When --stage is omitted, the stage
is auto-detected from CI environment variables, falling back to the base
(strictest) configuration.

Exit code 2 means the configuration itself is invalid. That is a policy
problem, not a problem with your changes; the calling hook must fail
closed and run every gate.

Examples:
  qgate check --branch feature/x --changed-file src/app.go
  git diff --name-only main... | qgate check --changed-from-stdin`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkBranch, "branch", "", "Current branch (default: main, the strictest)")
	checkCmd.Flags().StringVar(&checkStage, "stage", "", "Pipeline stage: pre-push, pr, push-to-main (default: auto-detect)")
	checkCmd.Flags().StringArrayVar(&checkChangedFiles, "changed-file", nil, "Changed file path (repeatable)")
	checkCmd.Flags().BoolVar(&checkFromStdin, "changed-from-stdin", false, "Read changed file paths from stdin, one per line")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	model, err := loadModel()
	if err != nil {
		reportConfigError(err)
		os.Exit(exitConfigError)
	}

	ctx, err := gatherContext(cmd)
	if err != nil {
		return err
	}

	decision, err := resolve.Resolve(model, ctx)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	metrics.Resolutions.Inc()
	metrics.CriticalViolations.Add(float64(len(decision.Violations)))
	metrics.MatchWarnings.Add(float64(len(decision.Warnings)))
	if err := metrics.Flush(metrics.DefaultDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: persist metrics: %v\n", err)
	}

	for _, v := range decision.Violations {
		fmt.Fprintf(os.Stderr, "CRITICAL GATE VIOLATION: %s attempted to exempt critical gate %q; the gate will run anyway\n", v.Policy, v.Gate)
	}
	for _, w := range decision.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	return printDecision(cmd, model, decision)
}

// loadModel loads and validates the configuration.
func loadModel() (*config.Model, error) {
	path := config.ResolvePath(cfgFile)
	VerbosePrintf("loading config from %s\n", path)
	return config.Load(path)
}

// reportConfigError prints a config failure in a way that distinguishes
// "the policy is broken" from "your changes failed a gate".
func reportConfigError(err error) {
	fmt.Fprintln(os.Stderr, "qgate: the quality-gate configuration is invalid.")
	fmt.Fprintln(os.Stderr, "This is a configuration problem, not a problem with your changes.")
	if ce, ok := config.AsConfigError(err); ok {
		for _, p := range ce.Problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
	} else {
		fmt.Fprintf(os.Stderr, "  %v\n", err)
	}
	fmt.Fprintln(os.Stderr, "Failing closed: all gates must run until the configuration is fixed.")
}

// gatherContext assembles the resolution context from flags, stdin, and
// the environment, substituting strictest defaults for anything missing.
func gatherContext(cmd *cobra.Command) (resolve.Context, error) {
	branch := strings.TrimSpace(checkBranch)
	if branch == "" {
		// ContextUnavailable fail-safe: treat as main, never guess permissively.
		branch = "main"
		VerbosePrintf("no branch supplied, assuming main (strictest)\n")
	}

	changed := append([]string(nil), checkChangedFiles...)
	if checkFromStdin {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				changed = append(changed, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return resolve.Context{}, fmt.Errorf("read changed files: %w", err)
		}
	}

	var stage config.Stage
	if checkStage != "" {
		s, ok := config.ParseStage(checkStage)
		if !ok {
			return resolve.Context{}, fmt.Errorf("unknown stage %q; valid stages: pre-push, pr, push-to-main (check for typos, e.g. pre_push)", checkStage)
		}
		stage = s
	} else if s, ok := config.DetectStage(); ok {
		stage = s
		VerbosePrintf("detected stage %s from environment\n", s)
	}

	return resolve.Context{Branch: branch, ChangedFiles: changed, Stage: stage}, nil
}

// printDecision renders the decision in the selected output format.
func printDecision(cmd *cobra.Command, model *config.Model, d *resolve.Decision) error {
	w := cmd.OutOrStdout()

	if GetOutput() == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	if d.Stage != "" {
		fmt.Fprintf(w, "Stage: %s\n", d.Stage)
	} else {
		fmt.Fprintf(w, "Stage: base (highest standard)\n")
	}
	fmt.Fprintf(w, "Enforcement: %s\n", d.EnforcementLevel)

	for _, p := range d.MatchedPolicies {
		fmt.Fprintf(w, "Matched: %s\n", p)
	}

	fmt.Fprintf(w, "\nGates to run (%d of %d):\n", len(d.Gates), len(model.Gates))
	for _, g := range d.Gates {
		marker := " "
		if g.Critical {
			marker = "!"
		}
		fmt.Fprintf(w, "  %s %-20s timeout=%-8s", marker, g.Name, g.Timeout)
		if g.Threshold != nil {
			fmt.Fprintf(w, " threshold=%g", *g.Threshold)
		}
		fmt.Fprintln(w)
		if verbose && g.Command != "" {
			fmt.Fprintf(w, "      $ %s\n", g.Command)
		}
	}

	if len(d.Exempted) > 0 {
		fmt.Fprintf(w, "Exempted: %s\n", strings.Join(d.Exempted, ", "))
	}
	if len(d.NotApplicable) > 0 {
		fmt.Fprintf(w, "Not applicable: %s\n", strings.Join(d.NotApplicable, ", "))
	}

	return nil
}
