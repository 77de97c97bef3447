package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boshu2/qgate/internal/config"
)

var validateStrictRelaxations bool

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate the policy configuration",
	Long: `Load and validate the quality-gate configuration without resolving
anything. Every problem is reported, not just the first.

With --strict-relaxations, stage overrides that tighten the base config
(raise a threshold, shrink a timeout) are rejected too. By default only
the relaxation direction convention is documented, not enforced.

Examples:
  qgate validate
  qgate validate ci/quality-gates.yaml --strict-relaxations`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrictRelaxations, "strict-relaxations", false, "Reject stage overrides that tighten the base config")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if len(args) > 0 {
		path = args[0]
	}
	path = config.ResolvePath(path)

	var opts []config.Option
	if validateStrictRelaxations {
		opts = append(opts, config.WithRelaxationCheck())
	}

	model, err := config.Load(path, opts...)
	if err != nil {
		reportConfigError(err)
		os.Exit(exitConfigError)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: OK (%d gates, %d branch policies, %d file rules, %d stage policies)\n",
		path, len(model.Gates), len(model.BranchPolicies), len(model.FileRules), len(model.StagePolicies))
	for _, warning := range model.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}
