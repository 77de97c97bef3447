package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boshu2/qgate/internal/config"
)

// baseDoc is the shared fixture: five ordinary gates, one critical gate,
// the branch/file/stage policies exercised across the tests.
const baseDoc = `
version: "1.0"
gates:
  - name: testing
    command: "go test ./..."
  - name: coverage
    command: "coverage-check --min {threshold}"
    threshold: 85
  - name: type_checking
    command: "typecheck ."
  - name: linting
    command: "lint run"
  - name: workflow_validation
    command: "workflow-lint"
    applies_to: [".github/workflows/**"]
  - name: secret_scanning
    command: "secret-scan"
    critical: true

branch_policies:
  - name: experiments
    pattern: "^test/.*"
    exempt_gates: [coverage, type_checking]
    description: "experimental branches skip slow analysis"
  - name: wip
    pattern: "^wip/.*"
    exempt_gates: [all]
    description: "work in progress"

file_pattern_rules:
  - name: workflows
    patterns: [".github/workflows/*.yml"]
    exempt_gates: [testing]
    required_gates: [workflow_validation]
    description: "workflow changes"
  - name: docs-only
    patterns: ["**/*.md"]
    exempt_gates: [testing, coverage]
    description: "documentation changes"
  - name: empty-commit
    patterns: []
    exempt_gates: [testing, coverage, linting]
    description: "empty changesets skip code gates"

stage_policies:
  pre-push:
    overrides:
      coverage:
        threshold: 70
      testing:
        timeout: 2m
  pr:
    overrides:
      coverage:
        threshold: 80
`

func mustModel(t *testing.T, doc string) *config.Model {
	t.Helper()
	m, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return m
}

func TestResolve_NilModel(t *testing.T) {
	_, err := Resolve(nil, Context{Branch: "main"})
	require.ErrorIs(t, err, ErrNilModel)
}

func TestResolve_Deterministic(t *testing.T) {
	m := mustModel(t, baseDoc)
	ctx := Context{
		Branch:       "test/foo",
		ChangedFiles: []string{".github/workflows/ci.yml", "README.md"},
		Stage:        config.StagePrePush,
	}

	first, err := Resolve(m, ctx)
	require.NoError(t, err)
	second, err := Resolve(m, ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical inputs must yield identical decisions")
}

func TestResolve_WorkflowChangeOnExperimentBranch(t *testing.T) {
	// Branch policy exempts coverage and type_checking; the workflow file
	// rule exempts testing but requires workflow_validation. Linting was
	// never exempted and secret_scanning is critical.
	m := mustModel(t, baseDoc)
	d, err := Resolve(m, Context{
		Branch:       "test/foo",
		ChangedFiles: []string{".github/workflows/ci.yml"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"linting", "workflow_validation", "secret_scanning"}, d.GateNames())
	assert.ElementsMatch(t, []string{"testing", "coverage", "type_checking"}, d.Exempted)
	assert.Empty(t, d.Violations)
	require.Len(t, d.MatchedPolicies, 2)
	assert.Contains(t, d.MatchedPolicies[0], "experiments")
	assert.Contains(t, d.MatchedPolicies[1], "workflows")
}

func TestResolve_MainRunsFullRegistry(t *testing.T) {
	m := mustModel(t, baseDoc)
	d, err := Resolve(m, Context{
		Branch:       "main",
		ChangedFiles: []string{"src/app.go"},
	})
	require.NoError(t, err)

	// workflow_validation is not applicable (no workflow files changed);
	// everything else runs at base strength.
	assert.Equal(t, []string{"testing", "coverage", "type_checking", "linting", "secret_scanning"}, d.GateNames())
	assert.Empty(t, d.Exempted)
	assert.Equal(t, []string{"workflow_validation"}, d.NotApplicable)

	coverage := findGate(t, d, "coverage")
	require.NotNil(t, coverage.Threshold)
	assert.Equal(t, 85.0, *coverage.Threshold, "base threshold without a stage policy")
}

func TestResolve_RequiredOverridesExempt(t *testing.T) {
	// workflow_validation is required by the workflows rule even when a
	// second rule exempts it.
	m := mustModel(t, baseDoc)
	m.FileRules = append(m.FileRules, config.FilePatternRule{
		Name:     "broad-exempt",
		Patterns: []config.Pattern{config.MustPattern("**")},
		ExemptionSet: config.ExemptionSet{
			ExemptGates: []string{"workflow_validation", "linting"},
			Description: `file rule "broad-exempt"`,
		},
	})
	d, err := Resolve(m, Context{
		Branch:       "feature/x",
		ChangedFiles: []string{".github/workflows/ci.yml"},
	})
	require.NoError(t, err)

	assert.Contains(t, d.GateNames(), "workflow_validation", "an explicit requirement beats any exemption")
	assert.NotContains(t, d.GateNames(), "linting")
	assert.NotContains(t, d.Exempted, "workflow_validation")
}

func TestResolve_FileRuleUnion(t *testing.T) {
	// Both the docs rule and the workflows rule match; their exemptions
	// union.
	m := mustModel(t, baseDoc)
	d, err := Resolve(m, Context{
		Branch:       "feature/x",
		ChangedFiles: []string{"README.md", ".github/workflows/ci.yml"},
	})
	require.NoError(t, err)

	assert.Contains(t, d.Exempted, "testing")
	assert.Contains(t, d.Exempted, "coverage")
	assert.Contains(t, d.GateNames(), "workflow_validation")
}

func TestResolve_EmptyCommitSentinel(t *testing.T) {
	m := mustModel(t, baseDoc)

	d, err := Resolve(m, Context{Branch: "feature/x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"testing", "coverage", "linting"}, d.Exempted)

	d, err = Resolve(m, Context{Branch: "feature/x", ChangedFiles: []string{"main.go"}})
	require.NoError(t, err)
	assert.Empty(t, d.Exempted, "the sentinel rule must not match a non-empty changeset")
}

func TestResolve_AllSentinelSparesCritical(t *testing.T) {
	m := mustModel(t, baseDoc)
	d, err := Resolve(m, Context{
		Branch:       "wip/scratch",
		ChangedFiles: []string{"main.go"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"secret_scanning"}, d.GateNames(), `"all" exempts every non-critical gate only`)
	assert.NotContains(t, d.Exempted, "secret_scanning")
}

func TestResolve_CriticalGateNeverExempted(t *testing.T) {
	// The loader rejects critical gates in exempt lists, so build the
	// model by hand to exercise the runtime guard.
	m := mustModel(t, baseDoc)
	m.BranchPolicies = append([]config.BranchPolicy{{
		Name:       "malicious",
		RawPattern: "",
		ExemptionSet: config.ExemptionSet{
			ExemptGates: []string{"secret_scanning", "linting"},
			Description: `branch policy "malicious"`,
		},
	}}, m.BranchPolicies...)

	d, err := Resolve(m, Context{
		Branch:       "malicious",
		ChangedFiles: []string{"main.go"},
	})
	require.NoError(t, err)

	assert.Contains(t, d.GateNames(), "secret_scanning", "the guard must reinstate the critical gate")
	assert.NotContains(t, d.Exempted, "secret_scanning")
	assert.Contains(t, d.Exempted, "linting", "non-critical exemptions still apply")

	require.Len(t, d.Violations, 1)
	assert.Equal(t, "secret_scanning", d.Violations[0].Gate)
	assert.Contains(t, d.Violations[0].Policy, "malicious")
}

func TestResolve_StageOverrides(t *testing.T) {
	m := mustModel(t, baseDoc)
	ctx := Context{Branch: "feature/x", ChangedFiles: []string{"main.go"}}

	tests := []struct {
		name          string
		stage         config.Stage
		wantThreshold float64
		wantTimeout   time.Duration
	}{
		{"pre-push relaxes", config.StagePrePush, 70, 2 * time.Minute},
		{"pr relaxes less", config.StagePR, 80, 5 * time.Minute},
		{"push-to-main uses base", config.StagePushToMain, 85, 5 * time.Minute},
		{"unknown stage uses base", "", 85, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx.Stage = tt.stage
			d, err := Resolve(m, ctx)
			require.NoError(t, err)

			coverage := findGate(t, d, "coverage")
			require.NotNil(t, coverage.Threshold)
			assert.Equal(t, tt.wantThreshold, *coverage.Threshold)

			tg := findGate(t, d, "testing")
			assert.Equal(t, tt.wantTimeout, tg.Timeout)
		})
	}
}

func TestResolve_ThresholdSubstitution(t *testing.T) {
	m := mustModel(t, baseDoc)
	d, err := Resolve(m, Context{
		Branch:       "feature/x",
		ChangedFiles: []string{"main.go"},
		Stage:        config.StagePrePush,
	})
	require.NoError(t, err)

	coverage := findGate(t, d, "coverage")
	assert.Equal(t, "coverage-check --min 70", coverage.Command,
		"the executor must receive a final command, placeholder resolved against the effective threshold")
}

func TestResolve_DisabledGateNeverRuns(t *testing.T) {
	doc := `
version: "1.0"
gates:
  - name: testing
    command: "go test"
  - name: legacy_check
    command: "legacy"
    enabled: false
`
	m := mustModel(t, doc)
	d, err := Resolve(m, Context{Branch: "main", ChangedFiles: []string{"main.go"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"testing"}, d.GateNames())
	assert.NotContains(t, d.Exempted, "legacy_check", "disabled is not an exemption")
}

func TestResolve_AppliesToIsNotAnExemption(t *testing.T) {
	m := mustModel(t, baseDoc)

	// Empty changeset: the applies_to gate matches nothing.
	d, err := Resolve(m, Context{Branch: "main"})
	require.NoError(t, err)
	assert.Contains(t, d.NotApplicable, "workflow_validation")
	assert.NotContains(t, d.Exempted, "workflow_validation")
}

func TestResolve_MatchWarningsSurfaced(t *testing.T) {
	m := mustModel(t, baseDoc)
	m.BranchPolicies = append([]config.BranchPolicy{
		{Name: "broken", RawPattern: "("},
	}, m.BranchPolicies...)

	d, err := Resolve(m, Context{Branch: "test/foo", ChangedFiles: []string{"main.go"}})
	require.NoError(t, err, "a broken pattern is a warning, not a resolution failure")
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], "broken")
	assert.Contains(t, d.Exempted, "coverage", "later policies still match")
}

func findGate(t *testing.T, d *Decision, name string) ResolvedGate {
	t.Helper()
	for _, g := range d.Gates {
		if g.Name == name {
			return g
		}
	}
	t.Fatalf("gate %q not in decision (have %v)", name, d.GateNames())
	return ResolvedGate{}
}
