package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Stage identifies a pipeline phase. The base gate configuration is the
// push-to-main standard; earlier stages may relax it but never extend it.
type Stage string

const (
	// StagePrePush is the local pre-push hook stage.
	StagePrePush Stage = "pre-push"

	// StagePR is the pull-request CI stage.
	StagePR Stage = "pr"

	// StagePushToMain is the strictest stage; it always uses the base config.
	StagePushToMain Stage = "push-to-main"
)

// ValidStages lists every recognized stage identifier.
var ValidStages = []Stage{StagePrePush, StagePR, StagePushToMain}

// ParseStage returns the Stage for an identifier, or false if unknown.
func ParseStage(s string) (Stage, bool) {
	for _, stage := range ValidStages {
		if string(stage) == s {
			return stage, true
		}
	}
	return "", false
}

// EnforcementLevel controls how the caller should treat gate failures.
type EnforcementLevel string

const (
	// EnforcementStrict blocks on any required gate failure.
	EnforcementStrict EnforcementLevel = "strict"

	// EnforcementAdvisory reports failures without blocking.
	EnforcementAdvisory EnforcementLevel = "advisory"

	// EnforcementDisabled turns gate enforcement off entirely.
	EnforcementDisabled EnforcementLevel = "disabled"
)

// ExemptAll is the sentinel gate name meaning "every non-critical gate".
// It is only legal inside exempt_gates lists.
const ExemptAll = "all"

// Pattern is a compiled file glob paired with its source text.
// Matching is case-sensitive; ** crosses directory separators, * does not.
type Pattern struct {
	Raw  string
	g    glob.Glob
	root glob.Glob
}

// CompilePattern compiles a glob pattern with '/' as the path separator.
// A leading "**/" also matches paths at the repository root, so
// "**/*.md" covers both "docs/a.md" and "README.md".
func CompilePattern(raw string) (Pattern, error) {
	g, err := glob.Compile(raw, '/')
	if err != nil {
		return Pattern{}, err
	}
	p := Pattern{Raw: raw, g: g}
	if rest, ok := strings.CutPrefix(raw, "**/"); ok {
		root, err := glob.Compile(rest, '/')
		if err != nil {
			return Pattern{}, err
		}
		p.root = root
	}
	return p, nil
}

// MustPattern compiles a glob pattern or panics. Test helper.
func MustPattern(raw string) Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether the pattern matches a file path.
func (p Pattern) Match(path string) bool {
	if p.g == nil {
		return false
	}
	if p.g.Match(path) {
		return true
	}
	return p.root != nil && p.root.Match(path)
}

// GateDefinition describes a single validation check. Immutable after load.
type GateDefinition struct {
	// Name is the unique registry key.
	Name string

	// Enabled gates are considered for execution; disabled gates never run.
	Enabled bool

	// Critical gates can never be exempted by any policy.
	Critical bool

	// Command is the opaque invocation descriptor handed to the executor.
	Command string

	// Threshold is an optional numeric parameter (e.g., coverage percent).
	Threshold *float64

	// Timeout bounds a single execution of the gate.
	Timeout time.Duration

	// FailMessage is shown to the operator when the gate fails.
	FailMessage string

	// AppliesTo optionally limits when the gate is even considered:
	// empty means always; otherwise at least one changed file must match.
	AppliesTo []Pattern
}

// GateOverride is a partial gate configuration supplied by a policy.
// Nil fields leave the base value untouched.
type GateOverride struct {
	Threshold *float64
	Command   *string
	Timeout   *time.Duration
}

// ExemptionSet is what every policy source contributes to resolution.
type ExemptionSet struct {
	// ExemptGates are validated gate names, or the ExemptAll sentinel.
	ExemptGates []string

	// RequiredGates always run when this policy matches, overriding
	// exemptions from any other matched policy.
	RequiredGates []string

	// Overrides adjusts gate parameters without adding or removing gates.
	Overrides map[string]GateOverride

	// Description is the human-readable audit label for this policy.
	Description string
}

// BranchPolicy matches when its name equals the branch exactly or its
// pattern matches. Declaration order in config is significant: the first
// matching policy wins and later policies are ignored.
type BranchPolicy struct {
	Name       string
	RawPattern string
	Pattern    *regexp.Regexp

	ExemptionSet
}

// FilePatternRule matches when any of its globs matches any changed file.
// A rule with no patterns matches only a fully empty changeset (the
// empty-commit sentinel). All matching rules apply; exemptions are unioned.
type FilePatternRule struct {
	Name     string
	Patterns []Pattern

	ExemptionSet
}

// StagePolicy supplies partial overrides for one stage. Absence of an
// entry for a stage means the base (strictest) configuration applies.
type StagePolicy struct {
	Stage     Stage
	Overrides map[string]GateOverride
}

// Model is the fully validated in-memory configuration. A Model is never
// partially constructed: Load either returns a complete Model or an error.
type Model struct {
	Version          string
	EnforcementLevel EnforcementLevel

	// Gates is the registry in execution order.
	Gates []GateDefinition

	BranchPolicies []BranchPolicy
	FileRules      []FilePatternRule
	StagePolicies  map[Stage]StagePolicy

	// Warnings are non-fatal load-time observations (unknown keys,
	// suspicious but legal policies).
	Warnings []string
}

// Gate looks up a gate definition by name.
func (m *Model) Gate(name string) (*GateDefinition, bool) {
	for i := range m.Gates {
		if m.Gates[i].Name == name {
			return &m.Gates[i], true
		}
	}
	return nil, false
}

// GateNames returns registry names in execution order.
func (m *Model) GateNames() []string {
	names := make([]string, 0, len(m.Gates))
	for _, g := range m.Gates {
		names = append(names, g.Name)
	}
	return names
}
