package resolve

import (
	"time"

	"github.com/boshu2/qgate/internal/config"
)

// Context is the read-only snapshot of version-control state the caller
// supplies. The engine never runs git itself.
type Context struct {
	// Branch is the current branch name. Callers that cannot determine
	// the branch must substitute "main" (strictest default).
	Branch string `json:"branch"`

	// ChangedFiles are repository-relative paths with '/' separators.
	ChangedFiles []string `json:"changed_files"`

	// Stage is the pipeline phase. Empty means undetectable; the base
	// (strictest) configuration applies.
	Stage config.Stage `json:"stage"`
}

// ResolvedGate is a gate selected to run, with effective parameters after
// policy overrides.
type ResolvedGate struct {
	Name        string        `json:"name"`
	Critical    bool          `json:"critical"`
	Command     string        `json:"command"`
	Threshold   *float64      `json:"threshold,omitempty"`
	Timeout     time.Duration `json:"timeout"`
	FailMessage string        `json:"fail_message,omitempty"`
}

// Violation records a policy's attempt to exempt a critical gate. The gate
// still runs; the violation exists for the audit trail.
type Violation struct {
	Gate   string `json:"gate"`
	Policy string `json:"policy"`
}

// Decision is the complete output of one resolution. It is a pure value,
// recomputed on every call: identical (config, context) inputs always
// produce identical Decisions.
type Decision struct {
	Stage            config.Stage            `json:"stage"`
	EnforcementLevel config.EnforcementLevel `json:"enforcement_level"`

	// Gates to run, in registry execution order, with overrides applied.
	Gates []ResolvedGate `json:"gates_to_run"`

	// Exempted gates skipped because a matched policy exempted them.
	Exempted []string `json:"exempted_gates,omitempty"`

	// NotApplicable gates were skipped because their applies_to filter
	// matched nothing in the changeset. This is not an exemption.
	NotApplicable []string `json:"not_applicable_gates,omitempty"`

	// MatchedPolicies are the audit descriptions of every policy that
	// contributed to this decision.
	MatchedPolicies []string `json:"matched_policies,omitempty"`

	// Warnings are non-fatal resolution-time observations.
	Warnings []string `json:"warnings,omitempty"`

	// Violations are critical-gate exemption attempts overridden by the
	// guard.
	Violations []Violation `json:"critical_violations,omitempty"`
}

// GateNames returns the names of the gates to run, in order.
func (d *Decision) GateNames() []string {
	names := make([]string, 0, len(d.Gates))
	for _, g := range d.Gates {
		names = append(names, g.Name)
	}
	return names
}
