// Package resolve decides which quality gates run for a given context.
// Resolution is a pure function of (model, context): no clock, no
// filesystem, no shared state. It is safe to call concurrently from
// parallel CI jobs without coordination.
package resolve

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/boshu2/qgate/internal/config"
	"github.com/boshu2/qgate/internal/match"
)

// ErrNilModel is returned when Resolve is called without a loaded model.
var ErrNilModel = errors.New("nil config model")

// Resolve computes the gate run set for one invocation.
//
// Exemptions from the matched branch policy and every matched file rule
// are unioned; required gates are unioned the same way and win over any
// exemption of the same gate (an explicit requirement is a stronger
// signal than a broad exemption). The critical-gate guard then reinstates
// any critical gate the composed exemptions tried to remove. Finally the
// stage policy's partial overrides adjust parameters of the surviving
// gates; stage policies never add or remove gates.
func Resolve(model *config.Model, ctx Context) (*Decision, error) {
	if model == nil {
		return nil, ErrNilModel
	}

	branchPolicy, warnings := match.Branch(ctx.Branch, model.BranchPolicies)
	fileRules := match.Files(ctx.ChangedFiles, model.FileRules)
	stagePolicy, stageActive := stageOverrides(model, ctx.Stage)

	exemptedBy, requiredBy := composeExemptions(model, branchPolicy, fileRules)
	reinstated, violations := enforceCritical(model, exemptedBy)

	d := &Decision{
		Stage:            ctx.Stage,
		EnforcementLevel: model.EnforcementLevel,
		Warnings:         warnings,
		Violations:       violations,
	}
	d.MatchedPolicies = matchedDescriptions(branchPolicy, fileRules, stagePolicy, stageActive)

	for _, g := range model.Gates {
		if !g.Enabled {
			continue
		}
		if !applies(g, ctx.ChangedFiles) {
			d.NotApplicable = append(d.NotApplicable, g.Name)
			continue
		}

		_, required := requiredBy[g.Name]
		_, exempted := exemptedBy[g.Name]
		if exempted && !required && !reinstated[g.Name] {
			d.Exempted = append(d.Exempted, g.Name)
			continue
		}

		d.Gates = append(d.Gates, resolveGate(g, branchPolicy, fileRules, stagePolicy, stageActive))
	}

	return d, nil
}

// composeExemptions unions exempt and required gate sets from the matched
// policies, keeping per-gate attribution for the audit trail. The "all"
// sentinel expands to every enabled non-critical gate.
func composeExemptions(model *config.Model, branchPolicy *config.BranchPolicy, fileRules []config.FilePatternRule) (exemptedBy, requiredBy map[string]string) {
	exemptedBy = make(map[string]string)
	requiredBy = make(map[string]string)

	collect := func(set config.ExemptionSet) {
		for _, name := range set.ExemptGates {
			if name == config.ExemptAll {
				for _, g := range model.Gates {
					if g.Enabled && !g.Critical {
						if _, ok := exemptedBy[g.Name]; !ok {
							exemptedBy[g.Name] = set.Description
						}
					}
				}
				continue
			}
			if _, ok := exemptedBy[name]; !ok {
				exemptedBy[name] = set.Description
			}
		}
		for _, name := range set.RequiredGates {
			if _, ok := requiredBy[name]; !ok {
				requiredBy[name] = set.Description
			}
		}
	}

	if branchPolicy != nil {
		collect(branchPolicy.ExemptionSet)
	}
	for _, r := range fileRules {
		collect(r.ExemptionSet)
	}

	return exemptedBy, requiredBy
}

// stageOverrides looks up the stage policy for the context. The base
// config is the push-to-main standard, so that stage (and an
// undetectable stage) never applies overrides even if an entry exists.
func stageOverrides(model *config.Model, stage config.Stage) (config.StagePolicy, bool) {
	if stage == "" || stage == config.StagePushToMain {
		return config.StagePolicy{}, false
	}
	p, ok := model.StagePolicies[stage]
	return p, ok
}

// applies reports whether a gate's applies_to filter admits the changeset.
// No filter means the gate is always considered.
func applies(g config.GateDefinition, changed []string) bool {
	if len(g.AppliesTo) == 0 {
		return true
	}
	for _, f := range changed {
		for _, p := range g.AppliesTo {
			if p.Match(f) {
				return true
			}
		}
	}
	return false
}

// resolveGate applies policy overrides to a gate definition. File rule
// overrides apply first in match order, then the branch policy's, then
// the stage policy's, so the stage entry has the final word on
// per-stage parameters.
func resolveGate(g config.GateDefinition, branchPolicy *config.BranchPolicy, fileRules []config.FilePatternRule, stagePolicy config.StagePolicy, stageActive bool) ResolvedGate {
	rg := ResolvedGate{
		Name:        g.Name,
		Critical:    g.Critical,
		Command:     g.Command,
		Threshold:   g.Threshold,
		Timeout:     g.Timeout,
		FailMessage: g.FailMessage,
	}

	for _, r := range fileRules {
		applyOverride(&rg, r.Overrides[g.Name])
	}
	if branchPolicy != nil {
		applyOverride(&rg, branchPolicy.Overrides[g.Name])
	}
	if stageActive {
		applyOverride(&rg, stagePolicy.Overrides[g.Name])
	}

	rg.Command = substituteThreshold(rg.Command, rg.Threshold)
	return rg
}

// applyOverride overlays the set fields of a partial override.
func applyOverride(rg *ResolvedGate, ov config.GateOverride) {
	if ov.Threshold != nil {
		rg.Threshold = ov.Threshold
	}
	if ov.Command != nil {
		rg.Command = *ov.Command
	}
	if ov.Timeout != nil {
		rg.Timeout = *ov.Timeout
	}
}

// substituteThreshold replaces the {threshold} placeholder in a command
// with the effective threshold, so the executor receives a final string.
func substituteThreshold(command string, threshold *float64) string {
	if threshold == nil || !strings.Contains(command, "{threshold}") {
		return command
	}
	return strings.ReplaceAll(command, "{threshold}", strconv.FormatFloat(*threshold, 'f', -1, 64))
}

// matchedDescriptions assembles the audit list of contributing policies.
func matchedDescriptions(branchPolicy *config.BranchPolicy, fileRules []config.FilePatternRule, stagePolicy config.StagePolicy, stageActive bool) []string {
	var out []string
	if branchPolicy != nil {
		out = append(out, branchPolicy.Description)
	}
	for _, r := range fileRules {
		out = append(out, r.Description)
	}
	if stageActive {
		out = append(out, fmt.Sprintf("stage policy %q", stagePolicy.Stage))
	}
	return out
}
