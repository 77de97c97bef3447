package config

import (
	"fmt"
	"regexp"
	"time"
)

// defaultTimeout bounds a gate execution when the config does not say.
const defaultTimeout = 5 * time.Minute

// buildOptions configures optional validation behavior.
type buildOptions struct {
	relaxationCheck bool
}

// Option adjusts loader behavior.
type Option func(*buildOptions)

// WithRelaxationCheck enables validation that stage overrides only loosen
// constraints relative to the base config (lower thresholds, longer
// timeouts). Off by default: one-directional relaxation is a convention,
// not an enforced rule, and some repos deliberately tighten per stage.
func WithRelaxationCheck() Option {
	return func(o *buildOptions) {
		o.relaxationCheck = true
	}
}

// build validates a raw document and assembles the Model. Every problem
// found is collected; a non-empty problem list means no Model is returned.
func build(raw *rawConfig, warnings []string, opts buildOptions) (*Model, error) {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	warnf := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if raw.Version == "" {
		addf("missing required field: version")
	}
	if len(raw.Gates) == 0 {
		addf("no gates defined")
	}

	level := EnforcementStrict
	if raw.EnforcementLevel != "" {
		switch EnforcementLevel(raw.EnforcementLevel) {
		case EnforcementStrict, EnforcementAdvisory, EnforcementDisabled:
			level = EnforcementLevel(raw.EnforcementLevel)
		default:
			addf("enforcement_level %q is not one of strict, advisory, disabled", raw.EnforcementLevel)
		}
	}

	gates, critical := buildGates(raw.Gates, addf)
	registry := make(map[string]bool, len(gates))
	for _, g := range gates {
		registry[g.Name] = true
	}

	gates = applyExecutionOrder(gates, raw.ExecutionOrder, registry, addf)

	branchPolicies := buildBranchPolicies(raw.BranchPolicies, registry, critical, addf, warnf)
	fileRules := buildFileRules(raw.FilePatternRules, registry, critical, addf, warnf)
	stagePolicies := buildStagePolicies(raw.StagePolicies, gates, registry, opts, addf)

	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}

	return &Model{
		Version:          raw.Version,
		EnforcementLevel: level,
		Gates:            gates,
		BranchPolicies:   branchPolicies,
		FileRules:        fileRules,
		StagePolicies:    stagePolicies,
		Warnings:         warnings,
	}, nil
}

// buildGates validates gate definitions and returns them plus the set of
// critical gate names.
func buildGates(raws []rawGate, addf func(string, ...interface{})) ([]GateDefinition, map[string]bool) {
	seen := make(map[string]bool, len(raws))
	critical := make(map[string]bool)
	gates := make([]GateDefinition, 0, len(raws))

	for _, rg := range raws {
		if rg.Name == "" {
			addf("gate with empty name")
			continue
		}
		if rg.Name == ExemptAll {
			addf("gate name %q collides with the exemption sentinel", ExemptAll)
			continue
		}
		if seen[rg.Name] {
			addf("duplicate gate name %q", rg.Name)
			continue
		}
		seen[rg.Name] = true

		g := GateDefinition{
			Name:      rg.Name,
			Enabled:   true,
			Threshold: rg.Threshold,
			Timeout:   defaultTimeout,
		}
		if rg.Enabled != nil {
			g.Enabled = *rg.Enabled
		}
		if rg.Critical != nil {
			g.Critical = *rg.Critical
		}
		if rg.Command != nil {
			g.Command = *rg.Command
		}
		if rg.FailMessage != nil {
			g.FailMessage = *rg.FailMessage
		}
		if rg.Timeout != nil {
			d, err := time.ParseDuration(*rg.Timeout)
			if err != nil {
				addf("gate %q: invalid timeout %q: %v", rg.Name, *rg.Timeout, err)
			} else if d <= 0 {
				addf("gate %q: timeout must be positive, got %s", rg.Name, d)
			} else {
				g.Timeout = d
			}
		}
		if g.Critical && !g.Enabled {
			addf("gate %q is critical but disabled; critical gates must be enabled", rg.Name)
		}
		if g.Critical {
			critical[g.Name] = true
		}
		for _, pat := range rg.AppliesTo {
			p, err := CompilePattern(pat)
			if err != nil {
				addf("gate %q: invalid applies_to glob %q: %v", rg.Name, pat, err)
				continue
			}
			g.AppliesTo = append(g.AppliesTo, p)
		}

		gates = append(gates, g)
	}

	return gates, critical
}

// applyExecutionOrder reorders the registry to match an explicit
// execution_order list. Gates not listed keep their declaration order
// after the listed ones. Unknown or duplicate entries are load errors.
func applyExecutionOrder(gates []GateDefinition, order []string, registry map[string]bool, addf func(string, ...interface{})) []GateDefinition {
	if len(order) == 0 {
		return gates
	}

	seen := make(map[string]bool, len(order))
	valid := true
	for _, name := range order {
		if !registry[name] {
			addf("execution_order references undefined gate %q", name)
			valid = false
		}
		if seen[name] {
			addf("execution_order lists gate %q twice", name)
			valid = false
		}
		seen[name] = true
	}
	if !valid {
		return gates
	}

	byName := make(map[string]GateDefinition, len(gates))
	for _, g := range gates {
		byName[g.Name] = g
	}

	ordered := make([]GateDefinition, 0, len(gates))
	for _, name := range order {
		ordered = append(ordered, byName[name])
	}
	for _, g := range gates {
		if !seen[g.Name] {
			ordered = append(ordered, g)
		}
	}
	return ordered
}

// validateExemption checks the gate references inside one policy's
// exemption set and converts its overrides. where identifies the policy
// for error messages, e.g. `branch policy "main"`.
func validateExemption(where string, exempt, required []string, overrides map[string]rawOverride,
	registry, critical map[string]bool, addf func(string, ...interface{}), warnf func(string, ...interface{})) map[string]GateOverride {

	for _, name := range exempt {
		if name == ExemptAll {
			warnf("%s exempts %q; every non-critical gate will be skipped when it matches", where, ExemptAll)
			continue
		}
		if !registry[name] {
			addf("%s references unknown gate %q in exempt_gates", where, name)
			continue
		}
		if critical[name] {
			addf("%s lists critical gate %q in exempt_gates; critical gates can never be exempted", where, name)
		}
	}
	for _, name := range required {
		if name == ExemptAll {
			addf("%s uses sentinel %q in required_gates; it is only legal in exempt_gates", where, ExemptAll)
			continue
		}
		if !registry[name] {
			addf("%s references unknown gate %q in required_gates", where, name)
		}
	}

	return convertOverrides(where, overrides, registry, addf)
}

// convertOverrides validates and converts raw overrides keyed by gate name.
func convertOverrides(where string, raws map[string]rawOverride, registry map[string]bool, addf func(string, ...interface{})) map[string]GateOverride {
	if len(raws) == 0 {
		return nil
	}
	out := make(map[string]GateOverride, len(raws))
	for name, ro := range raws {
		if !registry[name] {
			addf("%s overrides unknown gate %q", where, name)
			continue
		}
		ov := GateOverride{Threshold: ro.Threshold, Command: ro.Command}
		if ro.Timeout != nil {
			d, err := time.ParseDuration(*ro.Timeout)
			if err != nil {
				addf("%s: invalid timeout override %q for gate %q: %v", where, *ro.Timeout, name, err)
				continue
			}
			ov.Timeout = &d
		}
		out[name] = ov
	}
	return out
}

func buildBranchPolicies(raws []rawBranchPolicy, registry, critical map[string]bool,
	addf func(string, ...interface{}), warnf func(string, ...interface{})) []BranchPolicy {

	seen := make(map[string]bool, len(raws))
	policies := make([]BranchPolicy, 0, len(raws))

	for _, rp := range raws {
		if rp.Name == "" {
			addf("branch policy with empty name")
			continue
		}
		if seen[rp.Name] {
			addf("duplicate branch policy %q", rp.Name)
			continue
		}
		seen[rp.Name] = true

		where := fmt.Sprintf("branch policy %q", rp.Name)
		p := BranchPolicy{
			Name:       rp.Name,
			RawPattern: rp.Pattern,
			ExemptionSet: ExemptionSet{
				ExemptGates:   rp.ExemptGates,
				RequiredGates: rp.RequiredGates,
				Description:   policyDescription("branch policy", rp.Name, rp.Description),
			},
		}
		if rp.Pattern != "" {
			re, err := regexp.Compile(rp.Pattern)
			if err != nil {
				addf("%s: invalid pattern %q: %v", where, rp.Pattern, err)
			} else {
				p.Pattern = re
			}
		}
		p.Overrides = validateExemption(where, rp.ExemptGates, rp.RequiredGates, rp.Overrides, registry, critical, addf, warnf)

		policies = append(policies, p)
	}

	return policies
}

func buildFileRules(raws []rawFileRule, registry, critical map[string]bool,
	addf func(string, ...interface{}), warnf func(string, ...interface{})) []FilePatternRule {

	seen := make(map[string]bool, len(raws))
	rules := make([]FilePatternRule, 0, len(raws))

	for _, rr := range raws {
		if rr.Name == "" {
			addf("file pattern rule with empty name")
			continue
		}
		if seen[rr.Name] {
			addf("duplicate file pattern rule %q", rr.Name)
			continue
		}
		seen[rr.Name] = true

		where := fmt.Sprintf("file pattern rule %q", rr.Name)
		r := FilePatternRule{
			Name: rr.Name,
			ExemptionSet: ExemptionSet{
				ExemptGates:   rr.ExemptGates,
				RequiredGates: rr.RequiredGates,
				Description:   policyDescription("file rule", rr.Name, rr.Description),
			},
		}
		for _, pat := range rr.Patterns {
			p, err := CompilePattern(pat)
			if err != nil {
				addf("%s: invalid glob %q: %v", where, pat, err)
				continue
			}
			r.Patterns = append(r.Patterns, p)
		}
		r.Overrides = validateExemption(where, rr.ExemptGates, rr.RequiredGates, rr.Overrides, registry, critical, addf, warnf)

		rules = append(rules, r)
	}

	return rules
}

func buildStagePolicies(raws map[string]rawStagePolicy, gates []GateDefinition, registry map[string]bool,
	opts buildOptions, addf func(string, ...interface{})) map[Stage]StagePolicy {

	if len(raws) == 0 {
		return nil
	}

	out := make(map[Stage]StagePolicy, len(raws))
	for id, rs := range raws {
		stage, ok := ParseStage(id)
		if !ok {
			addf("unknown stage %q in stage_policies; valid stages: pre-push, pr, push-to-main", id)
			continue
		}
		where := fmt.Sprintf("stage policy %q", id)
		overrides := convertOverrides(where, rs.Overrides, registry, addf)

		if opts.relaxationCheck {
			checkRelaxations(where, overrides, gates, addf)
		}

		out[stage] = StagePolicy{Stage: stage, Overrides: overrides}
	}
	return out
}

// checkRelaxations verifies that stage overrides only loosen the base
// config: thresholds may only go down, timeouts may only go up.
func checkRelaxations(where string, overrides map[string]GateOverride, gates []GateDefinition, addf func(string, ...interface{})) {
	byName := make(map[string]GateDefinition, len(gates))
	for _, g := range gates {
		byName[g.Name] = g
	}
	for name, ov := range overrides {
		base, ok := byName[name]
		if !ok {
			continue
		}
		if ov.Threshold != nil && base.Threshold != nil && *ov.Threshold > *base.Threshold {
			addf("%s tightens threshold for gate %q (%.1f > base %.1f)", where, name, *ov.Threshold, *base.Threshold)
		}
		if ov.Timeout != nil && *ov.Timeout < base.Timeout {
			addf("%s tightens timeout for gate %q (%s < base %s)", where, name, *ov.Timeout, base.Timeout)
		}
	}
}

// policyDescription builds the audit label recorded in resolution output.
func policyDescription(kind, name, desc string) string {
	if desc == "" {
		return fmt.Sprintf("%s %q", kind, name)
	}
	return fmt.Sprintf("%s %q: %s", kind, name, desc)
}
