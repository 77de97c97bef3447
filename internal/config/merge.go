package config

// mergeRaw applies a local override document on top of the base document,
// gate by gate. Only fields the override actually sets replace base values;
// an override may also introduce gates the base does not define. Policy
// sections and scalar settings are replaced wholesale when present, same as
// the gate registry's sibling keys. The merged document is validated as a
// whole afterwards, so an override can never smuggle in an invalid model.
func mergeRaw(base, override *rawConfig) *rawConfig {
	if override == nil {
		return base
	}

	merged := *base

	for _, og := range override.Gates {
		idx := -1
		for i := range merged.Gates {
			if merged.Gates[i].Name == og.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			merged.Gates = append(merged.Gates, og)
			continue
		}
		merged.Gates[idx] = mergeGate(merged.Gates[idx], og)
	}

	if override.Version != "" {
		merged.Version = override.Version
	}
	if override.EnforcementLevel != "" {
		merged.EnforcementLevel = override.EnforcementLevel
	}
	if len(override.ExecutionOrder) > 0 {
		merged.ExecutionOrder = override.ExecutionOrder
	}
	if len(override.BranchPolicies) > 0 {
		merged.BranchPolicies = override.BranchPolicies
	}
	if len(override.FilePatternRules) > 0 {
		merged.FilePatternRules = override.FilePatternRules
	}
	if len(override.StagePolicies) > 0 {
		merged.StagePolicies = override.StagePolicies
	}

	return &merged
}

// mergeGate overlays set fields from src onto dst.
func mergeGate(dst, src rawGate) rawGate {
	if src.Enabled != nil {
		dst.Enabled = src.Enabled
	}
	if src.Critical != nil {
		dst.Critical = src.Critical
	}
	if src.Command != nil {
		dst.Command = src.Command
	}
	if src.Threshold != nil {
		dst.Threshold = src.Threshold
	}
	if src.Timeout != nil {
		dst.Timeout = src.Timeout
	}
	if src.FailMessage != nil {
		dst.FailMessage = src.FailMessage
	}
	if len(src.AppliesTo) > 0 {
		dst.AppliesTo = src.AppliesTo
	}
	return dst
}
