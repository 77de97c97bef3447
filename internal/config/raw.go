package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawConfig mirrors the YAML document before validation. Scalar fields
// that participate in override-file merging are pointers so "absent" and
// "zero" stay distinguishable.
type rawConfig struct {
	Version          string                    `yaml:"version"`
	EnforcementLevel string                    `yaml:"enforcement_level"`
	OverrideFile     string                    `yaml:"override_file"`
	Gates            []rawGate                 `yaml:"gates"`
	ExecutionOrder   []string                  `yaml:"execution_order"`
	BranchPolicies   []rawBranchPolicy         `yaml:"branch_policies"`
	FilePatternRules []rawFileRule             `yaml:"file_pattern_rules"`
	StagePolicies    map[string]rawStagePolicy `yaml:"stage_policies"`
}

type rawGate struct {
	Name        string   `yaml:"name"`
	Enabled     *bool    `yaml:"enabled"`
	Critical    *bool    `yaml:"critical"`
	Command     *string  `yaml:"command"`
	Threshold   *float64 `yaml:"threshold"`
	Timeout     *string  `yaml:"timeout"`
	FailMessage *string  `yaml:"fail_message"`
	AppliesTo   []string `yaml:"applies_to"`
}

type rawBranchPolicy struct {
	Name          string                 `yaml:"name"`
	Pattern       string                 `yaml:"pattern"`
	ExemptGates   []string               `yaml:"exempt_gates"`
	RequiredGates []string               `yaml:"required_gates"`
	Overrides     map[string]rawOverride `yaml:"overrides"`
	Description   string                 `yaml:"description"`
}

type rawFileRule struct {
	Name          string                 `yaml:"name"`
	Patterns      []string               `yaml:"patterns"`
	ExemptGates   []string               `yaml:"exempt_gates"`
	RequiredGates []string               `yaml:"required_gates"`
	Overrides     map[string]rawOverride `yaml:"overrides"`
	Description   string                 `yaml:"description"`
}

type rawStagePolicy struct {
	Overrides map[string]rawOverride `yaml:"overrides"`
}

type rawOverride struct {
	Threshold *float64 `yaml:"threshold"`
	Command   *string  `yaml:"command"`
	Timeout   *string  `yaml:"timeout"`
}

// knownTopLevelKeys is the forward-compatibility allowlist: unknown keys
// produce a warning, not an error, so new fields can ship ahead of tooling.
var knownTopLevelKeys = map[string]bool{
	"version":            true,
	"enforcement_level":  true,
	"override_file":      true,
	"gates":              true,
	"execution_order":    true,
	"branch_policies":    true,
	"file_pattern_rules": true,
	"stage_policies":     true,
}

// decodeRaw parses YAML bytes into rawConfig, collecting warnings for
// unknown top-level keys.
func decodeRaw(data []byte) (*rawConfig, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse yaml: %w", err)
	}

	var warnings []string
	if len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
		root := doc.Content[0]
		// Mapping nodes alternate key, value.
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := root.Content[i].Value
			if !knownTopLevelKeys[key] {
				warnings = append(warnings, fmt.Sprintf("unknown top-level key %q ignored", key))
			}
		}
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}

	return &raw, warnings, nil
}
