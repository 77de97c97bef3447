// Package config loads and validates the quality-gate policy document.
// Loading is all-or-nothing: either every gate, policy, and pattern
// validates and a complete Model is returned, or a ConfigError enumerating
// every problem comes back and the caller must fail closed (run all gates,
// skip nothing). Config here is executable policy, so a partial or
// ambiguous model is never exposed.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath is the project-relative base config location.
const DefaultPath = ".qgate/quality-gates.yaml"

// DefaultOverrideFile is the local, uncommitted override document merged
// over the base config when present.
const DefaultOverrideFile = "quality-gates.local.yaml"

// ResolvePath picks the config path: explicit argument, then the
// QGATE_CONFIG environment variable, then the project default.
func ResolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("QGATE_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads, merges, and validates the config document at path. A local
// override file (the base document's override_file, or
// quality-gates.local.yaml next to the base) is merged over the base
// before validation when it exists.
func Load(path string, opts ...Option) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	raw, warnings, err := decodeRaw(data)
	if err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}

	overridePath := raw.OverrideFile
	if overridePath == "" {
		overridePath = DefaultOverrideFile
	}
	if !filepath.IsAbs(overridePath) {
		overridePath = filepath.Join(filepath.Dir(path), overridePath)
	}

	overrideData, err := os.ReadFile(overridePath)
	switch {
	case err == nil:
		overrideRaw, overrideWarnings, err := decodeRaw(overrideData)
		if err != nil {
			return nil, &ConfigError{Problems: []string{fmt.Sprintf("override file %s: %v", overridePath, err)}}
		}
		raw = mergeRaw(raw, overrideRaw)
		warnings = append(warnings, overrideWarnings...)
		warnings = append(warnings, fmt.Sprintf("local overrides applied from %s", overridePath))
	case os.IsNotExist(err):
		// No local overrides.
	default:
		// An override that exists but cannot be read must not be
		// silently dropped; the operator would get the wrong policy.
		return nil, fmt.Errorf("read override file %s: %w", overridePath, err)
	}

	return buildModel(raw, warnings, opts)
}

// Parse validates a config document from bytes. No override merging.
func Parse(data []byte, opts ...Option) (*Model, error) {
	raw, warnings, err := decodeRaw(data)
	if err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}
	return buildModel(raw, warnings, opts)
}

func buildModel(raw *rawConfig, warnings []string, opts []Option) (*Model, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	return build(raw, warnings, o)
}
