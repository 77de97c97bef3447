package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the config package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrInvalidConfig is the root of every validation failure; match with
	// errors.Is to distinguish "configuration problem" from everything else.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConfigNotFound is returned when the base config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")
)

// ConfigError aggregates every validation problem found in one pass.
// The loader never stops at the first problem: an operator fixing a config
// should see the complete list, not play whack-a-mole.
type ConfigError struct {
	// Problems are the individual violations, each naming the field or
	// policy at fault.
	Problems []string
}

// Error renders all problems on separate lines.
func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration (%d problem(s)):", len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

// Unwrap lets errors.Is(err, ErrInvalidConfig) succeed.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// AsConfigError extracts a *ConfigError from an error chain, if present.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
