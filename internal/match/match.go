// Package match implements the two policy matchers. They are deliberately
// separate functions with different combination semantics: branch policies
// are first-match-wins in declaration order, file pattern rules are
// union-of-matches. Keeping them apart prevents the two strategies from
// being accidentally unified.
package match

import (
	"fmt"
	"regexp"

	"github.com/boshu2/qgate/internal/config"
)

// Branch returns the first branch policy matching the branch name, or nil
// if none matches. A policy matches when its name equals the branch
// exactly or its pattern matches. Patterns are compiled at load time;
// the recompile here is defense-in-depth for policies constructed outside
// the loader, and a failing pattern skips that policy with a warning
// rather than aborting resolution.
func Branch(branch string, policies []config.BranchPolicy) (*config.BranchPolicy, []string) {
	var warnings []string

	for i := range policies {
		p := &policies[i]
		if p.Name == branch {
			return p, warnings
		}

		re := p.Pattern
		if re == nil && p.RawPattern != "" {
			compiled, err := regexp.Compile(p.RawPattern)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("branch policy %q: pattern %q failed to compile, policy skipped: %v", p.Name, p.RawPattern, err))
				continue
			}
			re = compiled
		}
		if re != nil && re.MatchString(branch) {
			return p, warnings
		}
	}

	return nil, warnings
}

// Files returns every rule with at least one glob matching at least one
// changed file. A rule with no patterns is the empty-commit sentinel: it
// matches exactly when the changeset itself is empty, and never matches a
// changeset containing any file.
func Files(changed []string, rules []config.FilePatternRule) []config.FilePatternRule {
	var matched []config.FilePatternRule

	for _, r := range rules {
		if len(r.Patterns) == 0 {
			if len(changed) == 0 {
				matched = append(matched, r)
			}
			continue
		}
		if anyMatch(changed, r.Patterns) {
			matched = append(matched, r)
		}
	}

	return matched
}

// anyMatch reports whether any pattern matches any changed file.
func anyMatch(changed []string, patterns []config.Pattern) bool {
	for _, f := range changed {
		for _, p := range patterns {
			if p.Match(f) {
				return true
			}
		}
	}
	return false
}
