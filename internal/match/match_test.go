package match

import (
	"regexp"
	"testing"

	"github.com/boshu2/qgate/internal/config"
)

func branchPolicy(name, pattern string) config.BranchPolicy {
	p := config.BranchPolicy{Name: name, RawPattern: pattern}
	if pattern != "" {
		p.Pattern = regexp.MustCompile(pattern)
	}
	p.Description = name
	return p
}

func TestBranch_FirstMatchWins(t *testing.T) {
	policies := []config.BranchPolicy{
		branchPolicy("feature", "^feature/.*"),
		branchPolicy("catchall", ".*"),
	}

	got, warnings := Branch("feature/x", policies)
	if got == nil {
		t.Fatal("Branch returned nil, want feature policy")
	}
	if got.Name != "feature" {
		t.Errorf("Branch matched %q, want %q (first match must win even though catchall also matches)", got.Name, "feature")
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestBranch_ExactNameBeatsPattern(t *testing.T) {
	policies := []config.BranchPolicy{
		branchPolicy("release/v1", ""),
	}

	got, _ := Branch("release/v1", policies)
	if got == nil || got.Name != "release/v1" {
		t.Fatalf("Branch = %v, want exact-name match for release/v1", got)
	}
}

func TestBranch_NoMatch(t *testing.T) {
	policies := []config.BranchPolicy{
		branchPolicy("feature", "^feature/.*"),
	}

	got, _ := Branch("main", policies)
	if got != nil {
		t.Errorf("Branch = %q, want nil", got.Name)
	}
}

func TestBranch_DeclarationOrder(t *testing.T) {
	// Both patterns match; order in the slice decides.
	policies := []config.BranchPolicy{
		branchPolicy("broad", "^test/"),
		branchPolicy("narrow", "^test/foo$"),
	}

	got, _ := Branch("test/foo", policies)
	if got == nil || got.Name != "broad" {
		t.Fatalf("Branch = %v, want broad (declaration order)", got)
	}
}

func TestBranch_BadPatternSkippedWithWarning(t *testing.T) {
	// A nil compiled pattern with a raw pattern exercises the
	// defense-in-depth recompile path.
	policies := []config.BranchPolicy{
		{Name: "broken", RawPattern: "("},
		branchPolicy("catchall", ".*"),
	}

	got, warnings := Branch("anything", policies)
	if got == nil || got.Name != "catchall" {
		t.Fatalf("Branch = %v, want catchall after skipping broken policy", got)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one for the broken pattern", warnings)
	}
}

func fileRule(name string, patterns ...string) config.FilePatternRule {
	r := config.FilePatternRule{Name: name}
	for _, p := range patterns {
		r.Patterns = append(r.Patterns, config.MustPattern(p))
	}
	r.Description = name
	return r
}

func ruleNames(rules []config.FilePatternRule) []string {
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	return names
}

func TestFiles_UnionOfMatches(t *testing.T) {
	rules := []config.FilePatternRule{
		fileRule("docs", "**/*.md"),
		fileRule("workflows", ".github/workflows/*.yml"),
		fileRule("go-code", "**/*.go"),
	}
	changed := []string{"README.md", ".github/workflows/ci.yml"}

	got := Files(changed, rules)
	names := ruleNames(got)
	if len(names) != 2 || names[0] != "docs" || names[1] != "workflows" {
		t.Errorf("Files = %v, want [docs workflows] (all matching rules apply)", names)
	}
}

func TestFiles_EmptyCommitSentinel(t *testing.T) {
	rules := []config.FilePatternRule{
		fileRule("empty-commit"),
		fileRule("docs", "**/*.md"),
	}

	got := Files(nil, rules)
	if names := ruleNames(got); len(names) != 1 || names[0] != "empty-commit" {
		t.Errorf("Files(empty changeset) = %v, want [empty-commit]", names)
	}

	got = Files([]string{"README.md"}, rules)
	for _, r := range got {
		if r.Name == "empty-commit" {
			t.Error("sentinel rule matched a non-empty changeset")
		}
	}
}

func TestFiles_GlobSemantics(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"doublestar crosses directories", "src/**/*.go", "src/a/b/c/main.go", true},
		{"single star stays in one segment", "src/*.go", "src/a/main.go", false},
		{"single star within segment", "src/*.go", "src/main.go", true},
		{"case sensitive", "**/*.md", "README.MD", false},
		{"doublestar at root", "**/*.yml", ".github/workflows/ci.yml", true},
		{"leading doublestar matches zero depth", "**/*.md", "README.md", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := []config.FilePatternRule{fileRule("r", tt.pattern)}
			got := Files([]string{tt.path}, rules)
			matched := len(got) == 1
			if matched != tt.want {
				t.Errorf("pattern %q vs %q: matched=%v, want %v", tt.pattern, tt.path, matched, tt.want)
			}
		})
	}
}

func TestFiles_ORWithinRule(t *testing.T) {
	rules := []config.FilePatternRule{
		fileRule("mixed", "**/*.proto", "api/**"),
	}

	// Either pattern alone satisfies the rule.
	if got := Files([]string{"schema.proto"}, rules); len(got) != 1 {
		t.Error("first pattern alone should satisfy the rule")
	}
	if got := Files([]string{"api/handler.go"}, rules); len(got) != 1 {
		t.Error("second pattern alone should satisfy the rule")
	}
	if got := Files([]string{"main.go"}, rules); len(got) != 0 {
		t.Error("no pattern matches, rule should not apply")
	}
}
