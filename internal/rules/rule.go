// Package rules loads rule definitions from layered .complete-validator/rules
// directories and matches them against file paths.
package rules

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/msageha/complete_validator/internal/model"
)

// Rule is one markdown rule file. Name is the path relative to the rules
// directory it was loaded from and is the override key across directories.
type Rule struct {
	Name     string
	Patterns []string
	Body     string
	Options  map[string]any
	Source   string
}

// Enabled reports whether the rule should produce check units.
// Rules are enabled unless an "enabled: false" option says otherwise.
func (r Rule) Enabled() bool {
	v, ok := r.Options["enabled"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}

// Severity is the severity recorded for violations of this rule.
// Defaults to high when unset or invalid.
func (r Rule) Severity() model.Severity {
	if s, ok := r.Options["severity"].(string); ok {
		if sev, err := model.ParseSeverity(s); err == nil {
			return sev
		}
	}
	return model.SeverityHigh
}

// Model is an optional per-rule oracle model override.
func (r Rule) Model() string {
	s, _ := r.Options["model"].(string)
	return s
}

// MatchesPath reports whether the basename of filePath matches any of the
// rule's glob patterns. Matching is case-sensitive.
func (r Rule) MatchesPath(filePath string) bool {
	return MatchBasename(r.Patterns, filePath)
}

// MatchBasename matches the basename of filePath against patterns.
// Malformed patterns never match.
func MatchBasename(patterns []string, filePath string) bool {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	for _, pat := range patterns {
		ok, err := doublestar.Match(pat, base)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// MatchingFiles filters filePaths down to those the rule applies to,
// preserving input order.
func (r Rule) MatchingFiles(filePaths []string) []string {
	var matched []string
	for _, fp := range filePaths {
		if r.MatchesPath(fp) {
			matched = append(matched, fp)
		}
	}
	return matched
}

// FilesMatchingAny keeps the files matched by at least one rule.
func FilesMatchingAny(rules []Rule, filePaths []string) []string {
	var out []string
	for _, fp := range filePaths {
		for _, r := range rules {
			if r.MatchesPath(fp) {
				out = append(out, fp)
				break
			}
		}
	}
	return out
}

// ExtractHeadings returns the "## " headings of a rule body, skipping fenced
// code blocks. They become the prompt checklist.
func ExtractHeadings(body string) []string {
	var headings []string
	inCodeBlock := false
	for _, line := range strings.Split(body, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "```") || strings.HasPrefix(stripped, "~~~") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if !inCodeBlock && strings.HasPrefix(line, "## ") {
			headings = append(headings, strings.TrimSpace(line[3:]))
		}
	}
	return headings
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %v", r.Name, r.Patterns)
}
