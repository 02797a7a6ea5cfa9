package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
)

// ProjectRulesDir is the rules directory relative to a project directory.
const ProjectRulesDir = ".complete-validator/rules"

var frontmatterRegex = regexp.MustCompile(`(?s)\A---[ \t]*\r?\n(.*?)\r?\n---[ \t]*\r?\n`)

// ParseFrontmatter splits YAML frontmatter from the body. ok is false when
// the content has no frontmatter block.
func ParseFrontmatter(content string) (map[string]any, string, bool, error) {
	m := frontmatterRegex.FindStringSubmatchIndex(content)
	if m == nil {
		return nil, content, false, nil
	}
	raw := content[m[2]:m[3]]
	body := content[m[1]:]

	fm := make(map[string]any)
	if err := yamlv3.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, body, true, fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, body, true, nil
}

// LoadDir loads every *.md under dir (recursively, sorted by path). Files
// without an applies_to frontmatter key are reported as warnings and skipped.
func LoadDir(dir string) ([]Rule, []string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk rules dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	var rules []Rule
	var warnings []string
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("rule file %s could not be read: %v", filepath.Base(p), err))
			continue
		}
		fm, body, _, err := ParseFrontmatter(string(content))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("rule file %s has invalid frontmatter: %v", filepath.Base(p), err))
			continue
		}
		patterns, ok := appliesTo(fm)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("rule file %s has no `applies_to` frontmatter. Please add it.", filepath.Base(p)))
			continue
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			rel = filepath.Base(p)
		}
		delete(fm, "applies_to")
		rules = append(rules, Rule{
			Name:     filepath.ToSlash(rel),
			Patterns: patterns,
			Body:     body,
			Options:  fm,
			Source:   dir,
		})
	}
	return rules, warnings, nil
}

func appliesTo(fm map[string]any) ([]string, bool) {
	v, ok := fm["applies_to"]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

// FindProjectRuleDirs walks from start up to the filesystem root and
// returns every existing rules directory, nearest first.
func FindProjectRuleDirs(start string) []string {
	current, err := filepath.Abs(start)
	if err != nil {
		return nil
	}
	var dirs []string
	for {
		candidate := filepath.Join(current, ProjectRulesDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dirs = append(dirs, candidate)
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return dirs
}

// Merge loads builtinDir (lowest precedence, may be empty) and projectDirs
// (nearest first). When names collide the nearest directory wins. The result
// keeps first-seen order starting from the farthest source.
func Merge(builtinDir string, projectDirs []string) ([]Rule, []string, error) {
	sources := append([]string{}, projectDirs...)
	if builtinDir != "" {
		sources = append(sources, builtinDir)
	}

	var order []string
	merged := make(map[string]Rule)
	var allWarnings []string
	for i := len(sources) - 1; i >= 0; i-- {
		loaded, warnings, err := LoadDir(sources[i])
		if err != nil {
			return nil, allWarnings, err
		}
		allWarnings = append(allWarnings, warnings...)
		for _, r := range loaded {
			if _, seen := merged[r.Name]; !seen {
				order = append(order, r.Name)
			}
			merged[r.Name] = r
		}
	}

	out := make([]Rule, 0, len(order))
	for _, name := range order {
		out = append(out, merged[name])
	}
	return out, allWarnings, nil
}

// LoadSuppressions returns the trimmed contents of
// <root>/.complete-validator/suppressions.md, or "" when absent.
func LoadSuppressions(root string) string {
	data, err := os.ReadFile(filepath.Join(root, ".complete-validator", "suppressions.md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
