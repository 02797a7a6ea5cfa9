// Package scheduler fans (rule, file) check units out over a bounded worker
// pool and aggregates their outcomes per rule.
package scheduler

import (
	"sort"
	"strings"

	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/rules"
)

// Unit is one rule checked against one file.
type Unit struct {
	Rule     rules.Rule
	FilePath string
	Diff     string
	Content  string
}

// BuildUnits pairs every enabled rule with every target file whose basename
// matches it. Files without loaded content are skipped.
func BuildUnits(ruleList []rules.Rule, targetFiles []string, contents, diffChunks map[string]string) []Unit {
	var units []Unit
	for _, r := range ruleList {
		if !r.Enabled() {
			continue
		}
		for _, fp := range r.MatchingFiles(targetFiles) {
			content, ok := contents[fp]
			if !ok {
				continue
			}
			units = append(units, Unit{
				Rule:     r,
				FilePath: fp,
				Diff:     diffChunks[fp],
				Content:  content,
			})
		}
	}
	return units
}

// Aggregate reduces unit results to one result per rule, sorted by rule
// name. A rule with no unit results is skipped.
func Aggregate(ruleList []rules.Rule, results []model.UnitResult) []model.RuleResult {
	byRule := make(map[string][]model.UnitResult)
	for _, r := range results {
		byRule[r.RuleName] = append(byRule[r.RuleName], r)
	}

	seen := make(map[string]bool)
	var out []model.RuleResult
	for _, r := range ruleList {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, aggregateRule(r.Name, byRule[r.Name]))
	}
	// Results for rules not in ruleList still count.
	for name, rs := range byRule {
		if !seen[name] {
			seen[name] = true
			out = append(out, aggregateRule(name, rs))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RuleName < out[j].RuleName })
	return out
}

func aggregateRule(name string, results []model.UnitResult) model.RuleResult {
	if len(results) == 0 {
		return model.RuleResult{RuleName: name, Status: model.RuleSkip}
	}
	sorted := append([]model.UnitResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FilePath < sorted[j].FilePath })

	var hasDeny, hasError bool
	messages := make([]string, 0, len(sorted))
	for _, r := range sorted {
		switch r.Status {
		case model.UnitDeny:
			hasDeny = true
		case model.UnitError:
			hasError = true
		}
		if r.Message != "" {
			messages = append(messages, r.Message)
		}
	}

	status := model.RuleAllow
	switch {
	case hasDeny:
		status = model.RuleDeny
	case hasError:
		status = model.RuleError
	}
	return model.RuleResult{RuleName: name, Status: status, Message: strings.Join(messages, "\n\n")}
}

func sortResults(results []model.UnitResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RuleName != results[j].RuleName {
			return results[i].RuleName < results[j].RuleName
		}
		return results[i].FilePath < results[j].FilePath
	})
}
