package oracle

import (
	"fmt"
	"strings"

	"github.com/msageha/complete_validator/internal/rules"
)

// FilePrompt is the input for one rule checked against one file.
type FilePrompt struct {
	RuleName     string
	RuleBody     string
	FilePath     string
	Content      string
	Diff         string
	Suppressions string
	FullScan     bool
}

// BuildFilePrompt renders the prompt for a single (rule, file) unit. In
// full-scan mode the whole file is the check target; otherwise the diff is,
// with the full content attached for context.
func BuildFilePrompt(p FilePrompt) string {
	scope := "The diff is the primary check target. The full file content is provided for context only."
	if p.FullScan {
		scope = "Check the entire file content against the rules. All code in the file is the check target."
	}
	parts := []string{
		"You are a strict AI validator. You MUST check every rule listed for the file. Do not skip any rule.",
		scope,
		"If you are uncertain whether something is a violation, report it with a note that it needs confirmation.",
		"Be specific: state the file, line, and which rule is violated.",
		"If there are no violations, respond with exactly: 'No violations found.'",
		"",
	}

	if headings := rules.ExtractHeadings(p.RuleBody); len(headings) > 0 {
		parts = append(parts, "## Rules Checklist", "You must check each of the following rules:")
		for _, h := range headings {
			parts = append(parts, "- [ ] "+h)
		}
		parts = append(parts, "")
	}

	parts = append(parts,
		fmt.Sprintf("=== RULE: %s ===", p.RuleName),
		p.RuleBody,
		"",
		fmt.Sprintf("=== FILE: %s ===", p.FilePath),
		"",
	)

	if p.FullScan {
		parts = append(parts, "--- Full Content (primary check target) ---", p.Content, "")
	} else {
		diff := p.Diff
		if diff == "" {
			diff = "(no diff available for this file)"
		}
		parts = append(parts,
			"--- Changes (primary check target) ---", diff, "",
			"--- Full Content (for context) ---", p.Content, "",
		)
	}

	if p.Suppressions != "" {
		parts = append(parts,
			"=== KNOWN SUPPRESSIONS ===",
			"The following are known exceptions. Do not report them as violations.",
			p.Suppressions,
			"",
		)
	}

	parts = append(parts,
		"## Reminder",
		"Confirm that you have checked every rule in the checklist above.",
		"Do not skip any rule. Report all violations found.",
	)
	return strings.Join(parts, "\n")
}
