// Package output renders aggregated rule results either as the PreToolUse
// hook decision JSON or as plain text with an exit code for full scans.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/msageha/complete_validator/internal/model"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"

	hookEventName = "PreToolUse"

	hookDenySuffix = "\n\n[Action Required]\n" +
		"Fix the violations above and retry the commit.\n" +
		"If any violation is a false positive, add a description to .complete-validator/suppressions.md and retry.\n" +
		"Repeat until all violations are resolved."
	fullScanDenySuffix = "\n\n[Action Required]\n" +
		"Fix the violations above.\n" +
		"If any violation is a false positive, add a description to .complete-validator/suppressions.md and re-run."
)

type HookDecision struct {
	HookEventName      string `json:"hookEventName"`
	PermissionDecision string `json:"permissionDecision"`
	AdditionalContext  string `json:"additionalContext,omitempty"`
}

type hookEnvelope struct {
	HookSpecificOutput HookDecision `json:"hookSpecificOutput"`
}

// WriteHook prints one hook decision line.
func WriteHook(w io.Writer, decision, message string) error {
	env := hookEnvelope{HookSpecificOutput: HookDecision{
		HookEventName:      hookEventName,
		PermissionDecision: decision,
		AdditionalContext:  message,
	}}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("write hook output: %w", err)
	}
	return nil
}

// Report is the rendered form of a check.
type Report struct {
	// Message is empty when there is nothing to report.
	Message string
	Denied  bool
}

// Render joins deny messages, then allow messages, then errors and rule
// loading warnings under [Warning] sections. Skipped rules are omitted.
func Render(results []model.RuleResult, warnings []string) Report {
	var denies, allows, errs []string
	for _, r := range results {
		switch r.Status {
		case model.RuleSkip:
		case model.RuleDeny:
			denies = append(denies, r.Message)
		case model.RuleError:
			errs = append(errs, r.Message)
		default:
			allows = append(allows, r.Message)
		}
	}

	parts := append(append([]string{}, denies...), allows...)
	if len(errs) > 0 {
		parts = append(parts, "\n[Warning]\n"+strings.Join(errs, "\n"))
	}
	if len(warnings) > 0 {
		parts = append(parts, "\n[Warning]\n"+strings.Join(warnings, "\n"))
	}
	if len(parts) == 0 {
		return Report{}
	}
	return Report{
		Message: "[Validator Result]\n" + strings.Join(parts, "\n\n"),
		Denied:  len(denies) > 0,
	}
}

// WriteHookResult prints the hook decision for results. Nothing is printed
// when there is nothing to report, which the hook treats as allow.
func WriteHookResult(w io.Writer, results []model.RuleResult, warnings []string) error {
	rep := Render(results, warnings)
	if rep.Message == "" {
		return nil
	}
	if rep.Denied {
		return WriteHook(w, DecisionDeny, rep.Message+hookDenySuffix)
	}
	return WriteHook(w, DecisionAllow, rep.Message)
}

// WriteFullScan prints a full-scan report and returns the process exit
// code: 1 when any rule denied, otherwise 0. Denials go to stderr.
func WriteFullScan(stdout, stderr io.Writer, results []model.RuleResult, warnings []string) int {
	rep := Render(results, warnings)
	if rep.Message == "" {
		fmt.Fprintln(stdout, "No violations found.")
		return 0
	}
	if rep.Denied {
		fmt.Fprintln(stderr, rep.Message+fullScanDenySuffix)
		return 1
	}
	fmt.Fprintln(stdout, rep.Message)
	return 0
}

// WriteWarnings reports rule loading warnings when no check ran: on stderr
// for a full scan, as an allow decision for the hook.
func WriteWarnings(stdout, stderr io.Writer, warnings []string, fullScan bool) error {
	if len(warnings) == 0 {
		return nil
	}
	text := "[Validator]\n" + strings.Join(warnings, "\n")
	if fullScan {
		_, err := fmt.Fprintln(stderr, text)
		return err
	}
	return WriteHook(stdout, DecisionAllow, text)
}

// WriteUnexpected reports an internal failure as an allow decision so that
// a broken validator never blocks the caller.
func WriteUnexpected(w io.Writer, err error) error {
	return WriteHook(w, DecisionAllow, fmt.Sprintf("[Validator] Unexpected error: %v", err))
}
