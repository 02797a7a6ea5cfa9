package model

import "fmt"

// ViolationStatus is the lifecycle status of a queued violation.
type ViolationStatus string

const (
	ViolationPending      ViolationStatus = "pending"
	ViolationInProgress   ViolationStatus = "in_progress"
	ViolationResolved     ViolationStatus = "resolved"
	ViolationManualReview ViolationStatus = "manual_review"
	ViolationStale        ViolationStatus = "stale"
)

// UnitStatus is the verdict of a single (rule, file) check.
type UnitStatus string

const (
	UnitAllow UnitStatus = "allow"
	UnitDeny  UnitStatus = "deny"
	UnitError UnitStatus = "error"
)

// RuleStatus is the aggregated verdict of one rule across its matched files.
type RuleStatus string

const (
	RuleDeny  RuleStatus = "deny"
	RuleError RuleStatus = "error"
	RuleAllow RuleStatus = "allow"
	RuleSkip  RuleStatus = "skip"
)

// RunState is the overall state of a background run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
)

// TransitionCause distinguishes operator-driven transitions from the ones
// the system applies on its own (lease expiry, re-detection).
type TransitionCause string

const (
	CauseClaim       TransitionCause = "claim"
	CauseResolve     TransitionCause = "resolve"
	CauseHeartbeat   TransitionCause = "heartbeat"
	CauseLeaseExpiry TransitionCause = "lease_expiry"
	CauseDetection   TransitionCause = "detection"

	// CauseClaimConflict undoes a claim that lost a same-file race.
	CauseClaimConflict TransitionCause = "claim_conflict"
)

var violationStatuses = map[ViolationStatus]bool{
	ViolationPending:      true,
	ViolationInProgress:   true,
	ViolationResolved:     true,
	ViolationManualReview: true,
	ViolationStale:        true,
}

// resolved, manual_review and stale only leave via re-detection.
var terminalViolationStatuses = map[ViolationStatus]bool{
	ViolationResolved:     true,
	ViolationManualReview: true,
	ViolationStale:        true,
}

var validUserTransitions = map[TransitionCause]map[ViolationStatus]ViolationStatus{
	CauseClaim:     {ViolationPending: ViolationInProgress},
	CauseResolve:   {ViolationInProgress: ViolationResolved},
	CauseHeartbeat: {ViolationInProgress: ViolationInProgress},
}

// IsValidViolationStatus reports whether s is one of the known statuses.
func IsValidViolationStatus(s ViolationStatus) bool {
	return violationStatuses[s]
}

func IsViolationTerminal(s ViolationStatus) bool {
	return terminalViolationStatuses[s]
}

// ParseViolationStatus converts a raw string into a ViolationStatus.
func ParseViolationStatus(s string) (ViolationStatus, error) {
	st := ViolationStatus(s)
	if !violationStatuses[st] {
		return "", fmt.Errorf("unknown violation status %q", s)
	}
	return st, nil
}

// ValidateViolationTransition checks from → to for the given cause.
//
// Lease expiry and claim rollback only revert in_progress → pending. Detection may rewrite any
// state that is not actively claimed; the caller is responsible for the
// unexpired-claim check because it depends on the clock.
func ValidateViolationTransition(from, to ViolationStatus, cause TransitionCause) error {
	if !violationStatuses[from] {
		return fmt.Errorf("unknown violation status %q", from)
	}
	if !violationStatuses[to] {
		return fmt.Errorf("unknown violation status %q", to)
	}
	switch cause {
	case CauseLeaseExpiry, CauseClaimConflict:
		if from == ViolationInProgress && to == ViolationPending {
			return nil
		}
		return fmt.Errorf("invalid %s transition: %q → %q", cause, from, to)
	case CauseDetection:
		switch to {
		case ViolationPending, ViolationResolved, ViolationManualReview:
			return nil
		}
		return fmt.Errorf("invalid detection transition: %q → %q", from, to)
	}

	allowed, ok := validUserTransitions[cause]
	if !ok {
		return fmt.Errorf("unknown transition cause %q", cause)
	}
	if IsViolationTerminal(from) {
		return fmt.Errorf("cannot %s from terminal status %q", cause, from)
	}
	if want, ok := allowed[from]; !ok || want != to {
		return fmt.Errorf("invalid %s transition: %q → %q", cause, from, to)
	}
	return nil
}
