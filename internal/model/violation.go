package model

import "time"

// ViolationState is one persisted state of a violation. Each state lives in
// its own file under violations/queue/.
type ViolationState struct {
	ViolationID    string          `json:"violation_id"`
	RunID          string          `json:"run_id"`
	RuleID         string          `json:"rule_id"`
	TargetFilePath string          `json:"target_file_path"`
	Status         ViolationStatus `json:"status"`
	Severity       Severity        `json:"severity"`
	Priority       int             `json:"priority"`
	StateVersion   int64           `json:"state_version"`
	Owner          *string         `json:"owner"`
	ClaimUUID      *string         `json:"claim_uuid"`
	ClaimedAt      *string         `json:"claimed_at"`
	LeaseTTLSec    int             `json:"lease_ttl_sec,omitempty"`
	LeaseExpiresAt *string         `json:"lease_expires_at"`
	Message        string          `json:"message,omitempty"`
	DetectedAt     string          `json:"detected_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// ClearLease drops every field that is only meaningful while in_progress.
func (v *ViolationState) ClearLease() {
	v.Owner = nil
	v.ClaimUUID = nil
	v.ClaimedAt = nil
	v.LeaseTTLSec = 0
	v.LeaseExpiresAt = nil
}

// LeaseExpiry parses LeaseExpiresAt. ok is false when no lease is recorded
// or the timestamp is unparseable.
func (v *ViolationState) LeaseExpiry() (time.Time, bool) {
	if v.LeaseExpiresAt == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, *v.LeaseExpiresAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ViolationSummary is what list-pending-violations prints.
type ViolationSummary struct {
	ViolationID    string          `json:"violation_id"`
	RunID          string          `json:"run_id"`
	RuleID         string          `json:"rule_id"`
	TargetFilePath string          `json:"target_file_path"`
	Status         ViolationStatus `json:"status"`
	Severity       Severity        `json:"severity"`
	StateVersion   int64           `json:"state_version"`
	Owner          *string         `json:"owner,omitempty"`
	LeaseExpiresAt *string         `json:"lease_expires_at,omitempty"`
	DetectedAt     string          `json:"detected_at"`
}

func (v *ViolationState) Summary() ViolationSummary {
	return ViolationSummary{
		ViolationID:    v.ViolationID,
		RunID:          v.RunID,
		RuleID:         v.RuleID,
		TargetFilePath: v.TargetFilePath,
		Status:         v.Status,
		Severity:       v.Severity,
		StateVersion:   v.StateVersion,
		Owner:          v.Owner,
		LeaseExpiresAt: v.LeaseExpiresAt,
		DetectedAt:     v.DetectedAt,
	}
}
