package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/events"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/queue"
	"github.com/msageha/complete_validator/internal/runner"
)

func violationsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "violations",
		Aliases: []string{"v"},
		Short:   "List, claim, heartbeat and resolve queued violations",
	}
	cmd.AddCommand(
		violationsListCmd(g),
		violationsClaimCmd(g),
		violationsResolveCmd(g),
		violationsHeartbeatCmd(g),
		violationsHistoryCmd(g),
	)
	return cmd
}

// withQueue opens the project's queue for one command. Setup failures are
// reported in the JSON envelope like any queue failure.
func withQueue(cmd *cobra.Command, g *globalFlags, fn func(q *queue.Queue) error) error {
	e, err := loadEnv(cmd.Context(), g, runner.LogPath)
	if e != nil {
		defer e.close()
	}
	if err != nil {
		return writeFailure(cmd.OutOrStdout(), err)
	}
	q, closeAudit := runner.OpenQueue(e.root, e.cfg, e.logger)
	defer closeAudit()
	if err := fn(q); err != nil {
		e.logger.Warnf("%s: %v", cmd.CommandPath(), err)
		return writeFailure(cmd.OutOrStdout(), err)
	}
	return nil
}

func violationsListCmd(g *globalFlags) *cobra.Command {
	var statuses []string
	var all bool
	cmd := &cobra.Command{
		Use:   "list RUN_ID",
		Short: "List violations of a run, pending ones by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, g, func(q *queue.Queue) error {
				var filter []model.ViolationStatus
				if !all {
					for _, s := range statuses {
						st, err := model.ParseViolationStatus(s)
						if err != nil {
							return &queue.OpError{Op: "list", Code: queue.ErrCodeValidation, Message: err.Error()}
						}
						filter = append(filter, st)
					}
				}
				states, err := q.List(args[0], filter...)
				if err != nil {
					return err
				}
				summaries := make([]model.ViolationSummary, 0, len(states))
				for i := range states {
					summaries = append(summaries, states[i].Summary())
				}
				return writeSuccess(cmd.OutOrStdout(), summaries)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", []string{string(model.ViolationPending)}, "Statuses to include")
	cmd.Flags().BoolVar(&all, "all", false, "Include every status")
	return cmd
}

type claimOutput struct {
	ViolationID    string `json:"violation_id"`
	ClaimUUID      string `json:"claim_uuid"`
	StateVersion   int64  `json:"state_version"`
	LeaseExpiresAt string `json:"lease_expires_at"`
}

func leaseOutput(s model.ViolationState) claimOutput {
	out := claimOutput{ViolationID: s.ViolationID, StateVersion: s.StateVersion}
	if s.ClaimUUID != nil {
		out.ClaimUUID = *s.ClaimUUID
	}
	if s.LeaseExpiresAt != nil {
		out.LeaseExpiresAt = *s.LeaseExpiresAt
	}
	return out
}

func violationsClaimCmd(g *globalFlags) *cobra.Command {
	var owner string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "claim RUN_ID VIOLATION_ID",
		Short: "Take an exclusive lease on a pending violation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, g, func(q *queue.Queue) error {
				s, err := q.Claim(args[0], args[1], owner, ttl)
				if err != nil {
					return err
				}
				return writeSuccess(cmd.OutOrStdout(), leaseOutput(s))
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Who is working on the violation")
	cmd.Flags().DurationVar(&ttl, "lease-ttl", 0, "Lease duration (default from config)")
	return cmd
}

// versionFlag returns the --state-version value when it was given.
func versionFlag(cmd *cobra.Command, v int64) *int64 {
	if !cmd.Flags().Changed("state-version") {
		return nil
	}
	return &v
}

func violationsResolveCmd(g *globalFlags) *cobra.Command {
	var claimUUID string
	var version int64
	cmd := &cobra.Command{
		Use:   "resolve RUN_ID VIOLATION_ID",
		Short: "Mark a claimed violation resolved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, g, func(q *queue.Queue) error {
				res, err := q.Resolve(args[0], args[1], claimUUID, versionFlag(cmd, version))
				if err != nil {
					return err
				}
				return writeSuccess(cmd.OutOrStdout(), map[string]any{
					"violation_id":     res.State.ViolationID,
					"state_version":    res.State.StateVersion,
					"already_resolved": res.AlreadyResolved,
				})
			})
		},
	}
	cmd.Flags().StringVar(&claimUUID, "claim-uuid", "", "Claim token returned by claim")
	cmd.Flags().Int64Var(&version, "state-version", 0, "Expected state version")
	return cmd
}

func violationsHeartbeatCmd(g *globalFlags) *cobra.Command {
	var claimUUID string
	var version int64
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "heartbeat RUN_ID VIOLATION_ID",
		Short: "Extend the lease of an active claim",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, g, func(q *queue.Queue) error {
				s, err := q.Heartbeat(args[0], args[1], claimUUID, versionFlag(cmd, version), ttl)
				if err != nil {
					return err
				}
				return writeSuccess(cmd.OutOrStdout(), leaseOutput(s))
			})
		},
	}
	cmd.Flags().StringVar(&claimUUID, "claim-uuid", "", "Claim token returned by claim")
	cmd.Flags().Int64Var(&version, "state-version", 0, "Expected state version")
	cmd.Flags().DurationVar(&ttl, "lease-ttl", 0, "New lease duration (default: the claim's)")
	return cmd
}

func violationsHistoryCmd(g *globalFlags) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "history [VIOLATION_ID]",
		Short: "Print the audit trail of queue transitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return writeFailure(cmd.OutOrStdout(), err)
			}
			return history(cmd, runner.AuditPath(e.root), args, verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Check entry checksums instead of printing entries")
	return cmd
}

func history(cmd *cobra.Command, path string, args []string, verify bool) error {
	if verify {
		total, valid, err := events.VerifyLogIntegrity(path)
		if err != nil {
			return writeFailure(cmd.OutOrStdout(), fmt.Errorf("verify audit log: %w", err))
		}
		invalid := total - valid
		if err := writeSuccess(cmd.OutOrStdout(), map[string]int{"valid": valid, "invalid": invalid}); err != nil {
			return err
		}
		if invalid > 0 {
			return exitError{code: 1}
		}
		return nil
	}

	entries, err := events.ReadEntries(path)
	if err != nil {
		return writeFailure(cmd.OutOrStdout(), fmt.Errorf("read audit log: %w", err))
	}
	out := make([]events.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if len(args) == 1 && entry.ViolationID != args[0] {
			continue
		}
		out = append(out, entry)
	}
	return writeSuccess(cmd.OutOrStdout(), out)
}
