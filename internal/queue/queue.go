// Package queue is the durable violation queue: one JSON file per
// violation state, mutated only through atomic renames so that independent
// processes can claim, heartbeat and resolve violations without a shared
// lock.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/complete_validator/internal/events"
	"github.com/msageha/complete_validator/internal/fsutil"
	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
)

// orphanAge is how old a temp file must be before it is treated as left
// behind by a crashed writer.
const orphanAge = time.Minute

// Dir returns the queue directory for a project root.
func Dir(root string) string {
	return filepath.Join(root, ".complete-validator", "violations", "queue")
}

// AuditSink receives one entry per committed transition.
type AuditSink interface {
	WriteEntry(entry *events.LogEntry) error
}

type Queue struct {
	dir    string
	cfg    model.QueueConfig
	logger *logging.Logger
	now    func() time.Time
	audit  AuditSink
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithAudit(a AuditSink) Option {
	return func(q *Queue) { q.audit = a }
}

func New(dir string, cfg model.QueueConfig, logger *logging.Logger, opts ...Option) *Queue {
	q := &Queue{
		dir:    dir,
		cfg:    cfg,
		logger: logger.With("queue"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Dir() string {
	return q.dir
}

// record is one parsed state file.
type record struct {
	name  string
	path  string
	state model.ViolationState
	raw   []byte
}

func (q *Queue) timestamp() string {
	return q.now().UTC().Format(time.RFC3339Nano)
}

// leaseExpired reports whether an in_progress state's lease has run out,
// allowing for the configured grace period. A missing or unparseable expiry
// counts as expired.
func (q *Queue) leaseExpired(s *model.ViolationState) bool {
	exp, ok := s.LeaseExpiry()
	if !ok {
		return true
	}
	return q.now().After(exp.Add(q.cfg.LeaseGrace()))
}

func (q *Queue) activeClaim(s *model.ViolationState) bool {
	return s.Status == model.ViolationInProgress && !q.leaseExpired(s)
}

// scan reads every state file. Foreign, corrupt or mismatching files are
// skipped.
func (q *Queue) scan() ([]*record, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue dir: %w", err)
	}

	var records []*record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := ParseFilename(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(q.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			// Moved by a concurrent writer between ReadDir and here.
			continue
		}
		s, err := decodeState(data)
		if err != nil || s.ViolationID != key.ViolationID || s.Status != key.Status {
			q.logger.Debugf("skip unreadable state file=%s", e.Name())
			continue
		}
		records = append(records, &record{name: e.Name(), path: path, state: *s, raw: data})
	}
	return records, nil
}

// newestByID keeps the highest state_version per violation id.
func newestByID(records []*record) map[string]*record {
	newest := make(map[string]*record)
	for _, r := range records {
		cur, ok := newest[r.state.ViolationID]
		if !ok || r.state.StateVersion > cur.state.StateVersion ||
			(r.state.StateVersion == cur.state.StateVersion && r.name > cur.name) {
			newest[r.state.ViolationID] = r
		}
	}
	return newest
}

func recordsFor(records []*record, violationID string) []*record {
	var out []*record
	for _, r := range records {
		if r.state.ViolationID == violationID {
			out = append(out, r)
		}
	}
	return out
}

// reclaimExpired reverts every in_progress state whose lease has expired to
// pending. It returns the claim uuid of each reclaimed violation. Lost races
// are ignored: someone else already moved that state.
func (q *Queue) reclaimExpired() (map[string]string, error) {
	q.recoverOrphans()

	records, err := q.scan()
	if err != nil {
		return nil, err
	}
	reclaimed := make(map[string]string)
	for _, r := range newestByID(records) {
		if r.state.Status != model.ViolationInProgress || !q.leaseExpired(&r.state) {
			continue
		}
		prevClaim := ""
		if r.state.ClaimUUID != nil {
			prevClaim = *r.state.ClaimUUID
		}
		next := r.state
		if err := q.revertToPending(r, &next, model.CauseLeaseExpiry); err != nil {
			if errors.Is(err, errRaceLost) {
				continue
			}
			return reclaimed, err
		}
		reclaimed[r.state.ViolationID] = prevClaim
		q.logger.Infof("lease_expired id=%s owner=%s version=%d", r.state.ViolationID, deref(r.state.Owner), next.StateVersion)
	}
	return reclaimed, nil
}

func (q *Queue) revertToPending(r *record, next *model.ViolationState, cause model.TransitionCause) error {
	if err := model.ValidateViolationTransition(r.state.Status, model.ViolationPending, cause); err != nil {
		return err
	}
	prevOwner := deref(r.state.Owner)
	next.Status = model.ViolationPending
	next.ClearLease()
	next.StateVersion = r.state.StateVersion + 1
	next.UpdatedAt = q.timestamp()
	if _, err := q.commit(r, next); err != nil {
		return err
	}
	eventType := events.EventLeaseExpiry
	if cause == model.CauseClaimConflict {
		eventType = events.EventClaimConflict
	}
	q.logTransition(eventType, &r.state, next, prevOwner)
	return nil
}

// recoverOrphans republishes temp files left behind by a writer that died
// between the two renames of a transition. An orphan is first renamed to a
// temp name of our own, so recovery competes for it through the same rename
// as writers do.
func (q *Queue) recoverOrphans() {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return
	}
	cutoff := q.now().Add(-orphanAge)
	for _, e := range entries {
		if e.IsDir() || !isTempName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(q.dir, e.Name())
		claimed := q.tempPath(tempOwner(e.Name()))
		if err := os.Rename(path, claimed); err != nil {
			continue
		}
		// The writer may have stamped the file between our stat and rename.
		if info, err := os.Stat(claimed); err != nil || info.ModTime().After(cutoff) {
			_ = os.Rename(claimed, path)
			continue
		}
		q.republish(e.Name(), claimed)
	}
}

func (q *Queue) republish(name, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	s, err := decodeState(data)
	if err != nil || !model.ValidateViolationID(s.ViolationID) || !model.IsValidViolationStatus(s.Status) {
		if dest, qerr := fsutil.Quarantine(filepath.Dir(q.dir), path); qerr == nil {
			q.logger.Warnf("quarantined torn state file=%s dest=%s", name, dest)
		}
		return
	}
	target := filepath.Join(q.dir, Filename(stateKey(s)))
	if _, err := os.Stat(target); err == nil {
		_ = os.Remove(path)
		return
	}
	if err := os.Rename(path, target); err == nil {
		q.logger.Warnf("recovered orphaned state id=%s version=%d", s.ViolationID, s.StateVersion)
	}
}

func (q *Queue) logTransition(eventType string, prev, next *model.ViolationState, owner string) {
	q.logger.Debugf("%s id=%s %s->%s version=%d", eventType, next.ViolationID, prevStatus(prev), next.Status, next.StateVersion)
	if q.audit == nil {
		return
	}
	if owner == "" {
		owner = deref(next.Owner)
	}
	entry := &events.LogEntry{
		Timestamp:    q.now().UTC(),
		EventType:    eventType,
		ViolationID:  next.ViolationID,
		RunID:        next.RunID,
		FromStatus:   prevStatus(prev),
		ToStatus:     string(next.Status),
		StateVersion: next.StateVersion,
		Owner:        owner,
		Details: map[string]any{
			"rule_id":          next.RuleID,
			"target_file_path": next.TargetFilePath,
		},
	}
	if err := q.audit.WriteEntry(entry); err != nil {
		q.logger.Warnf("audit write failed id=%s: %v", next.ViolationID, err)
	}
}

func prevStatus(s *model.ViolationState) string {
	if s == nil {
		return ""
	}
	return string(s.Status)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseTime yields the zero time for unparseable input, which sorts first.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func strPtr(s string) *string {
	return &s
}

// UpsertInput is one completed check unit.
type UpsertInput struct {
	RunID    string
	RuleID   string
	FilePath string // canonical path
	Status   model.UnitStatus
	// Severity recorded for a deny; defaults to high.
	Severity model.Severity
	Message  string
}

type UpsertResult struct {
	State   model.ViolationState
	Skipped bool // an active claim was left untouched
}

// Upsert records the outcome of a check unit. A deny becomes pending, an
// error manual_review and an allow resolved. An actively claimed violation
// is left alone.
func (q *Queue) Upsert(in UpsertInput) (UpsertResult, error) {
	const op = "upsert"
	if in.RuleID == "" || in.FilePath == "" {
		return UpsertResult{}, opErr(op, ErrCodeValidation, "", "rule_id and target_file_path are required")
	}

	status, severity := model.ViolationResolved, model.SeverityMedium
	switch in.Status {
	case model.UnitDeny:
		status, severity = model.ViolationPending, model.SeverityHigh
		if in.Severity != "" {
			severity = in.Severity
		}
	case model.UnitError:
		status, severity = model.ViolationManualReview, model.SeverityHigh
	case model.UnitAllow:
	default:
		return UpsertResult{}, opErr(op, ErrCodeValidation, "", "unknown unit status %q", in.Status)
	}

	id := model.ViolationID(in.RuleID, in.FilePath)
	records, err := q.scan()
	if err != nil {
		return UpsertResult{}, internalErr(op, id, err)
	}
	existing := recordsFor(records, id)
	if len(existing) == 0 && q.inFlight(id) {
		return UpsertResult{}, opErr(op, ErrCodeRaceLost, id, "a concurrent transition is in progress")
	}

	var maxVersion int64
	var newest *record
	for _, r := range existing {
		if q.activeClaim(&r.state) {
			q.logger.Debugf("upsert skipped id=%s: claimed by %s", id, deref(r.state.Owner))
			return UpsertResult{State: r.state, Skipped: true}, nil
		}
		if r.state.StateVersion >= maxVersion {
			maxVersion = r.state.StateVersion
		}
	}
	if n := newestByID(existing); n[id] != nil {
		newest = n[id]
	}

	now := q.timestamp()
	next := model.ViolationState{
		ViolationID:    id,
		RunID:          in.RunID,
		RuleID:         in.RuleID,
		TargetFilePath: in.FilePath,
		Status:         status,
		Severity:       severity,
		Priority:       severity.Priority(),
		StateVersion:   maxVersion + 1,
		Message:        in.Message,
		DetectedAt:     now,
		UpdatedAt:      now,
	}

	var target string
	if newest != nil {
		if err := model.ValidateViolationTransition(newest.state.Status, status, model.CauseDetection); err != nil {
			return UpsertResult{}, opErr(op, ErrCodeInvalidState, id, "%v", err)
		}
		target, err = q.commit(newest, &next)
	} else {
		target, err = q.create(&next)
	}
	if err != nil {
		if errors.Is(err, errRaceLost) {
			return UpsertResult{}, opErr(op, ErrCodeRaceLost, id, "%v", err)
		}
		return UpsertResult{}, internalErr(op, id, err)
	}

	// Older files for the same id are superseded now.
	for _, r := range existing {
		if r != newest && r.path != target {
			if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
				q.logger.Warnf("remove superseded state file=%s: %v", r.name, err)
			}
		}
	}

	var prev *model.ViolationState
	if newest != nil {
		prev = &newest.state
	}
	q.logTransition(events.EventDetected, prev, &next, "")
	return UpsertResult{State: next}, nil
}

// lookup returns the newest state of violationID produced by runID. A
// state that is mid-transition is invisible to a scan, so a miss is retried
// once before it is reported.
func (q *Queue) lookup(op, runID, violationID string) (*record, []*record, error) {
	var records []*record
	var r *record
	for attempt := 0; attempt < 2 && r == nil; attempt++ {
		var err error
		records, err = q.scan()
		if err != nil {
			return nil, nil, internalErr(op, violationID, err)
		}
		r = newestByID(recordsFor(records, violationID))[violationID]
	}
	if r == nil && q.inFlight(violationID) {
		return nil, records, opErr(op, ErrCodeRaceLost, violationID, "a concurrent transition is in progress")
	}
	if r == nil || r.state.RunID != runID {
		return nil, records, opErr(op, ErrCodeNotFound, violationID, "violation not found in run %s", runID)
	}
	return r, records, nil
}

// inFlight reports whether a transition of violationID currently holds its
// state under a temp name.
func (q *Queue) inFlight(violationID string) bool {
	matches, _ := filepath.Glob(filepath.Join(q.dir, "."+violationID+".*"+tempSuffix))
	return len(matches) > 0
}

func validateIDs(op, runID, violationID string) error {
	if runID == "" || violationID == "" {
		return opErr(op, ErrCodeValidation, violationID, "run id and violation id are required")
	}
	if !model.ValidateViolationID(violationID) {
		return opErr(op, ErrCodeValidation, violationID, "malformed violation id")
	}
	return nil
}

func (q *Queue) leaseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return q.cfg.DefaultLeaseTTL()
	}
	return ttl
}

// Claim takes an exclusive, time-bounded lease on a pending violation.
// Only one unexpired claim may exist per target file.
func (q *Queue) Claim(runID, violationID, owner string, ttl time.Duration) (model.ViolationState, error) {
	const op = "claim"
	if err := validateIDs(op, runID, violationID); err != nil {
		return model.ViolationState{}, err
	}
	if owner == "" {
		return model.ViolationState{}, opErr(op, ErrCodeValidation, violationID, "owner is required")
	}
	if _, err := q.reclaimExpired(); err != nil {
		return model.ViolationState{}, internalErr(op, violationID, err)
	}

	cur, records, err := q.lookup(op, runID, violationID)
	if err != nil {
		return model.ViolationState{}, err
	}
	switch cur.state.Status {
	case model.ViolationPending:
	case model.ViolationInProgress:
		return model.ViolationState{}, opErr(op, ErrCodeAlreadyClaimed, violationID, "already claimed by %s", deref(cur.state.Owner))
	default:
		return model.ViolationState{}, opErr(op, ErrCodeInvalidState, violationID, "status is %s", cur.state.Status)
	}
	if other := q.fileConflict(records, cur); other != nil {
		return model.ViolationState{}, opErr(op, ErrCodeFileConflict, violationID,
			"%s is claimed by %s via violation %s", cur.state.TargetFilePath, deref(other.state.Owner), other.state.ViolationID)
	}
	if err := model.ValidateViolationTransition(cur.state.Status, model.ViolationInProgress, model.CauseClaim); err != nil {
		return model.ViolationState{}, opErr(op, ErrCodeInvalidState, violationID, "%v", err)
	}

	ttl = q.leaseTTL(ttl)
	now := q.now().UTC()
	next := cur.state
	next.Status = model.ViolationInProgress
	next.Owner = strPtr(owner)
	next.ClaimUUID = strPtr(uuid.NewString())
	next.ClaimedAt = strPtr(now.Format(time.RFC3339Nano))
	next.LeaseTTLSec = int(ttl / time.Second)
	next.LeaseExpiresAt = strPtr(now.Add(ttl).Format(time.RFC3339Nano))
	next.StateVersion = cur.state.StateVersion + 1
	next.UpdatedAt = now.Format(time.RFC3339Nano)

	target, err := q.commit(cur, &next)
	if err != nil {
		if errors.Is(err, errRaceLost) {
			return model.ViolationState{}, opErr(op, ErrCodeRaceLost, violationID, "%v", err)
		}
		return model.ViolationState{}, internalErr(op, violationID, err)
	}

	// Claims on different violations of the same file can pass the scan
	// above concurrently. Whoever sees a rival after committing backs off,
	// so at most one of them keeps its claim.
	if rival := q.postCommitConflict(&next); rival != nil {
		committed := &record{name: filepath.Base(target), path: target, state: next}
		committed.raw, _ = encodeState(&next)
		rolledBack := next
		if err := q.revertToPending(committed, &rolledBack, model.CauseClaimConflict); err != nil {
			q.logger.Errorf("claim rollback id=%s: %v", violationID, err)
		}
		return model.ViolationState{}, opErr(op, ErrCodeFileConflict, violationID,
			"%s was claimed concurrently via violation %s", next.TargetFilePath, rival.state.ViolationID)
	}

	q.logTransition(events.EventClaimed, &cur.state, &next, "")
	q.logger.Infof("claim id=%s owner=%s version=%d expires=%s", violationID, owner, next.StateVersion, *next.LeaseExpiresAt)
	return next, nil
}

// fileConflict finds another active claim on cur's target file.
func (q *Queue) fileConflict(records []*record, cur *record) *record {
	for _, r := range records {
		if r.path == cur.path || r.state.TargetFilePath != cur.state.TargetFilePath {
			continue
		}
		if q.activeClaim(&r.state) {
			return r
		}
	}
	return nil
}

func (q *Queue) postCommitConflict(claimed *model.ViolationState) *record {
	records, err := q.scan()
	if err != nil {
		return nil
	}
	for _, r := range records {
		if r.state.TargetFilePath != claimed.TargetFilePath || ptrEqual(r.state.ClaimUUID, claimed.ClaimUUID) {
			continue
		}
		if q.activeClaim(&r.state) {
			return r
		}
	}
	return nil
}

type ResolveResult struct {
	State           model.ViolationState
	AlreadyResolved bool
}

// Resolve marks a claimed violation resolved. Resolving an already resolved
// violation succeeds without changes. claimUUID and version are optional
// fencing tokens; when given they must match the stored state.
func (q *Queue) Resolve(runID, violationID, claimUUID string, version *int64) (ResolveResult, error) {
	const op = "resolve"
	if err := validateIDs(op, runID, violationID); err != nil {
		return ResolveResult{}, err
	}
	if _, err := q.reclaimExpired(); err != nil {
		return ResolveResult{}, internalErr(op, violationID, err)
	}

	cur, _, err := q.lookup(op, runID, violationID)
	if err != nil {
		return ResolveResult{}, err
	}
	if cur.state.Status == model.ViolationResolved {
		return ResolveResult{State: cur.state, AlreadyResolved: true}, nil
	}
	if cur.state.Status != model.ViolationInProgress {
		return ResolveResult{}, opErr(op, ErrCodeInvalidState, violationID, "status is %s", cur.state.Status)
	}
	if err := q.checkFencing(op, &cur.state, claimUUID, version); err != nil {
		return ResolveResult{}, err
	}
	if err := model.ValidateViolationTransition(cur.state.Status, model.ViolationResolved, model.CauseResolve); err != nil {
		return ResolveResult{}, opErr(op, ErrCodeInvalidState, violationID, "%v", err)
	}

	owner := deref(cur.state.Owner)
	next := cur.state
	next.Status = model.ViolationResolved
	next.ClearLease()
	next.StateVersion = cur.state.StateVersion + 1
	next.UpdatedAt = q.timestamp()

	if _, err := q.commit(cur, &next); err != nil {
		if errors.Is(err, errRaceLost) {
			return ResolveResult{}, opErr(op, ErrCodeRaceLost, violationID, "%v", err)
		}
		return ResolveResult{}, internalErr(op, violationID, err)
	}
	q.logTransition(events.EventResolved, &cur.state, &next, owner)
	q.logger.Infof("resolve id=%s owner=%s version=%d", violationID, owner, next.StateVersion)
	return ResolveResult{State: next}, nil
}

func (q *Queue) checkFencing(op string, s *model.ViolationState, claimUUID string, version *int64) error {
	if claimUUID != "" && deref(s.ClaimUUID) != claimUUID {
		return opErr(op, ErrCodeClaimMismatch, s.ViolationID, "claim uuid does not match the active claim")
	}
	if version != nil && *version != s.StateVersion {
		return opErr(op, ErrCodeVersionMismatch, s.ViolationID, "state_version is %d, got %d", s.StateVersion, *version)
	}
	return nil
}

// Heartbeat extends the lease of an active claim. ttl <= 0 reuses the
// claim's lease TTL.
func (q *Queue) Heartbeat(runID, violationID, claimUUID string, version *int64, ttl time.Duration) (model.ViolationState, error) {
	const op = "heartbeat"
	if err := validateIDs(op, runID, violationID); err != nil {
		return model.ViolationState{}, err
	}
	if claimUUID == "" {
		return model.ViolationState{}, opErr(op, ErrCodeValidation, violationID, "claim uuid is required")
	}
	reclaimed, err := q.reclaimExpired()
	if err != nil {
		return model.ViolationState{}, internalErr(op, violationID, err)
	}
	if prev, ok := reclaimed[violationID]; ok && prev == claimUUID {
		return model.ViolationState{}, opErr(op, ErrCodeLeaseExpired, violationID, "lease expired before heartbeat")
	}

	cur, _, err := q.lookup(op, runID, violationID)
	if err != nil {
		return model.ViolationState{}, err
	}
	if cur.state.Status != model.ViolationInProgress {
		return model.ViolationState{}, opErr(op, ErrCodeInvalidState, violationID, "status is %s", cur.state.Status)
	}
	if err := q.checkFencing(op, &cur.state, claimUUID, version); err != nil {
		return model.ViolationState{}, err
	}
	if q.leaseExpired(&cur.state) {
		return model.ViolationState{}, opErr(op, ErrCodeLeaseExpired, violationID, "lease expired at %s", deref(cur.state.LeaseExpiresAt))
	}
	if err := model.ValidateViolationTransition(cur.state.Status, model.ViolationInProgress, model.CauseHeartbeat); err != nil {
		return model.ViolationState{}, opErr(op, ErrCodeInvalidState, violationID, "%v", err)
	}

	if ttl <= 0 {
		ttl = time.Duration(cur.state.LeaseTTLSec) * time.Second
	}
	ttl = q.leaseTTL(ttl)
	now := q.now().UTC()
	next := cur.state
	next.LeaseTTLSec = int(ttl / time.Second)
	next.LeaseExpiresAt = strPtr(now.Add(ttl).Format(time.RFC3339Nano))
	next.StateVersion = cur.state.StateVersion + 1
	next.UpdatedAt = now.Format(time.RFC3339Nano)

	if _, err := q.commit(cur, &next); err != nil {
		if errors.Is(err, errRaceLost) {
			return model.ViolationState{}, opErr(op, ErrCodeRaceLost, violationID, "%v", err)
		}
		return model.ViolationState{}, internalErr(op, violationID, err)
	}
	q.logTransition(events.EventHeartbeat, &cur.state, &next, "")
	q.logger.Debugf("heartbeat id=%s version=%d expires=%s", violationID, next.StateVersion, *next.LeaseExpiresAt)
	return next, nil
}

// List returns the newest state of every violation of runID (all runs when
// runID is empty), optionally filtered by status. Results are ordered by
// severity, detection time, then filename.
func (q *Queue) List(runID string, statuses ...model.ViolationStatus) ([]model.ViolationState, error) {
	const op = "list"
	if _, err := q.reclaimExpired(); err != nil {
		return nil, internalErr(op, "", err)
	}
	records, err := q.scan()
	if err != nil {
		return nil, internalErr(op, "", err)
	}

	want := make(map[model.ViolationStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var selected []*record
	for _, r := range newestByID(records) {
		if runID != "" && r.state.RunID != runID {
			continue
		}
		if len(want) > 0 && !want[r.state.Status] {
			continue
		}
		selected = append(selected, r)
	}

	sort.Slice(selected, func(i, j int) bool {
		a, b := &selected[i].state, &selected[j].state
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if da, db := parseTime(a.DetectedAt), parseTime(b.DetectedAt); !da.Equal(db) {
			return da.Before(db)
		}
		return selected[i].name < selected[j].name
	})

	out := make([]model.ViolationState, len(selected))
	for i, r := range selected {
		out[i] = r.state
	}
	return out, nil
}

// Get returns the newest state of violationID.
func (q *Queue) Get(violationID string) (model.ViolationState, error) {
	const op = "get"
	if !model.ValidateViolationID(violationID) {
		return model.ViolationState{}, opErr(op, ErrCodeValidation, violationID, "malformed violation id")
	}
	records, err := q.scan()
	if err != nil {
		return model.ViolationState{}, internalErr(op, violationID, err)
	}
	r := newestByID(recordsFor(records, violationID))[violationID]
	if r == nil {
		return model.ViolationState{}, opErr(op, ErrCodeNotFound, violationID, "violation not found")
	}
	return r.state, nil
}
