package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/msageha/complete_validator/internal/events"
	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/oracle"
	"github.com/msageha/complete_validator/internal/queue"
	"github.com/msageha/complete_validator/internal/rules"
	"github.com/msageha/complete_validator/internal/scheduler"
	"github.com/msageha/complete_validator/internal/sink"
)

// WorkerLogName is the log file of a background run, inside its run dir.
const WorkerLogName = "worker.log"

// RunDir returns the result directory of runID.
func RunDir(root, runID string) string {
	return filepath.Join(sink.BaseDir(root), runID)
}

// StartStream creates a run directory and starts a detached worker process
// for it. It returns the run id without waiting for the worker.
func (r *Runner) StartStream(o Options) (string, error) {
	runID, err := sink.NewRunID()
	if err != nil {
		return "", err
	}
	dir, err := sink.StartRun(sink.BaseDir(r.root), runID, r.cfg.Stream.MaxResultsDirs)
	if err != nil {
		if dir == "" {
			return "", fmt.Errorf("start run: %w", err)
		}
		r.logger.Warnf("prune old runs: %v", err)
	}

	args := append([]string{"stream", "worker", "--stream-id", runID}, o.Flags()...)
	if err := r.spawn(args, filepath.Join(dir, WorkerLogName)); err != nil {
		return "", fmt.Errorf("start worker: %w", err)
	}
	r.logger.Infof("stream started run=%s", runID)
	return runID, nil
}

// spawnDetached re-executes the current binary in its own session so it
// outlives the hook that started it.
func spawnDetached(args []string, logPath string) error {
	execPath, err := os.Executable()
	if err != nil {
		execPath = "complete-validator"
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open worker log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(execPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = oracle.ChildEnv(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Worker performs a background run: every unit result is written to the
// run directory, counted in status.json and upserted into the violation
// queue. The run is always marked completed, even when nothing matched.
func (r *Runner) Worker(ctx context.Context, runID string, o Options) error {
	if !model.ValidateRunID(runID) {
		return fmt.Errorf("invalid run id %q", runID)
	}
	dir := RunDir(r.root, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	w, err := r.collect(ctx, o)
	if err != nil {
		r.finishEmpty(dir, err.Error())
		return err
	}
	var units []scheduler.Unit
	if w.empty() == "" {
		units = scheduler.BuildUnits(w.rules, w.targets, w.contents, w.chunks)
	}
	if len(units) == 0 {
		reason := w.empty()
		if reason == "" {
			reason = "no rule-file units"
		}
		r.finishEmpty(dir, reason)
		return nil
	}

	tracker, err := sink.NewTracker(dir, len(units), r.logger)
	if err != nil {
		return err
	}
	q, closeAudit := r.openQueue()
	defer closeAudit()

	severities := ruleSeverities(w.rules)

	r.logger.Infof("run=%s starting units=%d", runID, len(units))
	onResult := func(res model.UnitResult) {
		if _, err := sink.WriteResult(dir, res); err != nil {
			r.logger.Warnf("run=%s %v", runID, err)
		}
		if err := tracker.Record(res.Status); err != nil {
			r.logger.Warnf("run=%s record: %v", runID, err)
		}
		up, err := q.Upsert(queue.UpsertInput{
			RunID:    runID,
			RuleID:   res.RuleName,
			FilePath: model.CanonicalPath(r.root, res.FilePath),
			Status:   res.Status,
			Severity: severities[res.RuleName],
			Message:  res.Message,
		})
		switch {
		case err != nil:
			r.logger.Warnf("run=%s upsert rule=%s file=%s: %v", runID, res.RuleName, res.FilePath, err)
		case up.Skipped:
			r.logger.Infof("[%s] %s | %s (cache=%t) claimed, queue untouched", res.Status, res.RuleName, res.FilePath, res.CacheHit)
		default:
			r.logger.Infof("[%s] %s | %s (cache=%t) violation=%s", res.Status, res.RuleName, res.FilePath, res.CacheHit, up.State.ViolationID)
		}
	}

	r.scheduler(scheduler.ModeStream, o, w.suppressions, onResult).Run(ctx, units)
	if err := tracker.Complete(); err != nil {
		return err
	}
	r.logger.Infof("run=%s completed", runID)
	return nil
}

func (r *Runner) finishEmpty(dir, reason string) {
	r.logger.Infof("run=%s nothing to check: %s", filepath.Base(dir), reason)
	tracker, err := sink.NewTracker(dir, 0, r.logger)
	if err != nil {
		r.logger.Errorf("write status: %v", err)
		return
	}
	if err := tracker.Complete(); err != nil {
		r.logger.Errorf("write status: %v", err)
	}
}

// openQueue returns the project's violation queue with auditing enabled
// when the audit log can be opened.
func (r *Runner) openQueue() (*queue.Queue, func()) {
	return OpenQueue(r.root, r.cfg, r.logger)
}

// OpenQueue opens the violation queue of root. The returned func closes
// the audit log.
func OpenQueue(root string, cfg model.Config, logger *logging.Logger) (*queue.Queue, func()) {
	audit, err := events.NewAuditLogger(AuditPath(root), 0)
	if err != nil {
		logger.Warnf("audit log disabled: %v", err)
		return queue.New(queue.Dir(root), cfg.Queue, logger), func() {}
	}
	audit.EnableChecksum(true)
	q := queue.New(queue.Dir(root), cfg.Queue, logger, queue.WithAudit(audit))
	return q, func() { _ = audit.Close() }
}

func ruleSeverities(ruleList []rules.Rule) map[string]model.Severity {
	out := make(map[string]model.Severity, len(ruleList))
	for _, rule := range ruleList {
		out[rule.Name] = rule.Severity()
	}
	return out
}
