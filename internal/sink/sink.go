// Package sink persists the per-unit results and the progress document of a
// background run under .complete-validator/stream-results/<run id>/.
package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msageha/complete_validator/internal/fsutil"
	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
)

const (
	statusFile     = "status.json"
	resultsDirName = "results"
	defaultKeep    = 5
)

// BaseDir returns the directory holding every run of a project.
func BaseDir(root string) string {
	return filepath.Join(root, ".complete-validator", "stream-results")
}

// NewRunID returns a fresh run id. Ids sort by creation time.
func NewRunID() (string, error) {
	return model.GenerateRunID(time.Now())
}

// StartRun creates the directory of runID and prunes older runs so that at
// most keep directories remain. It returns the run directory.
func StartRun(baseDir, runID string, keep int) (string, error) {
	if !model.ValidateRunID(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(filepath.Join(dir, resultsDirName), 0755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	if _, err := Prune(baseDir, keep); err != nil {
		return dir, err
	}
	return dir, nil
}

// Prune removes all but the newest keep run directories and returns the
// names it removed.
func Prune(baseDir string, keep int) ([]string, error) {
	if keep <= 0 {
		keep = defaultKeep
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	if len(runs) <= keep {
		return nil, nil
	}
	var removed []string
	for _, name := range runs[keep:] {
		if err := os.RemoveAll(filepath.Join(baseDir, name)); err != nil {
			return removed, fmt.Errorf("remove run %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// Tracker maintains status.json of one run. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	path   string
	status model.RunStatus
	now    func() time.Time
	logger *logging.Logger
}

// NewTracker writes the initial running document for total units.
func NewTracker(runDir string, total int, logger *logging.Logger) (*Tracker, error) {
	return newTracker(runDir, total, logger, time.Now)
}

func newTracker(runDir string, total int, logger *logging.Logger, now func() time.Time) (*Tracker, error) {
	started := now().Format(time.RFC3339)
	t := &Tracker{
		path:   filepath.Join(runDir, statusFile),
		now:    now,
		logger: logger.With("sink"),
		status: model.RunStatus{
			StreamID:   filepath.Base(runDir),
			TotalUnits: total,
			Status:     model.RunRunning,
			StartedAt:  started,
			Summary:    model.RunSummary{Pending: total},
		},
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeLocked(); err != nil {
		return nil, err
	}
	return t, nil
}

// Record counts one finished unit. The run becomes completed once every
// unit is recorded.
func (t *Tracker) Record(status model.UnitStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CompletedUnits++
	switch status {
	case model.UnitAllow:
		t.status.Summary.Allow++
	case model.UnitDeny:
		t.status.Summary.Deny++
	default:
		t.status.Summary.Error++
	}
	t.status.Summary.Pending = max(t.status.TotalUnits-t.status.CompletedUnits, 0)
	if t.status.CompletedUnits >= t.status.TotalUnits {
		t.status.Status = model.RunCompleted
	}
	return t.writeLocked()
}

// Complete marks the run completed regardless of the unit count, e.g. after
// the deadline dropped units.
func (t *Tracker) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Status = model.RunCompleted
	return t.writeLocked()
}

func (t *Tracker) Status() model.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tracker) writeLocked() error {
	t.status.UpdatedAt = t.now().Format(time.RFC3339)
	if err := fsutil.AtomicWriteJSON(t.path, t.status); err != nil {
		t.logger.Warnf("write status run=%s: %v", t.status.StreamID, err)
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// resultName is <rule with separators flattened>__<12 hex>.json. The hash
// covers the rule name as well, since flattening can map distinct rules to
// the same prefix.
func resultName(ruleName, filePath string) string {
	sum := sha256.Sum256([]byte(ruleName + "\x00" + filePath))
	safe := strings.NewReplacer("/", "__", "\\", "__", ".md", "").Replace(ruleName)
	return fmt.Sprintf("%s__%s.json", safe, hex.EncodeToString(sum[:])[:12])
}

// WriteResult stores one unit result in the run's results directory.
func WriteResult(runDir string, r model.UnitResult) (string, error) {
	path := filepath.Join(runDir, resultsDirName, resultName(r.RuleName, r.FilePath))
	if err := fsutil.AtomicWriteJSON(path, r); err != nil {
		return "", fmt.Errorf("write result %s: %w", r.RuleName, err)
	}
	return path, nil
}

// ReadResults loads every result of a run ordered by rule, then file.
// Unreadable files are skipped.
func ReadResults(runDir string) ([]model.UnitResult, error) {
	entries, err := os.ReadDir(filepath.Join(runDir, resultsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}
	var out []model.UnitResult
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(runDir, resultsDirName, e.Name()))
		if err != nil {
			continue
		}
		var r model.UnitResult
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuleName != out[j].RuleName {
			return out[i].RuleName < out[j].RuleName
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out, nil
}

// ReadStatus loads status.json of runID.
func ReadStatus(baseDir, runID string) (model.RunStatus, error) {
	if !model.ValidateRunID(runID) {
		return model.RunStatus{}, fmt.Errorf("invalid run id %q", runID)
	}
	data, err := os.ReadFile(filepath.Join(baseDir, runID, statusFile))
	if err != nil {
		return model.RunStatus{}, fmt.Errorf("read status: %w", err)
	}
	var st model.RunStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return model.RunStatus{}, fmt.Errorf("parse status: %w", err)
	}
	return st, nil
}
