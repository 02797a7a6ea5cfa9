package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/complete_validator/internal/events"
	"github.com/msageha/complete_validator/internal/lock"
	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/queue"
	"github.com/msageha/complete_validator/internal/sink"
)

const namingRule = `---
applies_to:
  - "*.py"
severity: critical
---
# Naming

## Names describe intent
`

type fakeOracle struct {
	calls atomic.Int32
	reply string
}

func (f *fakeOracle) Check(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	return f.reply, nil
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// setupRepo creates a repository with one rule and one committed python
// file that has an unstaged modification.
func setupRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"config", "commit.gpgsign", "false"},
	} {
		runGit(t, dir, args...)
	}
	writeFile(t, dir, ".complete-validator/rules/naming.md", namingRule)
	writeFile(t, dir, "src/app.py", "x = 1\n")
	writeFile(t, dir, "README.md", "hello\n")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "init")
	writeFile(t, dir, "src/app.py", "x = 2\n")
	return dir
}

func newTestRunner(t *testing.T, root string, reply string) (*Runner, *fakeOracle, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	fo := &fakeOracle{reply: reply}
	var stdout, stderr bytes.Buffer
	r := New(root, root, model.Config{}.ApplyDefaults(), logging.Discard(), WithOracle(fo), WithOutput(&stdout, &stderr))
	return r, fo, &stdout, &stderr
}

type hookOutput struct {
	HookSpecificOutput struct {
		HookEventName      string `json:"hookEventName"`
		PermissionDecision string `json:"permissionDecision"`
		AdditionalContext  string `json:"additionalContext"`
	} `json:"hookSpecificOutput"`
}

func decodeHook(t *testing.T, out string) hookOutput {
	t.Helper()
	var h hookOutput
	require.NoError(t, json.Unmarshal([]byte(out), &h), out)
	return h
}

func TestCheck_HookDeny(t *testing.T) {
	root := setupRepo(t)
	r, fo, stdout, _ := newTestRunner(t, root, "`x` is not a descriptive name.")

	code := r.Check(context.Background(), Options{})
	assert.Equal(t, 0, code)
	assert.EqualValues(t, 1, fo.calls.Load())

	h := decodeHook(t, stdout.String())
	assert.Equal(t, "PreToolUse", h.HookSpecificOutput.HookEventName)
	assert.Equal(t, "deny", h.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, h.HookSpecificOutput.AdditionalContext, "[Rule: naming.md | File: src/app.py]")
	assert.Contains(t, h.HookSpecificOutput.AdditionalContext, "not a descriptive name")
}

func TestCheck_HookAllowUsesCache(t *testing.T) {
	root := setupRepo(t)
	r, fo, stdout, _ := newTestRunner(t, root, "No violations found.")

	r.Check(context.Background(), Options{})
	h := decodeHook(t, stdout.String())
	assert.Equal(t, "allow", h.HookSpecificOutput.PermissionDecision)

	stdout.Reset()
	r.Check(context.Background(), Options{})
	assert.EqualValues(t, 1, fo.calls.Load(), "second check is served from the cache")
	assert.Equal(t, "allow", decodeHook(t, stdout.String()).HookSpecificOutput.PermissionDecision)

	_, err := os.Stat(CachePath(root))
	assert.NoError(t, err)
}

func TestCheck_Staged(t *testing.T) {
	root := setupRepo(t)
	r, fo, stdout, _ := newTestRunner(t, root, "bad")

	r.Check(context.Background(), Options{Staged: true})
	assert.Empty(t, stdout.String(), "nothing staged yet")
	assert.Zero(t, fo.calls.Load())

	runGit(t, root, "add", "src/app.py")
	r.Check(context.Background(), Options{Staged: true})
	assert.Equal(t, "deny", decodeHook(t, stdout.String()).HookSpecificOutput.PermissionDecision)
}

func TestCheck_NoMatchingFiles(t *testing.T) {
	root := setupRepo(t)
	runGit(t, root, "checkout", "--", "src/app.py")
	writeFile(t, root, "README.md", "changed\n")
	r, fo, stdout, _ := newTestRunner(t, root, "bad")

	assert.Equal(t, 0, r.Check(context.Background(), Options{}))
	assert.Empty(t, stdout.String())
	assert.Zero(t, fo.calls.Load())
}

func TestCheck_WarningsWithoutRules(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, ".complete-validator/rules/naming.md", "# no frontmatter\n")
	r, _, stdout, _ := newTestRunner(t, root, "bad")

	r.Check(context.Background(), Options{})
	h := decodeHook(t, stdout.String())
	assert.Equal(t, "allow", h.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, h.HookSpecificOutput.AdditionalContext, "naming.md has no `applies_to` frontmatter")
}

func TestCheck_FullScan(t *testing.T) {
	root := setupRepo(t)
	r, fo, stdout, stderr := newTestRunner(t, root, "bad names everywhere")

	code := r.Check(context.Background(), Options{FullScan: true})
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "[Validator Result]")
	assert.Contains(t, stderr.String(), "and re-run.")
	assert.EqualValues(t, 1, fo.calls.Load())
}

func TestCheck_RuleConfigDisablesRule(t *testing.T) {
	root := setupRepo(t)
	writeFile(t, root, ".complete-validator/rule-config.json", `{"version":1,"rules":{"naming.md":{"enabled":false}}}`)
	r, fo, stdout, _ := newTestRunner(t, root, "bad")

	r.Check(context.Background(), Options{})
	assert.Zero(t, fo.calls.Load())
	assert.Empty(t, stdout.String())
}

func TestCheck_FailOpen(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	// Not a repository, so reading the diff fails.
	root := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(root))
	r, _, stdout, _ := newTestRunner(t, root, "bad")

	assert.Equal(t, 0, r.Check(context.Background(), Options{}))
	h := decodeHook(t, stdout.String())
	assert.Equal(t, "allow", h.HookSpecificOutput.PermissionDecision)
	assert.True(t, strings.HasPrefix(h.HookSpecificOutput.AdditionalContext, "[Validator] Unexpected error:"))
}

func TestWorker(t *testing.T) {
	root := setupRepo(t)
	r, _, _, _ := newTestRunner(t, root, "x is a poor name")
	runID := "20260301-120000-abc123"

	require.NoError(t, r.Worker(context.Background(), runID, Options{}))

	st, err := sink.ReadStatus(sink.BaseDir(root), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, st.Status)
	assert.Equal(t, 1, st.TotalUnits)
	assert.Equal(t, 1, st.Summary.Deny)

	results, err := sink.ReadResults(RunDir(root, runID))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "src/app.py", results[0].FilePath)

	q := queue.New(queue.Dir(root), model.Config{}.ApplyDefaults().Queue, nil)
	pending, err := q.List(runID, model.ViolationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.ViolationID("naming.md", "src/app.py"), pending[0].ViolationID)
	assert.Equal(t, model.SeverityCritical, pending[0].Severity)
	assert.Equal(t, 10, pending[0].Priority)

	entries, err := events.ReadEntries(AuditPath(root))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.EventDetected, entries[0].EventType)
}

func TestWorker_NothingToCheck(t *testing.T) {
	root := setupRepo(t)
	runGit(t, root, "checkout", "--", "src/app.py")
	r, fo, _, _ := newTestRunner(t, root, "bad")
	runID := "20260301-120000-abc123"

	require.NoError(t, r.Worker(context.Background(), runID, Options{}))
	st, err := sink.ReadStatus(sink.BaseDir(root), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, st.Status)
	assert.Zero(t, st.TotalUnits)
	assert.Zero(t, fo.calls.Load())
}

func TestWorker_InvalidRunID(t *testing.T) {
	r, _, _, _ := newTestRunner(t, t.TempDir(), "bad")
	assert.Error(t, r.Worker(context.Background(), "../../etc", Options{}))
}

func TestStartStream(t *testing.T) {
	root := t.TempDir()
	r, _, _, _ := newTestRunner(t, root, "")
	var gotArgs []string
	var gotLog string
	r.spawn = func(args []string, logPath string) error {
		gotArgs, gotLog = args, logPath
		return nil
	}

	runID, err := r.StartStream(Options{Staged: true, PluginDir: "/opt/plugin"})
	require.NoError(t, err)
	assert.True(t, model.ValidateRunID(runID))
	assert.Equal(t, []string{"stream", "worker", "--stream-id", runID, "--staged", "--plugin-dir", "/opt/plugin"}, gotArgs)
	assert.Equal(t, filepath.Join(RunDir(root, runID), WorkerLogName), gotLog)

	info, err := os.Stat(RunDir(root, runID))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStartStream_SpawnFailure(t *testing.T) {
	r, _, _, _ := newTestRunner(t, t.TempDir(), "")
	r.spawn = func([]string, string) error { return errors.New("no exec") }
	_, err := r.StartStream(Options{})
	assert.ErrorContains(t, err, "no exec")
}

func TestSignature(t *testing.T) {
	a := Signature([]string{"a.py"}, map[string]string{"a.py": "x"})
	b := Signature([]string{"a.py"}, map[string]string{"a.py": "y"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, "EMPTY", Signature(nil, nil))
	assert.Equal(t,
		Signature([]string{"a.py", "b.py"}, nil),
		Signature([]string{"b.py", "a.py"}, nil),
		"order of files does not matter")
}

func TestWatch_RejectsFullScan(t *testing.T) {
	r, _, _, _ := newTestRunner(t, t.TempDir(), "")
	err := r.Watch(context.Background(), WatchOptions{Options: Options{FullScan: true}})
	assert.ErrorIs(t, err, ErrWatchFullScan)
}

func TestWatch_RunsOnceAndStops(t *testing.T) {
	root := setupRepo(t)
	r, fo, stdout, _ := newTestRunner(t, root, "No violations found.")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := r.Watch(ctx, WatchOptions{Interval: 50 * time.Millisecond, MaxRuns: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, fo.calls.Load())
	assert.Contains(t, stdout.String(), `"permissionDecision":"allow"`)
}

func TestWatch_IdleUntilCancelled(t *testing.T) {
	root := setupRepo(t)
	runGit(t, root, "checkout", "--", "src/app.py")
	r, fo, _, _ := newTestRunner(t, root, "bad")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Watch(ctx, WatchOptions{Interval: 20 * time.Millisecond}))
	assert.Zero(t, fo.calls.Load())
}

func TestWatch_SingleInstance(t *testing.T) {
	root := t.TempDir()
	held := lock.NewFileLock(watchLockPath(root))
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	r, _, _, _ := newTestRunner(t, root, "")
	err := r.Watch(context.Background(), WatchOptions{MaxRuns: 1})
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestLoadConfig(t *testing.T) {
	root := t.TempDir()
	cfg, err := LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, model.Config{}.ApplyDefaults(), cfg)

	writeFile(t, root, ".complete-validator/config.yaml", "scheduler:\n  max_workers: 3\nqueue:\n  lease_grace_sec: -1\n")
	cfg, err = LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, time.Duration(0), cfg.Queue.LeaseGrace())
	assert.Equal(t, 580, cfg.Oracle.TimeoutSec)

	writeFile(t, root, ".complete-validator/config.yaml", "scheduler: [")
	_, err = LoadConfig(root)
	assert.Error(t, err)
}

func TestOpenQueue_ConcurrentWorkersShareAudit(t *testing.T) {
	root := t.TempDir()
	cfg := model.Config{}.ApplyDefaults()
	var wg sync.WaitGroup
	for _, file := range []string{"a.py", "b.py", "c.py"} {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			q, closeAudit := OpenQueue(root, cfg, nil)
			defer closeAudit()
			_, err := q.Upsert(queue.UpsertInput{RunID: "20260301-120000-abc123", RuleID: "r.md", FilePath: file, Status: model.UnitDeny})
			assert.NoError(t, err)
		}(file)
	}
	wg.Wait()

	entries, err := events.ReadEntries(AuditPath(root))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
