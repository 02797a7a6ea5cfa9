package sink

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
)

func TestNewRunID(t *testing.T) {
	id, err := NewRunID()
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	if !model.ValidateRunID(id) {
		t.Errorf("malformed run id %q", id)
	}
}

func TestStartRun_Prunes(t *testing.T) {
	base := t.TempDir()
	ids := []string{
		"20260101-000000-aaaaaa",
		"20260102-000000-bbbbbb",
		"20260103-000000-cccccc",
		"20260104-000000-dddddd",
	}
	for _, id := range ids {
		if _, err := StartRun(base, id, 2); err != nil {
			t.Fatalf("StartRun(%s): %v", id, err)
		}
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if len(got) != 2 || got[0] != ids[2] || got[1] != ids[3] {
		t.Errorf("kept runs = %v, want the two newest", got)
	}
	if _, err := os.Stat(filepath.Join(base, ids[3], "results")); err != nil {
		t.Errorf("results dir missing: %v", err)
	}
}

func TestStartRun_RejectsBadID(t *testing.T) {
	if _, err := StartRun(t.TempDir(), "../escape", 5); err == nil {
		t.Fatal("expected error for malformed run id")
	}
}

func TestPrune_DefaultKeep(t *testing.T) {
	base := t.TempDir()
	for i := 0; i < 7; i++ {
		if err := os.MkdirAll(filepath.Join(base, "2026010"+string(rune('1'+i))+"-000000-aaaaaa"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := Prune(base, 0)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %v, want the two oldest", removed)
	}
	if removed[0] != "20260102-000000-aaaaaa" || removed[1] != "20260101-000000-aaaaaa" {
		t.Errorf("removed = %v", removed)
	}
}

func TestPrune_MissingDir(t *testing.T) {
	removed, err := Prune(filepath.Join(t.TempDir(), "absent"), 5)
	if err != nil || removed != nil {
		t.Fatalf("Prune = %v, %v", removed, err)
	}
}

func TestTracker(t *testing.T) {
	base := t.TempDir()
	runID := "20260301-120000-abc123"
	dir, err := StartRun(base, runID, 5)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr, err := newTracker(dir, 3, logging.Discard(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("newTracker: %v", err)
	}

	st, err := ReadStatus(base, runID)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st.StreamID != runID || st.Status != model.RunRunning || st.Summary.Pending != 3 || st.TotalUnits != 3 {
		t.Errorf("initial status = %+v", st)
	}

	for _, s := range []model.UnitStatus{model.UnitDeny, model.UnitAllow} {
		if err := tr.Record(s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	st, _ = ReadStatus(base, runID)
	if st.CompletedUnits != 2 || st.Summary.Deny != 1 || st.Summary.Allow != 1 || st.Summary.Pending != 1 {
		t.Errorf("status after two units = %+v", st)
	}
	if st.Status != model.RunRunning {
		t.Errorf("status = %s, want running", st.Status)
	}

	if err := tr.Record(model.UnitError); err != nil {
		t.Fatal(err)
	}
	st, _ = ReadStatus(base, runID)
	if st.Status != model.RunCompleted || st.Summary.Error != 1 || st.Summary.Pending != 0 {
		t.Errorf("final status = %+v", st)
	}
	if st.StartedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("started_at = %q", st.StartedAt)
	}
}

func TestTracker_CompleteWithoutUnits(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20260301-120000-abc123")
	tr, err := NewTracker(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Complete(); err != nil {
		t.Fatal(err)
	}
	if got := tr.Status(); got.Status != model.RunCompleted || got.TotalUnits != 0 {
		t.Errorf("status = %+v", got)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20260301-120000-abc123")
	tr, err := NewTracker(dir, 50, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Record(model.UnitAllow)
		}()
	}
	wg.Wait()
	st := tr.Status()
	if st.CompletedUnits != 50 || st.Summary.Allow != 50 || st.Status != model.RunCompleted {
		t.Errorf("status = %+v", st)
	}
}

func TestWriteResult(t *testing.T) {
	dir := t.TempDir()
	r := model.UnitResult{
		RuleName: "readable_code/02_naming.md",
		FilePath: "src/a.py",
		Status:   model.UnitDeny,
		Message:  "bad name",
	}
	path, err := WriteResult(dir, r)
	if err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "readable_code__02_naming__") || !strings.HasSuffix(name, ".json") {
		t.Errorf("result file name = %q", name)
	}
	if len(strings.TrimSuffix(strings.TrimPrefix(name, "readable_code__02_naming__"), ".json")) != 12 {
		t.Errorf("path hash length wrong in %q", name)
	}

	if _, err := WriteResult(dir, model.UnitResult{RuleName: "a.md", FilePath: "z.py", Status: model.UnitAllow}); err != nil {
		t.Fatal(err)
	}
	got, err := ReadResults(dir)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got) != 2 || got[0].RuleName != "a.md" || got[1] != r {
		t.Errorf("results = %+v", got)
	}
}

func TestResultName_DistinctPaths(t *testing.T) {
	if resultName("r.md", "a.py") == resultName("r.md", "b.py") {
		t.Error("different paths share a result file")
	}
}

func TestResultName_FlattenedRuleNamesStayDistinct(t *testing.T) {
	if resultName("a/b.md", "x.py") == resultName("a__b.md", "x.py") {
		t.Fatal("rules a/b.md and a__b.md share a result file")
	}

	runDir := t.TempDir()
	for _, rule := range []string{"a/b.md", "a__b.md"} {
		if _, err := WriteResult(runDir, model.UnitResult{RuleName: rule, FilePath: "x.py", Status: model.UnitAllow}); err != nil {
			t.Fatalf("WriteResult(%s): %v", rule, err)
		}
	}
	got, err := ReadResults(runDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("results = %+v, want one per rule", got)
	}
}

func TestReadStatus_Missing(t *testing.T) {
	if _, err := ReadStatus(t.TempDir(), "20260301-120000-abc123"); err == nil {
		t.Fatal("expected error for missing run")
	}
}
