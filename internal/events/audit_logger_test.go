package events

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestLogger(t *testing.T, maxSize int64) (*AuditLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(logPath, maxSize)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, logPath
}

func event(eventType string, details map[string]any) *LogEntry {
	return &LogEntry{EventType: eventType, Details: details}
}

func TestNewAuditLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	logger, err := NewAuditLogger(logPath, 0)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("Log file was not created: %v", err)
	}
	if logger.maxSize != DefaultMaxLogSize {
		t.Errorf("maxSize = %d, want default", logger.maxSize)
	}
}

func TestAuditLogger_WriteEntry(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	entry := &LogEntry{
		EventType:    EventClaimed,
		ViolationID:  "abc",
		RunID:        "20260101-000000-aaaaaa",
		FromStatus:   "pending",
		ToStatus:     "in_progress",
		StateVersion: 2,
		Owner:        "agent-1",
	}
	if err := logger.WriteEntry(entry); err != nil {
		t.Fatalf("Failed to write log entry: %v", err)
	}

	entries, err := ReadEntries(logPath)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.EventType != EventClaimed || got.ViolationID != "abc" || got.ToStatus != "in_progress" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.StateVersion != 2 || got.Owner != "agent-1" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	numGoroutines := 50
	entriesPerGoroutine := 10
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < entriesPerGoroutine; j++ {
				if err := logger.WriteEntry(event(EventHeartbeat, map[string]any{"goroutine": id, "iteration": j})); err != nil {
					t.Errorf("Failed to log entry: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	entries, err := ReadEntries(logPath)
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != numGoroutines*entriesPerGoroutine {
		t.Errorf("Entry count mismatch: got %d, want %d", len(entries), numGoroutines*entriesPerGoroutine)
	}
}

func TestAuditLogger_TwoWritersSameFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	a, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewAuditLogger(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	for i := 0; i < 5; i++ {
		if err := a.WriteEntry(event(EventClaimed, map[string]any{"i": i})); err != nil {
			t.Fatal(err)
		}
		if err := b.WriteEntry(event(EventResolved, map[string]any{"i": i})); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := ReadEntries(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 10 {
		t.Errorf("expected 10 interleaved entries, got %d", len(entries))
	}
}

func TestAuditLogger_Rotation(t *testing.T) {
	logger, logPath := newTestLogger(t, 1024)
	dir := filepath.Dir(logPath)

	rotated := false
	for i := 0; i < 100; i++ {
		if err := logger.WriteEntry(event(fmt.Sprintf("event_%d", i), map[string]any{
			"data": "This is a test entry with some content to increase size",
		})); err != nil {
			t.Fatalf("Failed to log entry: %v", err)
		}
		if files, err := os.ReadDir(filepath.Join(dir, ArchiveDir)); err == nil && len(files) > 0 {
			rotated = true
			break
		}
	}
	if !rotated {
		t.Error("Log rotation did not occur despite exceeding max size")
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Error("Current log file does not exist after rotation")
	}
	if logger.currentSize >= 1024 {
		t.Errorf("size after rotation = %d", logger.currentSize)
	}
}

func TestVerifyLogIntegrity(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	logger.EnableChecksum(true)
	for i := 0; i < 5; i++ {
		if err := logger.WriteEntry(event(EventDetected, map[string]any{"index": i})); err != nil {
			t.Fatalf("Failed to log entry: %v", err)
		}
	}
	logger.EnableChecksum(false)
	for i := 5; i < 10; i++ {
		if err := logger.WriteEntry(event(EventDetected, map[string]any{"index": i})); err != nil {
			t.Fatalf("Failed to log entry: %v", err)
		}
	}

	total, valid, err := VerifyLogIntegrity(logPath)
	if err != nil {
		t.Fatalf("Failed to verify log integrity: %v", err)
	}
	if total != 10 || valid != 10 {
		t.Errorf("total=%d valid=%d, want 10/10", total, valid)
	}

	// Tampering with a checksummed line is detected.
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte(`"index":0`), []byte(`"index":9`), 1)
	if err := os.WriteFile(logPath, tampered, 0644); err != nil {
		t.Fatal(err)
	}
	total, valid, err = VerifyLogIntegrity(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if total != 10 || valid != 9 {
		t.Errorf("after tampering total=%d valid=%d, want 10/9", total, valid)
	}
}

func TestReadEntries_SkipsMalformedAndMissing(t *testing.T) {
	entries, err := ReadEntries(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || entries != nil {
		t.Fatalf("missing file: entries=%v err=%v", entries, err)
	}

	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	content := `{"event_type":"violation_claimed"}` + "\n" + "{broken\n\n" + `{"event_type":"violation_resolved"}` + "\n"
	if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	entries, err = ReadEntries(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].EventType != EventResolved {
		t.Errorf("entries = %+v", entries)
	}
}
