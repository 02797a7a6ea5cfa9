package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestFileLock_TryLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "locks", "watch.lock")

	fl := NewFileLock(lockPath)
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	defer fl.Unlock()

	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if pid, _ := strconv.Atoi(strings.TrimSpace(string(content))); pid != os.Getpid() {
		t.Errorf("lock file pid: got %q, want %d", content, os.Getpid())
	}
}

func TestFileLock_DoubleLockRejected(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "watch.lock")

	fl1 := NewFileLock(lockPath)
	if err := fl1.TryLock(); err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}
	defer fl1.Unlock()

	fl2 := NewFileLock(lockPath)
	err := fl2.TryLock()
	if err == nil {
		fl2.Unlock()
		t.Fatal("expected second TryLock to fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestFileLock_UnlockAllowsRelock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "watch.lock")

	fl1 := NewFileLock(lockPath)
	if err := fl1.TryLock(); err != nil {
		t.Fatalf("first TryLock failed: %v", err)
	}
	if err := fl1.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	fl2 := NewFileLock(lockPath)
	if err := fl2.TryLock(); err != nil {
		t.Fatalf("re-lock after unlock failed: %v", err)
	}
	fl2.Unlock()
}

func TestFileLock_DoubleUnlockSafe(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "watch.lock"))
	fl.TryLock()
	fl.Unlock()
	if err := fl.Unlock(); err != nil {
		t.Fatalf("double unlock should be safe, got: %v", err)
	}
}
