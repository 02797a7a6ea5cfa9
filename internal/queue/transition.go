package queue

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/complete_validator/internal/model"
)

const tempSuffix = ".txn"

// errRaceLost means another writer moved or rewrote the source state first.
var errRaceLost = errors.New("state file changed by a concurrent writer")

func encodeState(s *model.ViolationState) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeState(data []byte) (*model.ViolationState, error) {
	var s model.ViolationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *Queue) tempPath(violationID string) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return filepath.Join(q.dir, fmt.Sprintf(".%s.%s%s", violationID, hex.EncodeToString(b), tempSuffix))
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

// tempOwner returns the violation id embedded in a temp file name.
func tempOwner(name string) string {
	id, _, _ := strings.Cut(strings.TrimPrefix(name, "."), ".")
	return id
}

func writeSynced(path string, data []byte, flag int) error {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// commit replaces cur with next in three steps:
//
//  1. rename cur to a private temp name; only one racer can win this,
//  2. overwrite the temp file with next,
//  3. rename the temp file to next's filename.
//
// A failure after step 1 restores the original content and name. It
// returns the path of the new state file.
func (q *Queue) commit(cur *record, next *model.ViolationState) (string, error) {
	data, err := encodeState(next)
	if err != nil {
		return "", err
	}

	tmp, err := q.acquire(cur.path, next.ViolationID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errRaceLost) {
			return "", errRaceLost
		}
		return "", fmt.Errorf("move %s aside: %w", cur.name, err)
	}

	// Heartbeats keep the filename, so a file at the same path may be a
	// newer version than the one we read.
	held, err := os.ReadFile(tmp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errRaceLost
		}
		q.rollback(tmp, cur, false)
		return "", fmt.Errorf("read %s: %w", cur.name, err)
	}
	if heldState, err := decodeState(held); err != nil || !sameVersion(heldState, &cur.state) {
		q.rollback(tmp, cur, false)
		return "", errRaceLost
	}

	if err := writeSynced(tmp, data, os.O_WRONLY|os.O_TRUNC); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errRaceLost
		}
		q.rollback(tmp, cur, true)
		return "", fmt.Errorf("write state: %w", err)
	}

	target := filepath.Join(q.dir, Filename(stateKey(next)))
	if err := publish(tmp, target); err != nil {
		q.rollback(tmp, cur, true)
		return "", fmt.Errorf("publish state: %w", err)
	}
	return target, nil
}

// acquire moves path to a fresh temp name and stamps it with the current
// time. A rename keeps the source's mtime, and orphan recovery judges temp
// files by age.
func (q *Queue) acquire(path, violationID string) (string, error) {
	tmp := q.tempPath(violationID)
	if err := os.Rename(path, tmp); err != nil {
		return "", err
	}
	now := q.now()
	if err := os.Chtimes(tmp, now, now); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Taken over by orphan recovery, which republishes the old state.
			return "", errRaceLost
		}
		_ = os.Rename(tmp, path)
		return "", err
	}
	return tmp, nil
}

// publish renames tmp to target. Orphan recovery may briefly hold the temp
// file under another name before handing a live one back, so a missing
// source is retried.
func publish(tmp, target string) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = os.Rename(tmp, target); err == nil || !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return err
}

func sameVersion(a, b *model.ViolationState) bool {
	if a.ViolationID != b.ViolationID || a.StateVersion != b.StateVersion || a.Status != b.Status {
		return false
	}
	return ptrEqual(a.ClaimUUID, b.ClaimUUID)
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// rollback moves tmp back to cur's name, first restoring its content when
// the temp file was already overwritten.
func (q *Queue) rollback(tmp string, cur *record, restore bool) {
	if restore {
		if err := writeSynced(tmp, cur.raw, os.O_WRONLY|os.O_TRUNC); err != nil {
			q.logger.Errorf("rollback restore id=%s: %v", cur.state.ViolationID, err)
		}
	}
	if err := os.Rename(tmp, cur.path); err != nil {
		q.logger.Errorf("rollback rename id=%s tmp=%s: %v", cur.state.ViolationID, filepath.Base(tmp), err)
	}
}

// create publishes a state that has no predecessor file.
func (q *Queue) create(next *model.ViolationState) (string, error) {
	data, err := encodeState(next)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(q.dir, 0755); err != nil {
		return "", fmt.Errorf("create queue dir: %w", err)
	}
	tmp := q.tempPath(next.ViolationID)
	if err := writeSynced(tmp, data, os.O_WRONLY|os.O_CREATE|os.O_EXCL); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write state: %w", err)
	}
	now := q.now()
	_ = os.Chtimes(tmp, now, now)
	target := filepath.Join(q.dir, Filename(stateKey(next)))
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish state: %w", err)
	}
	return target, nil
}
