package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/complete_validator/internal/lock"
)

// ErrWatchFullScan is returned when watch mode is asked for a full scan.
var ErrWatchFullScan = errors.New("watch mode does not support --full-scan")

const emptySignature = "EMPTY"

type WatchOptions struct {
	Options
	Interval time.Duration
	Debounce time.Duration
	// MaxRuns stops watching after this many checks; 0 watches until ctx
	// is cancelled.
	MaxRuns int
}

// Signature fingerprints the set of changed files and their diffs. It is
// "EMPTY" when nothing changed.
func Signature(files []string, chunks map[string]string) string {
	if len(files) == 0 {
		return emptySignature
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f))
		h.Write([]byte{0})
		h.Write([]byte(chunks[f]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Watch re-runs the check whenever the signature of the working changes
// settles on a new value for at least Debounce. The tree is polled every
// Interval; filesystem events wake the loop early. Only one watcher may
// run per project.
func (r *Runner) Watch(ctx context.Context, wo WatchOptions) error {
	if wo.FullScan {
		return ErrWatchFullScan
	}
	if wo.Interval <= 0 {
		wo.Interval = r.cfg.Watch.Interval()
	}

	fl := lock.NewFileLock(watchLockPath(r.root))
	if err := fl.TryLock(); err != nil {
		return fmt.Errorf("watch lock: %w", err)
	}
	defer fl.Unlock()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warnf("fsnotify unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(r.root); err != nil {
			r.logger.Warnf("watch %s: %v", r.root, err)
		}
		fsEvents, fsErrors = watcher.Events, watcher.Errors
	}
	watched := map[string]bool{r.root: true}

	ticker := time.NewTicker(wo.Interval)
	defer ticker.Stop()

	r.logger.Infof("watch started interval=%s debounce=%s max_runs=%d", wo.Interval, wo.Debounce, wo.MaxRuns)
	var last, candidate string
	var candidateSince time.Time
	runs := 0
	for {
		files, chunks, err := r.targets(ctx, wo.Options)
		if err != nil {
			r.logger.Warnf("watch poll: %v", err)
		} else if sig := Signature(files, chunks); sig != last {
			if sig != candidate {
				candidate, candidateSince = sig, time.Now()
			}
			if time.Since(candidateSince) >= wo.Debounce {
				last = sig
				if sig != emptySignature {
					runs++
					r.logger.Infof("watch run=%d files=%d", runs, len(files))
					r.Check(ctx, wo.Options)
					if wo.MaxRuns > 0 && runs >= wo.MaxRuns {
						return nil
					}
				}
			}
			if watcher != nil {
				r.watchDirs(watcher, files, watched)
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Infof("watch stopped runs=%d", runs)
			return nil
		case <-ticker.C:
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			r.logger.Debugf("fsnotify event=%s file=%s", ev.Op, ev.Name)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			r.logger.Warnf("fsnotify error=%v", err)
		}
	}
}

// watchDirs adds the directories of changed files, since fsnotify watches
// are not recursive.
func (r *Runner) watchDirs(w *fsnotify.Watcher, files []string, watched map[string]bool) {
	for _, f := range files {
		dir := filepath.Dir(filepath.Join(r.root, f))
		if watched[dir] {
			continue
		}
		watched[dir] = true
		if err := w.Add(dir); err != nil {
			r.logger.Debugf("watch %s: %v", dir, err)
		}
	}
}
