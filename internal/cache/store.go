// Package cache persists oracle verdicts in a single JSON document with a
// per-entry TTL.
//
// The cache is an optimization: no method returns an error. Unreadable or
// corrupt documents degrade to an empty cache, and a failed write only costs
// a future oracle call.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/complete_validator/internal/fsutil"
	"github.com/msageha/complete_validator/internal/logging"
)

// Entry is one cached verdict.
type Entry struct {
	Value     string    `json:"value"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is safe for concurrent use. One mutex covers both the in-memory map
// and the write of the document.
type Store struct {
	mu      sync.Mutex
	path    string
	ttl     time.Duration
	entries map[string]Entry
	now     func() time.Time
	logger  *logging.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the document at path. Expired entries are purged immediately.
func Open(path string, ttl time.Duration, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		path:    path,
		ttl:     ttl,
		entries: make(map[string]Entry),
		now:     time.Now,
		logger:  logger.With("cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnf("cache_unreadable path=%s error=%v", s.path, err)
		}
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warnf("cache_corrupt path=%s error=%v", s.path, err)
		if dst, qerr := fsutil.Quarantine(filepath.Dir(s.path), s.path); qerr != nil {
			s.logger.Warnf("cache_quarantine_failed path=%s error=%v", s.path, qerr)
		} else {
			s.logger.Infof("cache_quarantined path=%s dest=%s", s.path, dst)
		}
		return
	}

	now := s.now()
	dirty := false
	for key, msg := range raw {
		entry, legacy, ok := decodeEntry(msg, now, s.ttl)
		if !ok {
			dirty = true
			continue
		}
		if entry.expired(now) {
			dirty = true
			continue
		}
		if legacy {
			dirty = true
		}
		s.entries[key] = entry
	}
	if dirty {
		s.persistLocked()
	}
}

// decodeEntry accepts both the current object form and the legacy bare
// string form, which is stamped as cached now.
func decodeEntry(msg json.RawMessage, now time.Time, ttl time.Duration) (Entry, bool, bool) {
	var legacy string
	if err := json.Unmarshal(msg, &legacy); err == nil {
		return Entry{Value: legacy, CachedAt: now, ExpiresAt: now.Add(ttl)}, true, true
	}
	var entry Entry
	if err := json.Unmarshal(msg, &entry); err != nil {
		return Entry{}, false, false
	}
	if entry.ExpiresAt.IsZero() {
		return Entry{}, false, false
	}
	return entry, false, true
}

// Get returns the cached value for key. An expired entry is removed, the
// removal is persisted, and the call reports a miss.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		s.persistLocked()
		s.logger.Debugf("cache_expired key=%s", shortKey(key))
		return "", false
	}
	return entry.Value, true
}

// Put stores value under key and persists the document synchronously.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = Entry{
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.persistLocked()
}

// Len returns the number of entries, including ones that expired since load.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) persistLocked() {
	if err := fsutil.AtomicWriteJSON(s.path, s.entries); err != nil {
		s.logger.Warnf("cache_persist_failed path=%s error=%v", s.path, err)
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
