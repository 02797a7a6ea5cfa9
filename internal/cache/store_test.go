package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/complete_validator/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func readDoc(t *testing.T, path string) map[string]Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]Entry
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestStore_PutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	clock := newClock()
	s := Open(path, time.Hour, logging.Discard(), WithClock(clock.Now))

	_, ok := s.Get("k1")
	assert.False(t, ok)

	s.Put("k1", "No violations found.")
	v, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "No violations found.", v)

	doc := readDoc(t, path)
	require.Contains(t, doc, "k1")
	assert.True(t, clock.Now().Equal(doc["k1"].CachedAt))
	assert.True(t, clock.Now().Add(time.Hour).Equal(doc["k1"].ExpiresAt))
}

func TestStore_ExpiredEntryIsMissAndRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	clock := newClock()
	s := Open(path, time.Minute, logging.Discard(), WithClock(clock.Now))

	s.Put("k1", "verdict")
	clock.Advance(time.Minute) // expires_at == now counts as expired

	_, ok := s.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.NotContains(t, readDoc(t, path), "k1", "removal must be persisted")

	_, ok = s.Get("k1")
	assert.False(t, ok, "a second get stays a miss")
}

func TestStore_ReloadKeepsUnexpiredDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	clock := newClock()
	s := Open(path, time.Hour, logging.Discard(), WithClock(clock.Now))
	s.Put("old", "a")
	clock.Advance(30 * time.Minute)
	s.Put("new", "b")

	clock.Advance(45 * time.Minute)
	reopened := Open(path, time.Hour, logging.Discard(), WithClock(clock.Now))
	assert.Equal(t, 1, reopened.Len())
	v, ok := reopened.Get("new")
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.NotContains(t, readDoc(t, path), "old", "expired entries are purged on load")
}

func TestStore_LegacyStringEntriesNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"legacy":"[Rule: a.md]\nNo violations found."}`), 0644))

	clock := newClock()
	s := Open(path, time.Hour, logging.Discard(), WithClock(clock.Now))
	v, ok := s.Get("legacy")
	require.True(t, ok)
	assert.Contains(t, v, "No violations found.")

	doc := readDoc(t, path)
	assert.True(t, clock.Now().Add(time.Hour).Equal(doc["legacy"].ExpiresAt))
}

func TestStore_CorruptDocumentDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not-json"), 0644))

	s := Open(path, time.Hour, logging.Discard())
	assert.Equal(t, 0, s.Len())

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	s.Put("k", "v")
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nope", "cache.json"), time.Hour, logging.Discard())
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentPuts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Open(path, time.Hour, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put(string(rune('a'+i)), "v")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, s.Len())
	assert.Len(t, readDoc(t, path), 20)
}

func TestComputeKey(t *testing.T) {
	base := KeyInput{
		Mode:          "stream",
		Granularity:   GranularityPerFile,
		RuleName:      "naming.md",
		FilePath:      "a.py",
		RuleBody:      "## Names",
		DiffOrContent: "+x = 1",
		Suppressions:  "",
	}
	k := ComputeKey(base)
	assert.Len(t, k, 64)
	assert.Equal(t, k, ComputeKey(base))

	changed := base
	changed.Suppressions = "ignore x"
	assert.NotEqual(t, k, ComputeKey(changed))

	changed = base
	changed.Mode = "full-scan"
	assert.NotEqual(t, k, ComputeKey(changed))

	perRule := base
	perRule.Granularity = ""
	explicit := base
	explicit.Granularity = GranularityPerRule
	assert.Equal(t, ComputeKey(perRule), ComputeKey(explicit))
}
