package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuleConfig_FallbackWhenMissing(t *testing.T) {
	t.Setenv(RuleConfigPathEnv, filepath.Join(t.TempDir(), "missing-rule-config.json"))

	cfg := LoadRuleConfig(t.TempDir())
	assert.Equal(t, 1, cfg.Version)
	assert.Empty(t, cfg.Rules)
	assert.Empty(t, cfg.DecisionLog)
}

func TestLoadRuleConfig_FallbackWhenBroken(t *testing.T) {
	broken := filepath.Join(t.TempDir(), "broken-rule-config.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not-json"), 0644))
	t.Setenv(RuleConfigPathEnv, broken)

	cfg := LoadRuleConfig(t.TempDir())
	assert.Equal(t, defaultRuleConfig(), cfg)
}

func TestSaveRuleConfig_NormalizesAndRoundtrips(t *testing.T) {
	target := filepath.Join(t.TempDir(), "rule-config.json")
	t.Setenv(RuleConfigPathEnv, target)

	source := NormalizeRuleConfig(map[string]any{
		"version":      float64(3),
		"rules":        map[string]any{"r1": map[string]any{"context_level": "diff"}, "bad": "invalid"},
		"decision_log": []any{map[string]any{"decision_id": "abc"}, "invalid"},
	})

	saved, err := SaveRuleConfig(t.TempDir(), source)
	require.NoError(t, err)
	assert.Equal(t, target, saved)

	loaded := LoadRuleConfig(t.TempDir())
	assert.Equal(t, 3, loaded.Version)
	assert.Equal(t, map[string]map[string]any{"r1": {"context_level": "diff"}}, loaded.Rules)
	assert.Equal(t, []map[string]any{{"decision_id": "abc"}}, loaded.DecisionLog)
}

func TestSaveRuleConfig_DefaultPath(t *testing.T) {
	t.Setenv(RuleConfigPathEnv, "")
	root := t.TempDir()

	cfg := defaultRuleConfig()
	cfg.Version = 2
	cfg.Rules["r2"] = map[string]any{"model": "haiku"}

	saved, err := SaveRuleConfig(root, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".complete-validator", "rule-config.json"), saved)

	loaded := LoadRuleConfig(root)
	assert.Equal(t, 2, loaded.Version)
	assert.Equal(t, "haiku", loaded.Rules["r2"]["model"])
}

func TestApplyRuleConfig(t *testing.T) {
	base := []Rule{
		{Name: "a.md", Options: map[string]any{"severity": "low"}},
		{Name: "b.md", Options: map[string]any{}},
	}
	cfg := defaultRuleConfig()
	cfg.Rules["a.md"] = map[string]any{"enabled": false}

	out := ApplyRuleConfig(base, cfg)
	assert.False(t, out[0].Enabled())
	assert.Equal(t, "low", out[0].Options["severity"])
	assert.True(t, out[1].Enabled())
	assert.NotContains(t, base[0].Options, "enabled", "input rules must not be mutated")
}
