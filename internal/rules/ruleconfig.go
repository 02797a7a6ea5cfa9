package rules

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/msageha/complete_validator/internal/fsutil"
)

// RuleConfigPathEnv overrides the location of rule-config.json.
const RuleConfigPathEnv = "RULE_VALIDATOR_RULE_CONFIG_PATH"

// RuleConfig holds per-rule option overrides plus a free-form decision log.
type RuleConfig struct {
	Version     int                       `json:"version"`
	Rules       map[string]map[string]any `json:"rules"`
	DecisionLog []map[string]any          `json:"decision_log"`
}

func defaultRuleConfig() RuleConfig {
	return RuleConfig{
		Version:     1,
		Rules:       map[string]map[string]any{},
		DecisionLog: []map[string]any{},
	}
}

// RuleConfigPath resolves the rule-config location for a project root.
func RuleConfigPath(root string) string {
	if p := os.Getenv(RuleConfigPathEnv); p != "" {
		return p
	}
	return filepath.Join(root, ".complete-validator", "rule-config.json")
}

// LoadRuleConfig never fails: a missing or broken file yields the default
// document.
func LoadRuleConfig(root string) RuleConfig {
	data, err := os.ReadFile(RuleConfigPath(root))
	if err != nil {
		return defaultRuleConfig()
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return defaultRuleConfig()
	}
	return normalizeRuleConfig(raw)
}

// SaveRuleConfig normalizes cfg and writes it atomically. It returns the
// path written.
func SaveRuleConfig(root string, cfg RuleConfig) (string, error) {
	// Round-trip through a generic map so entries of the wrong shape are
	// dropped the same way on save as on load.
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	path := RuleConfigPath(root)
	if err := fsutil.AtomicWriteJSON(path, normalizeRuleConfig(raw)); err != nil {
		return "", err
	}
	return path, nil
}

// NormalizeRuleConfig accepts an arbitrary decoded JSON object.
func NormalizeRuleConfig(raw map[string]any) RuleConfig {
	return normalizeRuleConfig(raw)
}

func normalizeRuleConfig(raw map[string]any) RuleConfig {
	cfg := defaultRuleConfig()
	if v, ok := raw["version"].(float64); ok && v >= 1 {
		cfg.Version = int(v)
	}
	if rules, ok := raw["rules"].(map[string]any); ok {
		for name, entry := range rules {
			if m, ok := entry.(map[string]any); ok {
				cfg.Rules[name] = m
			}
		}
	}
	if log, ok := raw["decision_log"].([]any); ok {
		for _, entry := range log {
			if m, ok := entry.(map[string]any); ok {
				cfg.DecisionLog = append(cfg.DecisionLog, m)
			}
		}
	}
	return cfg
}

// ApplyRuleConfig overlays rule-config options onto the rules' frontmatter
// options. Rules without overrides are returned unchanged.
func ApplyRuleConfig(rules []Rule, cfg RuleConfig) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		overrides, ok := cfg.Rules[r.Name]
		if !ok || len(overrides) == 0 {
			out[i] = r
			continue
		}
		opts := make(map[string]any, len(r.Options)+len(overrides))
		for k, v := range r.Options {
			opts[k] = v
		}
		for k, v := range overrides {
			opts[k] = v
		}
		r.Options = opts
		out[i] = r
	}
	return out
}
