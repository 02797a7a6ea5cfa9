package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/msageha/complete_validator/internal/model"
)

// Granularity of a cached verdict.
const (
	GranularityPerRule = "per-rule"
	GranularityPerFile = "per-file"
)

// KeyInput is everything that can change an oracle verdict.
type KeyInput struct {
	// "stream" for diff checks (hook and background runs share it) or
	// "full-scan" for whole-file checks.
	Mode          string
	Granularity   string
	RuleName      string
	FilePath      string
	RuleBody      string
	DiffOrContent string
	Suppressions  string
}

// ComputeKey returns the SHA-256 hex digest of the key material.
func ComputeKey(in KeyInput) string {
	granularity := in.Granularity
	if granularity == "" {
		granularity = GranularityPerRule
	}
	var b strings.Builder
	b.WriteString(model.PromptVersion + ":" + in.Mode + ":" + granularity)
	b.WriteString("\n---RULE_NAME---\n" + in.RuleName)
	b.WriteString("\n---FILE_PATH---\n" + in.FilePath)
	b.WriteString("\n---RULE_BODY---\n" + in.RuleBody)
	b.WriteString("\n---DIFF---\n" + in.DiffOrContent)
	b.WriteString("\n---SUPPRESSIONS---\n" + in.Suppressions)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
