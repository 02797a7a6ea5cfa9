package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const runIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	runIDRegex       = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}-[a-z0-9]{6}$`)
	violationIDRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// GenerateRunID returns a run id of the form YYYYMMDD-HHMMSS-<6 lowercase alnum>.
// Lexical order of run ids follows creation time.
func GenerateRunID(now time.Time) (string, error) {
	randomBytes := make([]byte, 6)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	suffix := make([]byte, len(randomBytes))
	for i, b := range randomBytes {
		suffix[i] = runIDAlphabet[int(b)%len(runIDAlphabet)]
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102-150405"), suffix), nil
}

func ValidateRunID(id string) bool {
	return runIDRegex.MatchString(id)
}

// ViolationID is stable across runs for the same (rule, canonical path).
func ViolationID(ruleID, canonicalPath string) string {
	sum := sha256.Sum256([]byte(ruleID + "\x00" + canonicalPath))
	return hex.EncodeToString(sum[:])
}

func ValidateViolationID(id string) bool {
	return violationIDRegex.MatchString(id)
}

// CanonicalPath normalizes path relative to the repository root using
// forward slashes. Paths outside the root are returned cleaned but unchanged.
func CanonicalPath(root, path string) string {
	p := filepath.Clean(path)
	if root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	p = filepath.ToSlash(p)
	return strings.TrimPrefix(p, "./")
}
