package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Quarantine moves a corrupt file into <baseDir>/quarantine so the next
// reader starts from scratch while the bytes stay available for inspection.
// It returns the new path.
func Quarantine(baseDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(baseDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405.000000000")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", baseName, timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return quarantinePath, nil
}
