// Package fsutil provides atomic file writes and quarantine of corrupt files.
package fsutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWriteJSON writes data as indented JSON via temp file + rename.
func AtomicWriteJSON(path string, data any) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return AtomicWriteRaw(path, append(content, '\n'), validateJSON)
}

// AtomicWriteYAML writes data as YAML via temp file + rename.
func AtomicWriteYAML(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content, validateYAML)
}

// AtomicWriteRaw writes content to a temp file in the target directory,
// fsyncs it, optionally re-reads it through validate, then renames it over
// path. Readers observe either the old or the new document, never a mix.
func AtomicWriteRaw(path string, content []byte, validate func([]byte) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cv-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if validate != nil {
		written, err := os.ReadFile(tmpName)
		if err != nil {
			return fmt.Errorf("read temp file for validation: %w", err)
		}
		if err := validate(written); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func validateJSON(content []byte) error {
	if !json.Valid(content) {
		return fmt.Errorf("invalid json document")
	}
	return nil
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}
