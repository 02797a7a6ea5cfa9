// Package setup initializes the .complete-validator directory of a project.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/complete_validator/internal/fsutil"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/runner"
	"github.com/msageha/complete_validator/templates"
)

// Run creates the state directory under root with a default config.yaml,
// a .gitignore for runtime files and a disabled example rule. It refuses to
// overwrite an existing config unless force is set; rule files are never
// overwritten. It returns the files written.
func Run(root string, force bool) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	base := runner.StateDir(absRoot)
	cfgPath := runner.ConfigPath(absRoot)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return nil, fmt.Errorf("%s already exists", cfgPath)
	}

	for _, d := range []string{"rules", "logs", "locks", "violations/queue", "stream-results"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	var written []string

	cfg, err := generateConfig()
	if err != nil {
		return nil, fmt.Errorf("generate config: %w", err)
	}
	if err := fsutil.AtomicWriteYAML(cfgPath, cfg); err != nil {
		return nil, fmt.Errorf("write config.yaml: %w", err)
	}
	written = append(written, cfgPath)

	ignorePath := filepath.Join(base, ".gitignore")
	if err := copyTemplateFile("gitignore", ignorePath); err != nil {
		return nil, err
	}
	written = append(written, ignorePath)

	rulePath := filepath.Join(base, "rules", "example.md")
	if _, err := os.Stat(rulePath); os.IsNotExist(err) {
		if err := copyTemplateFile("rules/example.md", rulePath); err != nil {
			return nil, err
		}
		written = append(written, rulePath)
	}
	return written, nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// generateConfig parses the template so the written file always carries
// every key, including ones added to the defaults after the template.
func generateConfig() (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config template: %w", err)
	}
	return cfg.ApplyDefaults(), nil
}
