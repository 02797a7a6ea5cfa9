package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/vcs"
)

// StateDirName is the per-project directory holding rules, cache, queue,
// logs and background run results.
const StateDirName = ".complete-validator"

func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

func ConfigPath(root string) string {
	return filepath.Join(StateDir(root), "config.yaml")
}

func LogPath(root string) string {
	return filepath.Join(StateDir(root), "logs", "validator.log")
}

func CachePath(root string) string {
	return filepath.Join(StateDir(root), "cache.json")
}

func AuditPath(root string) string {
	return filepath.Join(StateDir(root), "violations", "audit.jsonl")
}

func watchLockPath(root string) string {
	return filepath.Join(StateDir(root), "locks", "watch.lock")
}

// LoadConfig reads config.yaml under root. A missing file yields the
// defaults; a malformed one is an error.
func LoadConfig(root string) (model.Config, error) {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Config{}.ApplyDefaults(), nil
		}
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg.ApplyDefaults(), nil
}

// ResolveRoot returns the repository toplevel containing cwd, or cwd itself
// outside a repository.
func ResolveRoot(ctx context.Context, cwd string) string {
	if top, err := vcs.New(cwd).Toplevel(ctx); err == nil && top != "" {
		return top
	}
	return cwd
}
