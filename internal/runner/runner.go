// Package runner wires rules, version control, the scheduler, the result
// sink and the violation queue into the check, background run and watch
// flows of the CLI.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/complete_validator/internal/cache"
	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/oracle"
	"github.com/msageha/complete_validator/internal/output"
	"github.com/msageha/complete_validator/internal/rules"
	"github.com/msageha/complete_validator/internal/scheduler"
	"github.com/msageha/complete_validator/internal/vcs"
)

// Options select what a check looks at.
type Options struct {
	Staged    bool
	FullScan  bool
	PluginDir string
}

// Flags renders o as command line flags, for re-invoking the binary.
func (o Options) Flags() []string {
	var args []string
	if o.Staged {
		args = append(args, "--staged")
	}
	if o.FullScan {
		args = append(args, "--full-scan")
	}
	if o.PluginDir != "" {
		args = append(args, "--plugin-dir", o.PluginDir)
	}
	return args
}

// Runner executes checks for one project root.
type Runner struct {
	root   string
	cwd    string
	cfg    model.Config
	git    *vcs.Git
	oracle oracle.Oracle
	logger *logging.Logger
	stdout io.Writer
	stderr io.Writer
	spawn  func(args []string, logPath string) error
}

type Option func(*Runner)

// WithOracle replaces the configured command oracle.
func WithOracle(o oracle.Oracle) Option {
	return func(r *Runner) { r.oracle = o }
}

func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// New returns a runner for root. cwd is where project rule directories are
// searched from.
func New(root, cwd string, cfg model.Config, logger *logging.Logger, opts ...Option) *Runner {
	r := &Runner{
		root:   root,
		cwd:    cwd,
		cfg:    cfg,
		git:    vcs.New(root),
		logger: logger.With("runner"),
		stdout: os.Stdout,
		stderr: os.Stderr,
		spawn:  spawnDetached,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.oracle == nil {
		r.oracle = oracle.NewCommandOracle(cfg.Oracle, logger)
	}
	return r
}

// workload is everything a check needs, gathered up front.
type workload struct {
	targets      []string
	chunks       map[string]string
	rules        []rules.Rule
	warnings     []string
	contents     map[string]string
	suppressions string
}

// empty reports why nothing will be checked, or "" when there is work.
func (w *workload) empty() string {
	switch {
	case len(w.targets) == 0:
		return "no target files"
	case len(w.rules) == 0:
		return "no rules"
	case len(w.contents) == 0:
		return "no matching file contents"
	}
	return ""
}

// collect resolves target files, rules and file contents. Stages that come
// up empty leave the later fields unset.
func (r *Runner) collect(ctx context.Context, o Options) (*workload, error) {
	w := &workload{}
	var err error
	w.targets, w.chunks, err = r.targets(ctx, o)
	if err != nil || len(w.targets) == 0 {
		return w, err
	}

	w.rules, w.warnings, err = r.loadRules(o)
	if err != nil || len(w.rules) == 0 {
		return w, err
	}

	matched := rules.FilesMatchingAny(w.rules, w.targets)
	if len(matched) == 0 {
		return w, nil
	}
	w.contents = r.loadContents(ctx, matched, o)
	w.suppressions = rules.LoadSuppressions(r.root)
	return w, nil
}

func (r *Runner) targets(ctx context.Context, o Options) ([]string, map[string]string, error) {
	if o.FullScan {
		files, err := r.git.TrackedFiles(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list tracked files: %w", err)
		}
		return files, map[string]string{}, nil
	}
	diff, err := r.git.Diff(ctx, o.Staged)
	if err != nil {
		return nil, nil, fmt.Errorf("read diff: %w", err)
	}
	if strings.TrimSpace(diff) == "" {
		return nil, nil, nil
	}
	files, err := r.git.ChangedFiles(ctx, o.Staged)
	if err != nil {
		return nil, nil, fmt.Errorf("list changed files: %w", err)
	}
	return files, vcs.SplitDiff(diff), nil
}

func (r *Runner) loadRules(o Options) ([]rules.Rule, []string, error) {
	return LoadRules(r.root, r.cwd, o.PluginDir)
}

// LoadRules merges the plugin's built-in rules with every project rules
// directory from cwd up to the repository root, then applies rule-config
// overrides.
func LoadRules(root, cwd, pluginDir string) ([]rules.Rule, []string, error) {
	builtin := ""
	if pluginDir != "" {
		builtin = filepath.Join(pluginDir, "rules")
	}
	loaded, warnings, err := rules.Merge(builtin, rules.FindProjectRuleDirs(cwd))
	if err != nil {
		return nil, warnings, fmt.Errorf("load rules: %w", err)
	}
	return rules.ApplyRuleConfig(loaded, rules.LoadRuleConfig(root)), warnings, nil
}

// loadContents skips files that cannot be read or are empty.
func (r *Runner) loadContents(ctx context.Context, files []string, o Options) map[string]string {
	staged := o.Staged && !o.FullScan
	contents := make(map[string]string, len(files))
	for _, f := range files {
		content, err := r.git.FileContent(ctx, f, staged)
		if err != nil {
			r.logger.Debugf("skip unreadable file=%s: %v", f, err)
			continue
		}
		if content != "" {
			contents[f] = content
		}
	}
	return contents
}

func (r *Runner) scheduler(mode scheduler.Mode, o Options, suppressions string, onResult func(model.UnitResult)) *scheduler.Scheduler {
	store := cache.Open(CachePath(r.root), r.cfg.Cache.TTL(), r.logger)
	return scheduler.New(r.oracle, store, r.cfg.Scheduler, scheduler.Options{
		Mode:         mode,
		FullScan:     o.FullScan,
		Suppressions: suppressions,
		OnResult:     onResult,
		Logger:       r.logger,
	})
}

// Check runs a hook or full-scan check and prints the result. It returns
// the process exit code. Unexpected failures are reported as an allow
// decision so the validator never blocks on its own bugs.
func (r *Runner) Check(ctx context.Context, o Options) int {
	code, err := r.check(ctx, o)
	if err != nil {
		r.logger.Errorf("check failed: %v", err)
		if werr := output.WriteUnexpected(r.stdout, err); werr != nil {
			r.logger.Errorf("write output: %v", werr)
		}
		return 0
	}
	return code
}

func (r *Runner) check(ctx context.Context, o Options) (int, error) {
	start := time.Now()
	w, err := r.collect(ctx, o)
	if err != nil {
		return 0, err
	}
	switch {
	case len(w.targets) == 0:
		if o.FullScan {
			fmt.Fprintln(r.stderr, "No tracked files found.")
		}
		return 0, nil
	case len(w.rules) == 0:
		return 0, output.WriteWarnings(r.stdout, r.stderr, w.warnings, o.FullScan)
	case w.contents == nil:
		if err := output.WriteWarnings(r.stdout, r.stderr, w.warnings, o.FullScan); err != nil {
			return 0, err
		}
		if o.FullScan {
			fmt.Fprintln(r.stdout, "No files match any rule patterns.")
		}
		return 0, nil
	case len(w.contents) == 0:
		return 0, nil
	}

	mode := scheduler.ModeHook
	if o.FullScan {
		mode = scheduler.ModeFullScan
	}
	units := scheduler.BuildUnits(w.rules, w.targets, w.contents, w.chunks)
	results := r.scheduler(mode, o, w.suppressions, nil).Run(ctx, units)
	ruleResults := scheduler.Aggregate(w.rules, results)
	r.logger.Infof("check mode=%s units=%d rules=%d elapsed=%s", mode, len(units), len(ruleResults), time.Since(start).Round(time.Millisecond))

	if o.FullScan {
		return output.WriteFullScan(r.stdout, r.stderr, ruleResults, w.warnings), nil
	}
	return 0, output.WriteHookResult(r.stdout, ruleResults, w.warnings)
}
