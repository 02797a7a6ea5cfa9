package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/complete_validator/internal/cache"
	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/oracle"
)

// Mode selects the wall-clock deadline and the cache namespace.
type Mode string

const (
	ModeHook     Mode = "hook"
	ModeFullScan Mode = "full-scan"
	ModeStream   Mode = "stream"
)

const (
	actionRequiredMarker = "[action required]"
	noViolationsMarker   = "no violations found"

	remediationSuffix = "\n\n[Action Required]\nFix the violations above.\n" +
		"If any violation is a false positive, add a description to .complete-validator/suppressions.md."
)

// Options configure a Scheduler.
type Options struct {
	Mode Mode
	// FullScan checks whole file contents instead of diffs. Implied by
	// ModeFullScan; set it for background runs over the whole tree.
	FullScan     bool
	Suppressions string
	// OnResult, when set, receives every unit result as soon as it is known.
	// Calls are serialized.
	OnResult func(model.UnitResult)
	Logger   *logging.Logger
	Now      func() time.Time
}

type Scheduler struct {
	oracle oracle.Oracle
	cache  *cache.Store
	cfg    model.SchedulerConfig
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	resultMu sync.Mutex
}

// New returns a scheduler. store may be nil, which disables caching.
func New(o oracle.Oracle, store *cache.Store, cfg model.SchedulerConfig, opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		oracle: o,
		cache:  store,
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger.With("scheduler"),
		now:    now,
	}
}

func (s *Scheduler) deadline() time.Duration {
	switch s.opts.Mode {
	case ModeFullScan:
		return time.Duration(s.cfg.FullScanDeadlineSec) * time.Second
	case ModeStream:
		return time.Duration(s.cfg.StreamDeadlineSec) * time.Second
	default:
		return time.Duration(s.cfg.HookDeadlineSec) * time.Second
	}
}

func (s *Scheduler) fullScan() bool {
	return s.opts.Mode == ModeFullScan || s.opts.FullScan
}

// cacheMode keeps hook and stream runs in the same namespace so a hook can
// reuse verdicts produced by a background run over the same diff.
func (s *Scheduler) cacheMode() string {
	if s.fullScan() {
		return string(ModeFullScan)
	}
	return string(ModeStream)
}

// Run executes every unit exactly once with at most MaxWorkers in flight.
// It never fails: a unit that fails or panics becomes an error result.
// Results are sorted by rule name, then file path.
func (s *Scheduler) Run(ctx context.Context, units []Unit) []model.UnitResult {
	if len(units) == 0 {
		return nil
	}
	deadline := s.now().Add(s.deadline())
	minFuture := time.Duration(s.cfg.MinFutureTimeoutSec) * time.Second

	var g errgroup.Group
	g.SetLimit(max(1, min(len(units), s.cfg.MaxWorkers)))

	s.logger.Infof("run units=%d workers=%d mode=%s", len(units), min(len(units), s.cfg.MaxWorkers), s.opts.Mode)
	results := make([]model.UnitResult, len(units))
	for i, u := range units {
		g.Go(func() error {
			// The budget shrinks as the deadline nears but never below the
			// floor, so cache hits are still collected late in the run.
			budget := max(minFuture, deadline.Sub(s.now()))
			unitCtx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			results[i] = s.safeCheck(unitCtx, u)
			s.emit(results[i])
			return nil
		})
	}
	_ = g.Wait()

	sortResults(results)
	return results
}

func (s *Scheduler) emit(r model.UnitResult) {
	s.logger.Debugf("unit rule=%s file=%s status=%s cache_hit=%t", r.RuleName, r.FilePath, r.Status, r.CacheHit)
	if s.opts.OnResult == nil {
		return
	}
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	s.opts.OnResult(r)
}

func (s *Scheduler) safeCheck(ctx context.Context, u Unit) (res model.UnitResult) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Errorf("unit panic rule=%s file=%s: %v", u.Rule.Name, u.FilePath, p)
			res = errorResult(u, fmt.Sprintf("Error: panic: %v", p))
		}
	}()
	return s.CheckUnit(ctx, u)
}

type verdict struct {
	status   model.UnitStatus
	message  string
	cacheHit bool
}

// CheckUnit checks one unit, consulting the cache first.
func (s *Scheduler) CheckUnit(ctx context.Context, u Unit) model.UnitResult {
	if err := ctx.Err(); err != nil {
		return errorResult(u, "Error: "+err.Error())
	}

	diffOrContent := u.Diff
	if s.fullScan() {
		diffOrContent = u.Content
	}
	key := cache.ComputeKey(cache.KeyInput{
		Mode:          s.cacheMode(),
		Granularity:   cache.GranularityPerFile,
		RuleName:      u.Rule.Name,
		FilePath:      u.FilePath,
		RuleBody:      u.Rule.Body,
		DiffOrContent: diffOrContent,
		Suppressions:  s.opts.Suppressions,
	})

	if v, ok := s.lookup(key); ok {
		return u.result(v)
	}

	return u.result(s.invoke(ctx, u, key))
}

func (s *Scheduler) lookup(key string) (verdict, bool) {
	if s.cache == nil {
		return verdict{}, false
	}
	cached, ok := s.cache.Get(key)
	if !ok {
		return verdict{}, false
	}
	status := model.UnitAllow
	if strings.Contains(strings.ToLower(cached), actionRequiredMarker) {
		status = model.UnitDeny
	}
	return verdict{status: status, message: cached, cacheHit: true}, true
}

func (s *Scheduler) invoke(ctx context.Context, u Unit, key string) (v verdict) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Errorf("oracle panic rule=%s file=%s: %v", u.Rule.Name, u.FilePath, p)
			v = verdict{status: model.UnitError, message: fmt.Sprintf("%s Error: panic: %v", u.prefix(), p)}
		}
	}()

	prompt := oracle.BuildFilePrompt(oracle.FilePrompt{
		RuleName:     u.Rule.Name,
		RuleBody:     u.Rule.Body,
		FilePath:     u.FilePath,
		Content:      u.Content,
		Diff:         u.Diff,
		Suppressions: s.opts.Suppressions,
		FullScan:     s.fullScan(),
	})

	var reply string
	var err error
	if mo, ok := s.oracle.(oracle.ModelOracle); ok && u.Rule.Model() != "" {
		reply, err = mo.CheckWithModel(ctx, oracle.Request{Prompt: prompt, Model: u.Rule.Model()})
	} else {
		reply, err = s.oracle.Check(ctx, prompt)
	}
	if err != nil {
		if errors.Is(err, oracle.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warnf("timeout rule=%s file=%s", u.Rule.Name, u.FilePath)
			return verdict{status: model.UnitError, message: u.prefix() + " Timed out."}
		}
		s.logger.Warnf("oracle error rule=%s file=%s: %v", u.Rule.Name, u.FilePath, err)
		return verdict{status: model.UnitError, message: u.prefix() + " Error: " + err.Error()}
	}

	message := fmt.Sprintf("[Rule: %s | File: %s]\n%s", u.Rule.Name, u.FilePath, reply)
	status := model.UnitAllow
	if !strings.Contains(strings.ToLower(reply), noViolationsMarker) {
		status = model.UnitDeny
		message += remediationSuffix
	}
	if s.cache != nil {
		s.cache.Put(key, message)
	}
	return verdict{status: status, message: message}
}

func (u Unit) prefix() string {
	return fmt.Sprintf("[%s:%s]", u.Rule.Name, u.FilePath)
}

func (u Unit) result(v verdict) model.UnitResult {
	return model.UnitResult{
		RuleName: u.Rule.Name,
		FilePath: u.FilePath,
		Status:   v.status,
		Message:  v.message,
		CacheHit: v.cacheHit,
	}
}

func errorResult(u Unit, detail string) model.UnitResult {
	return model.UnitResult{
		RuleName: u.Rule.Name,
		FilePath: u.FilePath,
		Status:   model.UnitError,
		Message:  u.prefix() + " " + detail,
	}
}
