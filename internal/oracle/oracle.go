// Package oracle invokes the external checker that judges a prompt and
// renders the prompts it is given.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
)

// ErrTimeout is returned when the checker does not answer within its timeout.
var ErrTimeout = errors.New("oracle timed out")

// nestedSessionEnv is stripped from the child environment so the checker
// does not refuse to start inside another session.
const nestedSessionEnv = "CLAUDECODE"

// Oracle turns a prompt into free-form reply text.
type Oracle interface {
	Check(ctx context.Context, prompt string) (string, error)
}

// Request carries per-call overrides.
type Request struct {
	Prompt string
	Model  string
}

// ModelOracle is implemented by oracles that accept a per-call model.
type ModelOracle interface {
	Oracle
	CheckWithModel(ctx context.Context, req Request) (string, error)
}

// CommandOracle runs an external command, writes the prompt to its stdin
// and returns its stdout.
type CommandOracle struct {
	command string
	args    []string
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewCommandOracle builds an oracle from config. A zero rate disables
// rate limiting.
func NewCommandOracle(cfg model.OracleConfig, logger *logging.Logger) *CommandOracle {
	o := &CommandOracle{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
		model:   cfg.Model,
		timeout: cfg.Timeout(),
		logger:  logger.With("oracle"),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return o
}

func (o *CommandOracle) Check(ctx context.Context, prompt string) (string, error) {
	return o.CheckWithModel(ctx, Request{Prompt: prompt})
}

// CheckWithModel runs the command once. A non-zero exit is not an error:
// it is reported back as "[Validator error] ..." reply text.
func (o *CommandOracle) CheckWithModel(ctx context.Context, req Request) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", ErrTimeout
			}
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	args := append([]string(nil), o.args...)
	modelName := req.Model
	if modelName == "" {
		modelName = o.model
	}
	if modelName != "" {
		args = append(args, "--model", modelName)
	}

	cmd := exec.CommandContext(callCtx, o.command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = ChildEnv(os.Environ())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	o.logger.Debugf("invoke command=%s args=%v prompt_bytes=%d", o.command, args, len(req.Prompt))
	err := cmd.Run()
	if callCtx.Err() == context.DeadlineExceeded {
		o.logger.Warnf("timeout command=%s", o.command)
		return "", ErrTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Sprintf("[Validator error] %s exited with code %d: %s",
				filepath.Base(o.command), exitErr.ExitCode(), strings.TrimSpace(stderr.String())), nil
		}
		return "", fmt.Errorf("run %s: %w", o.command, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ChildEnv returns env without the nested session marker. Child processes
// that may start the checker use it.
func ChildEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, nestedSessionEnv+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
