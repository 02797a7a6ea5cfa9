// Command complete-validator checks changed files against markdown rules by
// delegating each (rule, file) pair to a language-model CLI, and manages the
// queue of violations found by background runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/logging"
	"github.com/msageha/complete_validator/internal/model"
	"github.com/msageha/complete_validator/internal/runner"
)

const version = "0.1.0"

// exitError carries a process exit code out of a command without printing
// anything further.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var ee exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

type globalFlags struct {
	logLevel string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "complete-validator",
		Short:         "Validate changes against markdown rules with a language-model checker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		initCmd(),
		checkCmd(g),
		streamCmd(g),
		violationsCmd(g),
		watchCmd(g),
		rulesCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "complete-validator %s\n", version)
			},
		},
	)
	return cmd
}

// env is the resolved project context shared by the commands.
type env struct {
	cwd    string
	root   string
	cfg    model.Config
	logger *logging.Logger
}

// loadEnv resolves the project root and config and opens the log at
// logPath(root). The logger is never nil.
func loadEnv(ctx context.Context, g *globalFlags, logPath func(root string) string) (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	e := &env{cwd: cwd, root: runner.ResolveRoot(ctx, cwd), logger: logging.Discard()}
	cfg, err := runner.LoadConfig(e.root)
	if err != nil {
		return e, err
	}
	e.cfg = cfg

	level := cfg.Logging.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	logger, err := logging.OpenFile(logPath(e.root), logging.ParseLogLevel(level))
	if err != nil {
		// Logging is best effort; the command still runs.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return e, nil
	}
	e.logger = logger
	return e, nil
}

func (e *env) close() {
	_ = e.logger.Close()
}

func modeFlags(cmd *cobra.Command, o *runner.Options) {
	cmd.Flags().BoolVar(&o.Staged, "staged", false, "Check staged changes (for commit hooks)")
	cmd.Flags().BoolVar(&o.FullScan, "full-scan", false, "Check every tracked file")
	cmd.Flags().StringVar(&o.PluginDir, "plugin-dir", "", "Plugin directory whose rules/ holds built-in rules")
	cmd.MarkFlagsMutuallyExclusive("staged", "full-scan")
}
