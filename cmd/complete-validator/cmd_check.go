package main

import (
	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/output"
	"github.com/msageha/complete_validator/internal/runner"
)

func checkCmd(g *globalFlags) *cobra.Command {
	var o runner.Options
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check working, staged or all tracked files",
		Long: `Check runs every matching rule against the changed files.

Without --full-scan the result is printed as PreToolUse hook JSON and the
exit code is always 0. With --full-scan a plain text report is printed and
the exit code is 1 when any rule denies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				// Never block the caller on a broken setup.
				return output.WriteUnexpected(cmd.OutOrStdout(), err)
			}
			r := runner.New(e.root, e.cwd, e.cfg, e.logger, runner.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			if code := r.Check(cmd.Context(), o); code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	modeFlags(cmd, &o)
	return cmd
}
