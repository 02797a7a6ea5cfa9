package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/runner"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var (
		o        runner.Options
		interval float64
		debounce float64
		maxRuns  int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the check whenever the working changes settle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return err
			}
			wo := runner.WatchOptions{
				Options:  o,
				Interval: e.cfg.Watch.Interval(),
				Debounce: e.cfg.Watch.Debounce(),
				MaxRuns:  maxRuns,
			}
			if cmd.Flags().Changed("interval") {
				wo.Interval = seconds(interval)
			}
			if cmd.Flags().Changed("debounce") {
				wo.Debounce = seconds(debounce)
			}
			r := runner.New(e.root, e.cwd, e.cfg, e.logger, runner.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
			return r.Watch(cmd.Context(), wo)
		},
	}
	modeFlags(cmd, &o)
	cmd.Flags().Float64Var(&interval, "interval", 2, "Polling interval in seconds")
	cmd.Flags().Float64Var(&debounce, "debounce", 0, "Seconds the changes must stay unchanged before a run")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "Stop after this many runs (0 = unlimited)")
	return cmd
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
