package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/runner"
	"github.com/msageha/complete_validator/internal/sink"
)

func streamCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Run checks in the background and poll their progress",
	}
	cmd.AddCommand(streamStartCmd(g), streamWorkerCmd(g), streamStatusCmd(g))
	return cmd
}

func streamStartCmd(g *globalFlags) *cobra.Command {
	var o runner.Options
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a background run and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return err
			}
			runID, err := runner.New(e.root, e.cwd, e.cfg, e.logger).StartStream(o)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		},
	}
	modeFlags(cmd, &o)
	return cmd
}

func streamWorkerCmd(g *globalFlags) *cobra.Command {
	var o runner.Options
	var runID string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Execute a background run (started by stream start)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), g, func(root string) string {
				return filepath.Join(runner.RunDir(root, runID), runner.WorkerLogName)
			})
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return err
			}
			return runner.New(e.root, e.cwd, e.cfg, e.logger).Worker(cmd.Context(), runID, o)
		},
	}
	modeFlags(cmd, &o)
	cmd.Flags().StringVar(&runID, "stream-id", "", "Run id created by stream start")
	_ = cmd.MarkFlagRequired("stream-id")
	return cmd
}

func streamStatusCmd(g *globalFlags) *cobra.Command {
	var withResults bool
	cmd := &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Print the status document of a background run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return err
			}
			st, err := sink.ReadStatus(sink.BaseDir(e.root), args[0])
			if err != nil {
				return err
			}
			var doc any = st
			if withResults {
				results, err := sink.ReadResults(runner.RunDir(e.root, args[0]))
				if err != nil {
					return err
				}
				doc = map[string]any{"status": st, "results": results}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().BoolVar(&withResults, "results", false, "Include the unit results written so far")
	return cmd
}
