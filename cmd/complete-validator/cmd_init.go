package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/runner"
	"github.com/msageha/complete_validator/internal/setup"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .complete-validator/ with a default config and an example rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			written, err := setup.Run(runner.ResolveRoot(cmd.Context(), cwd), force)
			if err != nil {
				return err
			}
			for _, p := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rewrite config.yaml if it already exists")
	return cmd
}
