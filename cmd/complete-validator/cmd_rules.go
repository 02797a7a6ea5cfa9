package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/complete_validator/internal/rules"
	"github.com/msageha/complete_validator/internal/runner"
)

func rulesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rules and toggle them in rule-config.json",
	}
	cmd.AddCommand(rulesListCmd(g), rulesToggleCmd(g, true), rulesToggleCmd(g, false))
	return cmd
}

func rulesListCmd(g *globalFlags) *cobra.Command {
	var pluginDir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the effective rules for the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return err
			}
			loaded, warnings, err := runner.LoadRules(e.root, e.cwd, pluginDir)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENABLED\tSEVERITY\tAPPLIES TO")
			for _, r := range loaded {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.Name, r.Enabled(), r.Severity(), strings.Join(r.Patterns, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&pluginDir, "plugin-dir", "", "Plugin directory whose rules/ holds built-in rules")
	return cmd
}

func rulesToggleCmd(g *globalFlags, enable bool) *cobra.Command {
	use, short := "disable NAME", "Disable a rule for this project"
	if enable {
		use, short = "enable NAME", "Re-enable a rule for this project"
	}
	var reason string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, runner.LogPath)
			if e != nil {
				defer e.close()
			}
			if err != nil {
				return err
			}
			path, err := setRuleEnabled(e.root, args[0], enable, reason, time.Now())
			if err != nil {
				return fmt.Errorf("save rule config: %w", err)
			}
			e.logger.Infof("rule %s enabled=%t reason=%q", args[0], enable, reason)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s enabled=%t\n", path, args[0], enable)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the rule was toggled, kept in the decision log")
	return cmd
}

// setRuleEnabled records the override and a decision log entry in the
// project's rule-config.json.
func setRuleEnabled(root, name string, enable bool, reason string, now time.Time) (string, error) {
	cfg := rules.LoadRuleConfig(root)
	opts := cfg.Rules[name]
	if opts == nil {
		opts = map[string]any{}
	}
	opts["enabled"] = enable
	cfg.Rules[name] = opts

	action := "disable"
	if enable {
		action = "enable"
	}
	entry := map[string]any{
		"rule":   name,
		"action": action,
		"at":     now.UTC().Format(time.RFC3339),
	}
	if reason != "" {
		entry["reason"] = reason
	}
	cfg.DecisionLog = append(cfg.DecisionLog, entry)
	return rules.SaveRuleConfig(root, cfg)
}
