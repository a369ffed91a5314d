package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hpconf/hpconf/pkg/policy"
	"github.com/hpconf/hpconf/pkg/telemetry"
)

func newLintCommand(opts *globalOptions) *cobra.Command {
	var (
		policies []string
		disabled []string
		list     bool
	)

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check the configuration against lint policies",
		Long: `Evaluate OPA/Rego lint policies against the whole configuration.

Built-in policies flag stale references, unused nodes, duplicate endpoints,
plaintext transports and custom routing rules that have no effect. Extra
policies come from the settings file and --policy. Only error-severity
violations fail the command.`,
		Example: `  # Lint with the built-in policies
  hpconf lint -d router.yaml

  # Add a directory of policies and skip one built-in
  hpconf lint -d router.yaml --policy ./policies --disable unused-node`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			paths := append(s.settings.Policies, policies...)
			engine, err := newPolicyEngine(cmd.Context(), s.tel, paths, disabled)
			if err != nil {
				return err
			}
			if list {
				return printPolicies(cmd, opts, engine.ListPolicies())
			}
			return reportLint(cmd, opts, s, engine)
		},
	}

	cmd.Flags().StringSliceVar(&policies, "policy", nil, "extra policy file or directory (repeatable)")
	cmd.Flags().StringSliceVar(&disabled, "disable", nil, "policy to skip (repeatable)")
	cmd.Flags().BoolVar(&list, "list", false, "list the loaded policies and exit")

	return cmd
}

func newPolicyEngine(ctx context.Context, tel *telemetry.Telemetry, paths, disabled []string) (*policy.Engine, error) {
	engine, err := policy.NewEngine(tel.Logger.Zerolog(), tel)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	for _, name := range disabled {
		if err := engine.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// runLint lints with the built-in and configured policies.
func runLint(cmd *cobra.Command, opts *globalOptions, s *session) error {
	engine, err := newPolicyEngine(cmd.Context(), s.tel, s.settings.Policies, nil)
	if err != nil {
		return err
	}
	return reportLint(cmd, opts, s, engine)
}

func reportLint(cmd *cobra.Command, opts *globalOptions, s *session, engine *policy.Engine) error {
	result, err := engine.Lint(cmd.Context(), policy.NewInput(s.ctrl.Snapshot(), s.ctrl.Dangling()))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, v := range result.Violations {
			where := v.SectionType
			if v.Section != "" {
				where += "." + v.Section
			}
			if v.Field != "" {
				where += " " + v.Field
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Severity, v.Policy, where, v.Message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, warning := range result.Warnings {
			fmt.Fprintf(out, "warning: %s\n", warning)
		}
		if len(result.Violations) == 0 {
			fmt.Fprintf(out, "no lint findings (%d policies)\n", len(result.EvaluatedPolicies))
		}
	}

	log.Info().
		Int("policies", len(result.EvaluatedPolicies)).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Lint completed")

	if !result.Passed() {
		return fmt.Errorf("lint failed with %d error(s)", result.Count(policy.SeverityError))
	}
	return nil
}

func printPolicies(cmd *cobra.Command, opts *globalOptions, policies []policy.Policy) error {
	if opts.jsonOutput {
		return printJSON(cmd.OutOrStdout(), policies)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, p := range policies {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		source := p.Source
		if p.Builtin {
			source = "builtin"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, state, source)
	}
	return w.Flush()
}
