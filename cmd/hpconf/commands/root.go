package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags of the root command.
type globalOptions struct {
	settingsPath string
	documentPath string
	jsonOutput   bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "hpconf",
		Short: "hpconf - proxy router configuration engine",
		Long: `hpconf edits and validates the configuration of a homeproxy-style proxy
router: nodes, routing nodes and rules, DNS servers and rules, rulesets and the
global settings sections.

Features:
  - Field-level validation with dependency-aware visibility
  - Reference checking between sections, including cycle detection
  - Deterministic section IDs and safe removal of referenced sections
  - Whole-configuration lint with OPA/Rego policies
  - Router state over SSH: service status, domain lists, resource versions`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.settingsPath, "config", "c", "", "settings file path (hpconf.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.documentPath, "document", "d", "", "configuration document (.cue, .yaml or .json)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newShowCommand(opts))
	rootCmd.AddCommand(newExportCommand(opts))
	rootCmd.AddCommand(newOptionsCommand(opts))
	rootCmd.AddCommand(newSetCommand(opts))
	rootCmd.AddCommand(newAddCommand(opts))
	rootCmd.AddCommand(newRemoveCommand(opts))
	rootCmd.AddCommand(newRenameCommand(opts))
	rootCmd.AddCommand(newMoveCommand(opts))
	rootCmd.AddCommand(newLintCommand(opts))
	rootCmd.AddCommand(newGraphCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newRemoteCommand(opts))

	return rootCmd
}
