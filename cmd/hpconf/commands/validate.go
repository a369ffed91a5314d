package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/refs"
)

// validationReport is the JSON form of the validate command output.
type validationReport struct {
	Valid    bool             `json:"valid"`
	Errors   []validationItem `json:"errors,omitempty"`
	Dangling []refs.Dangling  `json:"dangling,omitempty"`
}

type validationItem struct {
	Kind    string `json:"kind"`
	Type    string `json:"type,omitempty"`
	Section string `json:"section,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func newValidateCommand(opts *globalOptions) *cobra.Command {
	var withLint bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the whole configuration",
		Long: `Validate every visible field of every section.

This command checks:
  - Document shape and known section types and fields
  - Field datatypes, required and unique fields
  - References to other sections, including cycles
  - Stale references left by removed or disabled sections`,
		Example: `  # Validate a document
  hpconf validate -d router.yaml

  # Validate and run the lint policies
  hpconf validate -d router.cue --lint`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			report := validationReport{Dangling: s.ctrl.Dangling()}
			for _, err := range s.ctrl.ValidateAll() {
				report.Errors = append(report.Errors, toValidationItem(err))
			}
			report.Valid = len(report.Errors) == 0

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, item := range report.Errors {
					fmt.Fprintf(out, "error: %s\n", item.Message)
				}
				for _, d := range report.Dangling {
					fmt.Fprintf(out, "warning: %s.%s %s names removed or disabled sections %v\n", d.Type, d.ID, d.Key, d.Values)
				}
				if report.Valid {
					fmt.Fprintln(out, "configuration is valid")
				}
			}

			log.Info().
				Int("errors", len(report.Errors)).
				Int("dangling", len(report.Dangling)).
				Msg("Validation completed")

			if !report.Valid {
				return fmt.Errorf("validation failed with %d error(s)", len(report.Errors))
			}
			if withLint {
				return runLint(cmd, opts, s)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withLint, "lint", false, "also run the lint policies")

	return cmd
}

func toValidationItem(err error) validationItem {
	item := validationItem{
		Kind:    string(cfgerrors.KindOf(err)),
		Message: err.Error(),
	}
	var cerr *cfgerrors.Error
	if errors.As(err, &cerr) {
		item.Type = cerr.SectionType
		item.Section = cerr.Section
		item.Field = cerr.Field
	}
	return item
}
