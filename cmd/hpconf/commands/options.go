package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOptionsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options <type> <id> <field>",
		Short: "List the selectable options of a choice field",
		Long: `List the options a choice field accepts right now.

Reference fields list the enabled sections of the referenced type together
with their sentinel values. The section itself, and any section that would
close a reference cycle, is left out.`,
		Example: `  # Outbounds a routing rule can pick
  hpconf options routing_rule routing_rule_1 outbound -d router.yaml`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			options, err := s.ctrl.Options(args[0], args[1], args[2])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), options)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, o := range options {
				fmt.Fprintf(w, "%s\t%s\n", o.Value, o.Label)
			}
			return w.Flush()
		},
	}

	return cmd
}
