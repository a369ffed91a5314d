package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGraphCommand(opts *globalOptions) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print reference graphs in DOT format",
		Long: `Print the reference graph of every chained field, such as the
outbound of a routing node, in Graphviz DOT format. A cycle, if any, is
reported on stderr.`,
		Example: `  # Render the routing node chain
  hpconf graph -d router.yaml --field routing_node.outbound | dot -Tsvg > chain.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			found := false
			for _, g := range s.ctrl.Graphs() {
				if field != "" && field != g.Type+"."+g.Key {
					continue
				}
				found = true
				fmt.Fprint(cmd.OutOrStdout(), g.ToDOT())
				if cycle := g.DetectCycle(); len(cycle) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "cycle in %s.%s: %s\n", g.Type, g.Key, strings.Join(cycle, " -> "))
				}
			}
			if field != "" && !found {
				return fmt.Errorf("no chained field %q", field)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "only print the graph of type.field")

	return cmd
}
