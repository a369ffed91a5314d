package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hpconf/hpconf/pkg/config"
)

// sectionView is the rendered state of one section.
type sectionView struct {
	Type    string              `json:"type"`
	ID      string              `json:"id"`
	Label   string              `json:"label,omitempty"`
	Enabled bool                `json:"enabled"`
	Fields  map[string][]string `json:"fields"`
	Hidden  []string            `json:"hidden,omitempty"`
}

func newShowCommand(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "show [type [id]]",
		Short: "Show effective field values",
		Long: `Show the effective value of every visible field.

Effective values fall back to the declared default and drop references to
removed or disabled sections. Hidden fields are listed with --all.`,
		Example: `  # Show every section
  hpconf show -d router.yaml

  # Show one routing node
  hpconf show routing_node routing_node_1 -d router.yaml`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			types := s.registry.Types()
			if len(args) > 0 {
				if _, ok := s.registry.Type(args[0]); !ok {
					return fmt.Errorf("unknown section type %q", args[0])
				}
				types = args[:1]
			}

			var views []sectionView
			snap := s.ctrl.Snapshot()
			for _, t := range types {
				for _, sec := range snap.SectionsOfType(t) {
					if len(args) > 1 && sec.ID != args[1] {
						continue
					}
					view, err := s.viewSection(t, sec.ID, all)
					if err != nil {
						return err
					}
					view.Label = sec.Label()
					view.Enabled = sec.Enabled()
					views = append(views, view)
				}
			}
			if len(args) > 1 && len(views) == 0 {
				return fmt.Errorf("section %s.%s not found", args[0], args[1])
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), views)
			}
			printSections(cmd, s, views)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "also list hidden fields")

	return cmd
}

func (s *session) viewSection(sectionType, id string, withHidden bool) (sectionView, error) {
	view := sectionView{Type: sectionType, ID: id, Fields: make(map[string][]string)}
	visible, err := s.ctrl.Visible(sectionType, id)
	if err != nil {
		return view, err
	}
	for _, d := range s.registry.Describe(sectionType) {
		if !visible[d.Key] {
			if withHidden {
				view.Hidden = append(view.Hidden, d.Key)
			}
			continue
		}
		values, err := s.ctrl.Effective(sectionType, id, d.Key)
		if err != nil {
			return view, err
		}
		view.Fields[d.Key] = values
	}
	return view, nil
}

func printSections(cmd *cobra.Command, s *session, views []sectionView) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()

	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(w)
		}
		header := v.Type + "." + v.ID
		if v.Label != "" {
			header += fmt.Sprintf(" (%s)", v.Label)
		}
		if !v.Enabled {
			header += " [disabled]"
		}
		fmt.Fprintln(w, header)
		for _, d := range s.registry.Describe(v.Type) {
			values, ok := v.Fields[d.Key]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %s\t%s\n", d.Key, strings.Join(values, ", "))
		}
		if len(v.Hidden) > 0 {
			fmt.Fprintf(w, "  (hidden)\t%s\n", strings.Join(v.Hidden, ", "))
		}
	}
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		docFormat string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the configuration as a document",
		Long: `Export every section as a CUE, YAML or JSON document.

Sections are written in user order; stored values are exported as they are,
including stale references.`,
		Example: `  # Convert a YAML document to CUE
  hpconf export -d router.yaml --format cue -o router.cue

  # Export a sqlite-backed configuration
  hpconf export -c hpconf.yaml --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if docFormat == "" {
				docFormat = config.FormatYAML
				if output != "" {
					if f, err := config.FormatOf(output); err == nil {
						docFormat = f
					}
				}
			}

			data, err := config.FromSnapshot(s.registry, s.ctrl.Snapshot()).Marshal(docFormat)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&docFormat, "format", "", "output format: cue, yaml or json (default from --output, else yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
