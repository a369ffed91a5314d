package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hpconf/hpconf/pkg/config"
)

func newSetCommand(opts *globalOptions) *cobra.Command {
	var clearField bool

	cmd := &cobra.Command{
		Use:   "set <type> <id> <field> [value...]",
		Short: "Write a field",
		Long: `Validate and write one field of a section.

The value is normalized before it is stored: numbers lose leading zeros,
addresses are canonicalized and lists drop duplicates. Writes to hidden
fields are rejected. Stale references elsewhere in the section are reset to
their default in the same write.`,
		Example: `  # Point a routing rule at a routing node
  hpconf set routing_rule routing_rule_1 outbound routing_node_2 -d router.yaml

  # Multi-value fields take several values
  hpconf set dns_rule dns_rule_1 domain_suffix example.com example.org -d router.yaml

  # Clear a field
  hpconf set node node_1 tls_sni --clear -d router.yaml`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := args[3:]
			if clearField {
				if len(values) > 0 {
					return fmt.Errorf("--clear takes no values")
				}
				values = nil
			} else if len(values) == 0 {
				return fmt.Errorf("no value given, use --clear to empty the field")
			}

			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			stored, err := s.ctrl.Set(cmd.Context(), args[0], args[1], args[2], values)
			if err != nil {
				return err
			}
			if err := s.persist(); err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"type":  args[0],
					"id":    args[1],
					"field": args[2],
					"value": stored,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s %s = %s\n", args[0], args[1], args[2], strings.Join(stored, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearField, "clear", false, "empty the field")

	return cmd
}

func newAddCommand(opts *globalOptions) *cobra.Command {
	var template string

	cmd := &cobra.Command{
		Use:   "add <type> [field=value...]",
		Short: "Add a section",
		Long: `Add a section with a generated identifier.

Identifiers follow the type prefix with the next free number. Numbers still
named by stale references are skipped. Initial values come from a Starlark
template (--template, or the templates entry of the settings file) and from
field=value arguments, which take precedence. Repeat a field to build a
list.`,
		Example: `  # Add a routing node
  hpconf add routing_node label="Hong Kong" node=node_1 -d router.yaml

  # Add a DNS rule from a template
  hpconf add dns_rule --template templates/dns_rule.star -d router.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sectionType := args[0]

			explicit, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			s, err := openSession(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if template == "" {
				template = s.settings.Templates[sectionType]
			}

			prefill := make(map[string][]string)
			if template != "" {
				id, err := s.ctrl.NextID(sectionType)
				if err != nil {
					return err
				}
				in := config.TemplateInput{Type: sectionType, ID: id}
				for _, sec := range s.ctrl.Snapshot().SectionsOfType(sectionType) {
					if l := sec.Label(); l != "" {
						in.Labels = append(in.Labels, l)
					}
				}
				evaluated, err := config.NewTemplateEvaluator(0).EvaluateFile(ctx, template, in)
				if err != nil {
					return err
				}
				for k, v := range evaluated {
					prefill[k] = v
				}
				log.Debug().Str("template", template).Int("fields", len(evaluated)).Msg("Template evaluated")
			}
			for k, v := range explicit {
				prefill[k] = v
			}

			id, err := s.ctrl.Add(ctx, sectionType, prefill)
			if err != nil {
				return err
			}
			if err := s.persist(); err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"type": sectionType, "id": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "Starlark prefill template")

	return cmd
}

// parseAssignments turns field=value arguments into a prefill. Repeated
// fields accumulate in order.
func parseAssignments(args []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected field=value", arg)
		}
		out[key] = append(out[key], value)
	}
	return out, nil
}

func newRemoveCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <type> <id>",
		Short: "Remove a section",
		Long: `Remove a section.

References to the removed section are kept and reported as dangling; each
falls back to its default on the next write to the referring section.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.ctrl.Remove(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if err := s.persist(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			dangling := s.ctrl.Dangling()
			if opts.jsonOutput {
				return printJSON(out, map[string]interface{}{"removed": args[1], "dangling": dangling})
			}
			fmt.Fprintf(out, "removed %s.%s\n", args[0], args[1])
			for _, d := range dangling {
				fmt.Fprintf(out, "warning: %s.%s %s still names %v\n", d.Type, d.ID, d.Key, d.Values)
			}
			return nil
		},
	}

	return cmd
}

func newRenameCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <type> <id> <label>",
		Short: "Change the label of a section",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.ctrl.Rename(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			return s.persist()
		},
	}

	return cmd
}

func newMoveCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <type> <id> <index>",
		Short: "Reorder a section",
		Long: `Move a section to a zero-based position among the sections of its
type. Rules are evaluated in this order.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[2], err)
			}

			s, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.ctrl.Move(cmd.Context(), args[0], args[1], index); err != nil {
				return err
			}
			return s.persist()
		},
	}

	return cmd
}
