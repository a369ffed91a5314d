package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hpconf/hpconf/pkg/engine"
	"github.com/hpconf/hpconf/pkg/remote"
)

func newRemoteCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query and update router state over SSH",
		Long: `Run router-side operations through the remote settings block.

Every call runs in the background against the configuration version it was
started at; a call that fails yields an empty value.`,
	}

	cmd.AddCommand(newRemoteStatusCommand(opts))
	cmd.AddCommand(newRemoteVersionsCommand(opts))
	cmd.AddCommand(newRemoteListCommand(opts))
	cmd.AddCommand(newRemoteSecretCommand(opts))

	return cmd
}

// refresh dispatches reqs, waits for them and merges the results. The
// session is returned open so callers can read the merged values.
func refresh(ctx context.Context, opts *globalOptions, reqs ...engine.Request) (*session, engine.MergeReport, error) {
	s, err := openSession(ctx, opts, nil)
	if err != nil {
		return nil, engine.MergeReport{}, err
	}
	if s.settings.Remote == nil {
		s.close()
		return nil, engine.MergeReport{}, fmt.Errorf("no remote configured in the settings file")
	}

	for _, req := range reqs {
		taskID, err := s.ctrl.Refresh(ctx, req)
		if err != nil {
			s.close()
			return nil, engine.MergeReport{}, err
		}
		log.Debug().Str("task_id", taskID).Str("kind", string(req.Kind)).Str("name", req.Name).Msg("Refresh dispatched")
	}

	report, err := s.ctrl.Await(ctx)
	if err != nil {
		s.close()
		return nil, report, err
	}
	if report.Fallbacks > 0 {
		log.Warn().Int("failed", report.Fallbacks).Msg("Some remote calls failed, their values are empty")
	}
	return s, report, nil
}

func newRemoteStatusCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service...]",
		Short: "Show whether router services are running",
		Example: `  hpconf remote status -c hpconf.yaml
  hpconf remote status homeproxy sing-box -c hpconf.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			services := args
			if len(services) == 0 {
				services = []string{"homeproxy"}
			}
			reqs := make([]engine.Request, len(services))
			for i, name := range services {
				reqs[i] = engine.Request{Kind: engine.TaskServiceStatus, Name: name}
			}
			return printExternals(cmd, opts, reqs)
		},
	}

	return cmd
}

func newRemoteVersionsCommand(opts *globalOptions) *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "versions [resource...]",
		Short: "Show installed resource versions",
		Long: fmt.Sprintf(`Show the installed versions of the routing resources: %s.`,
			strings.Join([]string{remote.ResourceChinaIP4, remote.ResourceChinaIP6, remote.ResourceChinaList, remote.ResourceGFWList}, ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := args
			if len(kinds) == 0 {
				kinds = []string{remote.ResourceChinaIP4, remote.ResourceChinaIP6, remote.ResourceChinaList, remote.ResourceGFWList}
			}
			reqs := make([]engine.Request, len(kinds))
			for i, kind := range kinds {
				if !remote.ValidResource(kind) {
					return fmt.Errorf("unknown resource %q", kind)
				}
				reqs[i] = engine.Request{Kind: engine.TaskResourceVersion, Name: kind, Repo: repo}
			}
			return printExternals(cmd, opts, reqs)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "upstream repository of the resources")

	return cmd
}

func newRemoteListCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Read or replace the direct and proxy domain lists",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <direct_list|proxy_list>",
		Short: "Print a domain list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !remote.ValidList(args[0]) {
				return fmt.Errorf("unknown domain list %q", args[0])
			}
			req := engine.Request{Kind: engine.TaskReadList, Name: args[0]}
			s, report, err := refresh(cmd.Context(), opts, req)
			if err != nil {
				return err
			}
			defer s.close()
			if report.Fallbacks > 0 {
				return fmt.Errorf("failed to read %s", args[0])
			}

			text, _ := s.ctrl.External(req.Kind, req.Name)
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <direct_list|proxy_list> <file|->",
		Short: "Replace a domain list",
		Long: `Replace a domain list on the router. Lines are trimmed, blank lines
and repeated entries are dropped; comment lines are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !remote.ValidList(args[0]) {
				return fmt.Errorf("unknown domain list %q", args[0])
			}
			var (
				data []byte
				err  error
			)
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("failed to read list: %w", err)
			}

			s, report, err := refresh(cmd.Context(), opts, engine.Request{Kind: engine.TaskWriteList, Name: args[0], Text: string(data)})
			if err != nil {
				return err
			}
			defer s.close()
			if report.Fallbacks > 0 {
				return fmt.Errorf("failed to write %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return nil
		},
	})

	return cmd
}

func newRemoteSecretCommand(opts *globalOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "secret <kind>",
		Short: "Generate a secret on the router",
		Long: fmt.Sprintf(`Generate a secret with the router's tools. Kinds: %s.

With --target the secret is written to a field as a normal validated write.`,
			strings.Join([]string{remote.SecretUUID, remote.SecretRealityKeys, remote.SecretWireGuardKeys, remote.SecretVAPIDKeys}, ", ")),
		Example: `  # Generate a UUID for a VLESS node
  hpconf remote secret uuid --target node.node_1.uuid -c hpconf.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !remote.ValidSecret(args[0]) {
				return fmt.Errorf("unknown secret kind %q", args[0])
			}
			req := engine.Request{Kind: engine.TaskSecret, Name: args[0]}
			if target != "" {
				parts := strings.Split(target, ".")
				if len(parts) != 3 {
					return fmt.Errorf("invalid target %q, expected type.id.field", target)
				}
				req.Target = &engine.FieldRef{Type: parts[0], ID: parts[1], Key: parts[2]}
			}

			s, report, err := refresh(cmd.Context(), opts, req)
			if err != nil {
				return err
			}
			defer s.close()
			if report.Fallbacks > 0 {
				return fmt.Errorf("failed to generate %s", args[0])
			}

			if req.Target != nil {
				if report.Merged == 0 {
					return fmt.Errorf("secret was not written to %s", target)
				}
				if err := s.persist(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s written\n", target)
				return nil
			}
			secret, _ := s.ctrl.External(req.Kind, req.Name)
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "write the secret to type.id.field")

	return cmd
}

func printExternals(cmd *cobra.Command, opts *globalOptions, reqs []engine.Request) error {
	s, _, err := refresh(cmd.Context(), opts, reqs...)
	if err != nil {
		return err
	}
	defer s.close()

	values := make(map[string]string, len(reqs))
	for _, req := range reqs {
		values[req.Name], _ = s.ctrl.External(req.Kind, req.Name)
	}
	if opts.jsonOutput {
		return printJSON(cmd.OutOrStdout(), values)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, req := range reqs {
		v := values[req.Name]
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(w, "%s\t%s\n", req.Name, v)
	}
	return w.Flush()
}
