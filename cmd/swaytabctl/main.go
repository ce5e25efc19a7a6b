package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/control/client"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/ui/tui"
)

type globals struct {
	socket  string
	timeout time.Duration
	json    bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "swaytabctl",
		Short:         "Inspect and control a running swaytab daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.socket, "socket", "", "path to the swaytab control socket")
	pf.DurationVar(&g.timeout, "timeout", 3*time.Second, "control request timeout")
	pf.BoolVar(&g.json, "json", false, "print raw JSON")

	root.AddCommand(
		newStatusCmd(g),
		newRulesCmd(g),
		newInspectCmd(g),
		newTreeCmd(g),
		newMetricsCmd(g),
		newReloadCmd(g),
		newWatchCmd(g),
		newCheckCmd(),
	)
	return root
}

// request runs fn with a client and a context bounded by --timeout.
func (g *globals) request(cmd *cobra.Command, fn func(ctx context.Context, cli *client.Client) error) error {
	cli, err := client.New(g.socket)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	ctx := cmd.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return fn(ctx, cli)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine, queue and dispatcher state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.request(cmd, func(ctx context.Context, cli *client.Client) error {
				st, err := cli.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, st)
				}
				mode := "live"
				if st.DryRun {
					mode = "dry-run"
				}
				fmt.Fprintf(out, "Mode: %s\n", mode)
				if !st.Started.IsZero() {
					fmt.Fprintf(out, "Running since: %s\n", st.Started.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "Events: %d, decisions: %d\n", st.Events, st.Decisions)
				fmt.Fprintf(out, "Queue: %d/%d\n", st.QueueLen, st.QueueCap)
				fmt.Fprintf(out, "Dispatcher: %s, %d submitted\n", st.Dispatcher.State, st.Dispatcher.Submitted)
				if st.Dispatcher.Last != "" {
					fmt.Fprintf(out, "Last command: %s\n", st.Dispatcher.Last)
				}
				return nil
			})
		},
	}
}

func newRulesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.request(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.Rules(ctx)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), res)
				}
				return writeRules(cmd.OutOrStdout(), res.Rules)
			})
		},
	}
}

func writeRules(w io.Writer, statuses []rules.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tTRIGGER\tSTATE")
	for _, st := range statuses {
		state := "enabled"
		if !st.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Name, st.Trigger, state)
	}
	return tw.Flush()
}

func newInspectCmd(g *globals) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show recent decisions and dispatch outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.request(cmd, func(ctx context.Context, cli *client.Client) error {
				snap, err := cli.Inspect(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, snap)
				}
				if len(snap.History) == 0 {
					fmt.Fprintln(out, "No decisions yet")
					return nil
				}
				for _, rec := range snap.History {
					line := fmt.Sprintf("%s %-9s", rec.Timestamp.Format("15:04:05.000"), rec.Status)
					if rec.Change != "" {
						line += fmt.Sprintf(" %s %d", rec.Change, rec.Window)
					}
					if rec.Rule != "" {
						line += " [" + rec.Rule + "]"
					}
					if rec.Command != "" {
						line += " " + string(rec.Command)
					}
					if rec.Error != "" {
						line += " error: " + rec.Error
					}
					fmt.Fprintln(out, line)
					if !explain {
						continue
					}
					for _, check := range rec.Trace {
						mark := "-"
						if check.Matched {
							mark = "+"
						}
						name := check.Rule
						if name == "" {
							name = "(lookup)"
						}
						fmt.Fprintf(out, "    %s %s: %s\n", mark, name, check.Reason)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "include why each rule did or did not match")
	return cmd
}

func newTreeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the current layout tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.request(cmd, func(ctx context.Context, cli *client.Client) error {
				node, err := cli.Tree(ctx)
				if err != nil {
					return err
				}
				if g.json {
					return printJSON(cmd.OutOrStdout(), node)
				}
				writeTree(cmd.OutOrStdout(), node, 0)
				return nil
			})
		},
	}
}

func writeTree(w io.Writer, n *tree.FilteredNode, depth int) {
	if n == nil {
		return
	}
	fmt.Fprintf(w, "%*s%s #%d %s", depth*2, "", n.Type, n.ID, n.Layout)
	if n.Name != "" {
		fmt.Fprintf(w, " %q", n.Name)
	}
	fmt.Fprintln(w)
	for _, child := range n.Nodes {
		writeTree(w, child, depth+1)
	}
}

func newMetricsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show per-rule counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.request(cmd, func(ctx context.Context, cli *client.Client) error {
				snap, err := cli.Metrics(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.json {
					return printJSON(out, snap)
				}
				if !snap.Enabled {
					fmt.Fprintln(out, "Telemetry disabled (set telemetry.enabled: true)")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "RULE\tMATCHED\tAPPLIED\tERRORS\tVIOLATIONS")
				for _, r := range snap.Rules {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", r.Rule, r.Matched, r.Applied, r.DispatchErrors, r.ContractViolations)
				}
				t := snap.Totals
				fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%d\n", t.Matched, t.Applied, t.DispatchErrors, t.ContractViolations)
				return tw.Flush()
			})
		},
	}
}

func newReloadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the daemon to reload its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.request(cmd, func(ctx context.Context, cli *client.Client) error {
				if err := cli.Reload(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reload requested")
				return nil
			})
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	var refresh time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of rules and decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := client.New(g.socket)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			renderer := tui.New(cli, cmd.OutOrStdout())
			renderer.Refresh = refresh
			if err := renderer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 500*time.Millisecond, "refresh interval")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to configuration file")
	return cmd
}

func runCheck(path string, stdout, stderr io.Writer) error {
	lintErrs, err := config.LintFile(path, rules.Names()...)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		fmt.Fprintln(stdout, "Configuration OK")
		return nil
	}
	fmt.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return errors.New("configuration validation failed")
}
