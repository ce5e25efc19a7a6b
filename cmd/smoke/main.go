package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/state"
	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/util"
)

// smoke connects to the running window manager, fetches one tree and prints
// what every enabled rule would do for each tiled window. Nothing is sent.
func main() {
	var (
		cfgPath    string
		socketPath string
		logLevel   string
		explain    bool
	)
	cmd := &cobra.Command{
		Use:           "smoke",
		Short:         "Preview rule decisions against the live layout tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := util.NewLogger(util.ParseLogLevel(logLevel))

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			set, err := rules.Build(cfg.Rules)
			if err != nil {
				return fmt.Errorf("compile rules: %w", err)
			}
			path, err := ipc.SocketPath(socketPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			conn, err := ipc.Dial(ctx, path)
			if err != nil {
				return err
			}
			defer conn.Close()
			snap, err := state.NewSnapshot(ctx, conn)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded config from %s\n", cfgPath)
			fmt.Fprintln(out, "\n=== Configuration ===")
			if err := marshalYAML(out, cfg); err != nil {
				logger.Warnf("failed to print config: %v", err)
			}
			fmt.Fprintln(out, "\n=== Snapshot ===")
			if err := marshalJSON(out, snap.Counts()); err != nil {
				logger.Warnf("failed to print snapshot counts: %v", err)
			}
			return preview(out, set, snap, explain)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfgPath, "config", config.DefaultPath(), "path to YAML config")
	flags.StringVar(&socketPath, "socket", "", "window manager IPC socket (default $SWAYSOCK, then $I3SOCK)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	flags.BoolVar(&explain, "explain", true, "include rule checks with each decision")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// preview replays a synthetic new and move event for every tiled window in
// snap and prints the resulting decisions.
func preview(w io.Writer, set *rules.Set, snap *state.Snapshot, explain bool) error {
	var windows []int64
	tree.Walk(snap.Root, func(n *tree.Node) bool {
		if n.Type == tree.TypeCon && n.IsWindow() {
			windows = append(windows, n.ID)
		}
		return true
	})

	fmt.Fprintln(w, "\n=== Planned Commands ===")
	planned := 0
	for _, id := range windows {
		for _, change := range []ipc.WindowChange{ipc.ChangeNew, ipc.ChangeMove} {
			if !set.Handles(change) {
				continue
			}
			d, err := set.Decide(ipc.WindowEvent{Change: change, Container: tree.Node{ID: id}}, snap)
			if err != nil {
				fmt.Fprintf(w, "%s %d: %v\n", change, id, err)
				continue
			}
			if d.Fired() {
				planned++
				fmt.Fprintf(w, "%s %d: [%s] %s\n", change, id, d.Rule, d.Command)
			}
			if !explain {
				continue
			}
			for _, check := range d.Trace {
				status := "skipped"
				if check.Matched {
					status = "matched"
				}
				name := check.Rule
				if name == "" {
					name = "(lookup)"
				}
				fmt.Fprintf(w, "  %s %s: %s\n", name, status, check.Reason)
			}
		}
	}
	if planned == 0 {
		fmt.Fprintln(w, "No planned commands for current snapshot.")
	}
	return nil
}

func marshalYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func marshalJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
