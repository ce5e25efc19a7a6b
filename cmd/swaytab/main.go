package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/control"
	"github.com/swaytab/swaytab/internal/dispatch"
	"github.com/swaytab/swaytab/internal/engine"
	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/metrics"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/util"
)

type options struct {
	configPath    string
	socketPath    string
	controlSocket string
	logLevel      string
	dryRun        bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "swaytab",
		Short:         "Keep three-window rows on sway and i3 grouped as split plus tabs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.logLevel != "" && !util.ValidLogLevel(opts.logLevel) {
				return fmt.Errorf("unknown log level %q", opts.logLevel)
			}
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "path to YAML config")
	flags.StringVar(&opts.socketPath, "socket", "", "window manager IPC socket (default $SWAYSOCK, then $I3SOCK)")
	flags.StringVar(&opts.controlSocket, "control-socket", "", "control socket path (default $XDG_RUNTIME_DIR/swaytab/control.sock)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log commands instead of sending them")
	return cmd
}

func run(parent context.Context, opts options) error {
	logger := util.NewLogger(util.LevelInfo)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger.SetLevel(cfg.LogLevelValue())
	set, err := rules.Build(cfg.Rules)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	explicit := opts.socketPath
	if explicit == "" {
		explicit = cfg.SocketPath
	}
	wmSocket, err := ipc.SocketPath(explicit)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	treeConn, err := ipc.Dial(ctx, wmSocket)
	if err != nil {
		return err
	}
	defer treeConn.Close()
	if v, err := treeConn.Version(ctx); err != nil {
		logger.Warnf("get version: %v", err)
	} else {
		logger.Infof("connected to %s at %s", v.HumanReadable, wmSocket)
	}

	var sink dispatch.Sink = dispatch.LogSink{Logger: logger}
	if !opts.dryRun {
		cmdConn, err := ipc.Dial(ctx, wmSocket)
		if err != nil {
			return err
		}
		defer cmdConn.Close()
		sink = cmdConn
	}

	collector := metrics.NewCollector(cfg.Telemetry.Enabled)
	subscribe := func(ctx context.Context) (engine.EventSource, error) {
		sub, err := ipc.Subscribe(ctx, wmSocket, logger)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	eng := engine.New(treeConn, sink, subscribe, logger, set, engine.Options{
		QueueCapacity: cfg.QueueCapacity,
		DryRun:        opts.dryRun,
		DebugTree:     cfg.DebugTree,
		Metrics:       collector,
	})

	raw, _ := os.ReadFile(opts.configPath)
	reloader := newConfigReloader(opts.configPath, opts.logLevel, logger, eng, cfg, raw)
	ctrl, err := control.NewServer(eng, logger, reloader.Reload, opts.controlSocket)
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}

	reloadRequests := make(chan string, 1)
	watcher, err := newConfigWatcher(opts.configPath, logger)
	if err != nil {
		logger.Warnf("config hot reload disabled: %v", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return ctrl.Serve(gctx)
	})
	if cfg.Telemetry.Listen != "" {
		g.Go(func() error {
			return serveTelemetry(gctx, cfg.Telemetry.Listen, collector.Handler(), logger)
		})
	}
	if watcher != nil {
		g.Go(func() error {
			defer watcher.Close()
			watcher.Run(gctx, reloadRequests)
			return nil
		})
	}
	g.Go(func() error {
		for {
			var reason string
			select {
			case <-gctx.Done():
				return nil
			case reason = <-reloadRequests:
			case <-hup:
				reason = "received SIGHUP"
			}
			if err := reloader.Reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof("stopped")
	return nil
}
