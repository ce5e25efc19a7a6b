package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/metrics"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/state"
	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/util"
)

type benchFixture struct {
	Name   string
	Tree   *tree.Node
	Events []benchEvent
}

type benchEvent struct {
	Event ipc.WindowEvent
	Delay time.Duration
}

type benchLatencyStats struct {
	Min    float64 `json:"minMs"`
	Mean   float64 `json:"meanMs"`
	Median float64 `json:"medianMs"`
	P95    float64 `json:"p95Ms"`
	Max    float64 `json:"maxMs"`
}

type benchAllocationStats struct {
	Total         uint64  `json:"totalAllocations"`
	PerEvent      float64 `json:"allocationsPerEvent"`
	BytesTotal    uint64  `json:"bytesTotal"`
	BytesPerEvent float64 `json:"bytesPerEvent"`
}

type benchSummary struct {
	Fixture            string                `json:"fixture"`
	Iterations         int                   `json:"iterations"`
	WarmupIterations   int                   `json:"warmupIterations"`
	EventsPerIteration int                   `json:"eventsPerIteration"`
	TotalEvents        int                   `json:"totalEvents"`
	Commands           int                   `json:"commands"`
	Violations         int                   `json:"violations"`
	Rules              []metrics.RuleMetrics `json:"rules,omitempty"`
	Latency            benchLatencyStats     `json:"latency"`
	Allocations        benchAllocationStats  `json:"allocations"`
	TotalDurationMs    float64               `json:"totalDurationMs"`
	EventsPerSecond    float64               `json:"eventsPerSecond"`
}

type benchReport struct {
	Summary     benchSummary `json:"summary"`
	DurationsMs []float64    `json:"durationsMs"`
}

// staticSource serves the fixture tree as if it were a GET_TREE reply.
type staticSource struct {
	root *tree.Node
}

func (s staticSource) Tree(context.Context) (*tree.Node, error) {
	return s.root, nil
}

type benchOptions struct {
	configPath    string
	fixturePath   string
	iterations    int
	warmup        int
	cpuProfile    string
	memProfile    string
	logLevel      string
	respectDelays bool
	outputPath    string
	human         bool
	explain       bool
}

func main() {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:           "bench",
		Short:         "Replay window events through the rule engine and report decision latency",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to YAML config (defaults when empty)")
	flags.StringVar(&opts.fixturePath, "fixture", "", "replay fixture (JSON tree plus events); built-in stream when empty")
	flags.IntVar(&opts.iterations, "iterations", 100, "number of times to replay the fixture")
	flags.IntVar(&opts.warmup, "warmup", 0, "warm-up iterations to run before timing")
	flags.StringVar(&opts.cpuProfile, "cpu-profile", "", "write CPU profile to file")
	flags.StringVar(&opts.memProfile, "mem-profile", "", "write heap profile to file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")
	flags.BoolVar(&opts.respectDelays, "respect-delays", false, "sleep for event delays declared in the fixture")
	flags.StringVar(&opts.outputPath, "output", "-", "write JSON report to file ('-' for stdout)")
	flags.BoolVar(&opts.human, "human", false, "print a tabular summary alongside the JSON output")
	flags.BoolVar(&opts.explain, "explain", false, "log rule checks for each matched event")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts benchOptions, stdout io.Writer) error {
	if opts.iterations <= 0 {
		return errors.New("iterations must be positive")
	}
	if opts.warmup < 0 {
		return errors.New("warmup must be zero or positive")
	}
	logger := util.NewLogger(util.ParseLogLevel(opts.logLevel))

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	set, err := rules.Build(cfg.Rules)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	fixture := defaultFixture()
	if opts.fixturePath != "" {
		if fixture, err = loadFixture(opts.fixturePath); err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
	}

	if opts.cpuProfile != "" {
		f, err := os.Create(opts.cpuProfile)
		if err != nil {
			return fmt.Errorf("create cpu profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start cpu profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	for i := 0; i < opts.warmup; i++ {
		if _, err := replayIteration(ctx, fixture, set, nil, logger, false, false); err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i+1, err)
		}
	}

	collector := metrics.NewCollector(true)
	runtime.GC()
	var startMem runtime.MemStats
	runtime.ReadMemStats(&startMem)

	durations := make([]time.Duration, 0, len(fixture.Events)*opts.iterations)
	for i := 0; i < opts.iterations; i++ {
		took, err := replayIteration(ctx, fixture, set, collector, logger, opts.respectDelays, opts.explain)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i+1, err)
		}
		durations = append(durations, took...)
	}

	runtime.GC()
	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	if opts.memProfile != "" {
		f, err := os.Create(opts.memProfile)
		if err != nil {
			return fmt.Errorf("create mem profile: %w", err)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("write heap profile: %w", err)
		}
	}

	report := buildReport(fixture, opts.iterations, opts.warmup, durations, collector.Snapshot(), startMem, endMem)
	if err := writeReport(report, opts.outputPath, stdout); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if opts.human {
		return printHumanSummary(report.Summary, stdout)
	}
	return nil
}

// replayIteration runs one producer cycle (snapshot then decide) per event
// and returns how long each took. Decisions are counted on collector.
func replayIteration(ctx context.Context, fixture benchFixture, set *rules.Set, collector *metrics.Collector, logger *util.Logger, respectDelays, explain bool) ([]time.Duration, error) {
	src := staticSource{root: fixture.Tree}
	durations := make([]time.Duration, 0, len(fixture.Events))
	for idx, ev := range fixture.Events {
		if respectDelays && ev.Delay > 0 {
			time.Sleep(ev.Delay)
		}
		start := time.Now()
		if !set.Handles(ev.Event.Change) {
			durations = append(durations, time.Since(start))
			continue
		}
		snap, err := state.NewSnapshot(ctx, src)
		if err != nil {
			return nil, err
		}
		d, err := set.Decide(ev.Event, snap)
		elapsed := time.Since(start)
		durations = append(durations, elapsed)
		switch {
		case errors.Is(err, rules.ErrContractViolation):
			var rule string
			if len(d.Trace) > 0 {
				rule = d.Trace[len(d.Trace)-1].Rule
			}
			collector.RecordContractViolation(rule)
		case err != nil:
			return nil, fmt.Errorf("event %d: %w", idx+1, err)
		case d.Fired():
			collector.RecordMatch(d.Rule)
			collector.RecordApplied(d.Rule, elapsed)
			if explain {
				logger.Infof("event %d (%s %d) rule %s matched: %s", idx+1, d.Change, d.Window, d.Rule, d.Command)
				for _, check := range d.Trace {
					logger.Infof("  %s matched=%t %s", check.Rule, check.Matched, check.Reason)
				}
			}
		}
	}
	return durations, nil
}

func buildReport(fixture benchFixture, iterations, warmup int, durations []time.Duration, snap metrics.Snapshot, start, end runtime.MemStats) benchReport {
	totalEvents := len(fixture.Events) * iterations
	latency, total := buildLatencyStats(durations)

	allocs := end.Mallocs - start.Mallocs
	bytesAllocated := end.TotalAlloc - start.TotalAlloc

	durationsMs := make([]float64, len(durations))
	for i, d := range durations {
		durationsMs[i] = toMillis(d)
	}

	summary := benchSummary{
		Fixture:            fixture.Name,
		Iterations:         iterations,
		WarmupIterations:   warmup,
		EventsPerIteration: len(fixture.Events),
		TotalEvents:        totalEvents,
		Commands:           int(snap.Totals.Matched),
		Violations:         int(snap.Totals.ContractViolations),
		Rules:              snap.Rules,
		Latency:            latency,
		Allocations: benchAllocationStats{
			Total:         allocs,
			PerEvent:      safeDivide(float64(allocs), totalEvents),
			BytesTotal:    bytesAllocated,
			BytesPerEvent: safeDivide(float64(bytesAllocated), totalEvents),
		},
		TotalDurationMs: toMillis(total),
		EventsPerSecond: eventsPerSecond(total, totalEvents),
	}
	return benchReport{Summary: summary, DurationsMs: durationsMs}
}

func buildLatencyStats(durations []time.Duration) (benchLatencyStats, time.Duration) {
	stats := benchLatencyStats{}
	if len(durations) == 0 {
		return stats, 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	stats.Min = toMillis(sorted[0])
	stats.Mean = toMillis(total / time.Duration(len(durations)))
	stats.Median = toMillis(percentile(sorted, 0.50))
	stats.P95 = toMillis(percentile(sorted, 0.95))
	stats.Max = toMillis(sorted[len(sorted)-1])
	return stats, total
}

func safeDivide(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func writeReport(report benchReport, outputPath string, stdout io.Writer) error {
	w := stdout
	switch path := strings.TrimSpace(outputPath); path {
	case "", "-":
	default:
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create report dir: %w", err)
			}
		}
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		defer out.Close()
		w = out
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printHumanSummary(summary benchSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Fixture:\t%s\n", summary.Fixture)
	fmt.Fprintf(tw, "Iterations:\t%d (warmup %d)\n", summary.Iterations, summary.WarmupIterations)
	fmt.Fprintf(tw, "Events:\t%d (%d / iteration)\n", summary.TotalEvents, summary.EventsPerIteration)
	fmt.Fprintf(tw, "Commands:\t%d\n", summary.Commands)
	if summary.Violations > 0 {
		fmt.Fprintf(tw, "Contract violations:\t%d\n", summary.Violations)
	}
	for _, r := range summary.Rules {
		fmt.Fprintf(tw, "  %s:\t%d matched\n", r.Rule, r.Matched)
	}
	l := summary.Latency
	fmt.Fprintf(tw, "Latency (ms):\tmin %.3f | mean %.3f | median %.3f | p95 %.3f | max %.3f\n", l.Min, l.Mean, l.Median, l.P95, l.Max)
	a := summary.Allocations
	fmt.Fprintf(tw, "Allocations:\t%d total (%.2f / event)\n", a.Total, a.PerEvent)
	fmt.Fprintf(tw, "Bytes allocated:\t%d (%.2f / event)\n", a.BytesTotal, a.BytesPerEvent)
	fmt.Fprintf(tw, "Events/sec:\t%.2f\n", summary.EventsPerSecond)
	return tw.Flush()
}

func eventsPerSecond(total time.Duration, events int) float64 {
	if total <= 0 || events == 0 {
		return 0
	}
	return float64(events) / total.Seconds()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// loadFixture reads {"name", "tree", "events": [{"change", "container", "delay"}]}.
// The tree is a GET_TREE reply; only the container id of each event is used.
func loadFixture(path string) (benchFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchFixture{}, err
	}
	var payload struct {
		Name   string     `json:"name"`
		Tree   *tree.Node `json:"tree"`
		Events []struct {
			Change    ipc.WindowChange `json:"change"`
			Container struct {
				ID int64 `json:"id"`
			} `json:"container"`
			Delay string `json:"delay"`
		} `json:"events"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return benchFixture{}, err
	}
	if payload.Tree == nil {
		return benchFixture{}, errors.New("fixture has no tree")
	}
	fixture := benchFixture{Name: payload.Name, Tree: payload.Tree}
	if fixture.Name == "" {
		fixture.Name = filepath.Base(path)
	}
	for _, ev := range payload.Events {
		var delay time.Duration
		if ev.Delay != "" {
			if delay, err = time.ParseDuration(ev.Delay); err != nil {
				return benchFixture{}, fmt.Errorf("parse delay %q: %w", ev.Delay, err)
			}
		}
		fixture.Events = append(fixture.Events, benchEvent{
			Event: ipc.WindowEvent{Change: ev.Change, Container: tree.Node{ID: ev.Container.ID}},
			Delay: delay,
		})
	}
	if len(fixture.Events) == 0 {
		return benchFixture{}, errors.New("fixture contains no events")
	}
	return fixture, nil
}

// defaultFixture is two workspaces: one row of three windows and one split
// with an orphaned single-tab container.
func defaultFixture() benchFixture {
	win := func(id int64) *tree.Node {
		return &tree.Node{ID: id, Type: tree.TypeCon, Layout: tree.LayoutNone}
	}
	root := &tree.Node{ID: 1, Type: tree.TypeRoot, Nodes: []*tree.Node{{
		ID: 2, Type: tree.TypeOutput, Layout: tree.LayoutOutput,
		Nodes: []*tree.Node{
			{ID: 10, Type: tree.TypeWorkspace, Name: "1", Layout: tree.LayoutSplitH,
				Nodes: []*tree.Node{win(11), win(12), win(13)}},
			{ID: 20, Type: tree.TypeWorkspace, Name: "2", Layout: tree.LayoutSplitH,
				Nodes: []*tree.Node{
					win(21),
					{ID: 22, Type: tree.TypeCon, Layout: tree.LayoutTabbed, Nodes: []*tree.Node{win(23)}},
				}},
		},
	}}}
	event := func(change ipc.WindowChange, id int64) benchEvent {
		return benchEvent{Event: ipc.WindowEvent{Change: change, Container: tree.Node{ID: id}}}
	}
	return benchFixture{
		Name: "synthetic",
		Tree: root,
		Events: []benchEvent{
			event(ipc.ChangeNew, 13),
			event(ipc.ChangeFocus, 11),
			event(ipc.ChangeMove, 12),
			event(ipc.ChangeMove, 11),
			event(ipc.ChangeMove, 21),
			event(ipc.ChangeTitle, 23),
			event(ipc.ChangeClose, 12),
		},
	}
}
