package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/dispatch"
	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/metrics"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/util"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu    sync.Mutex
	root  *tree.Node
	err   error
	calls int
}

func (f *fakeSource) Tree(context.Context) (*tree.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.root, f.err
}

func (f *fakeSource) set(root *tree.Node) {
	f.mu.Lock()
	f.root = root
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu   sync.Mutex
	cmds []layout.Command
	err  error
	gate chan struct{}
}

func (s *fakeSink) RunCommand(ctx context.Context, cmd layout.Command) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return s.err
}

func (s *fakeSink) submitted() []layout.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]layout.Command(nil), s.cmds...)
}

type fakeSubscription struct {
	events chan ipc.WindowEvent
	err    error
	closed chan struct{}
	once   sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{events: make(chan ipc.WindowEvent), closed: make(chan struct{})}
}

func (s *fakeSubscription) Events() <-chan ipc.WindowEvent { return s.events }
func (s *fakeSubscription) Err() error                     { return s.err }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSubscription) subscribeFunc() SubscribeFunc {
	return func(context.Context) (EventSource, error) { return s, nil }
}

func window(id int64) *tree.Node {
	return &tree.Node{ID: id, Type: tree.TypeCon, Layout: tree.LayoutNone}
}

func rootWith(children ...*tree.Node) *tree.Node {
	return &tree.Node{ID: 1, Type: tree.TypeRoot, Nodes: []*tree.Node{{
		ID:   2,
		Type: tree.TypeOutput,
		Nodes: []*tree.Node{{
			ID:     3,
			Type:   tree.TypeWorkspace,
			Layout: tree.LayoutSplitH,
			Nodes:  children,
		}},
	}}}
}

func threeWay() *tree.Node {
	return rootWith(window(10), window(11), window(12))
}

func newEvent(change ipc.WindowChange, id int64) ipc.WindowEvent {
	return ipc.WindowEvent{Change: change, Container: tree.Node{ID: id}}
}

func defaultRules(t *testing.T) *rules.Set {
	t.Helper()
	set, err := rules.Build(config.RulesConfig{})
	if err != nil {
		t.Fatalf("rules.Build: %v", err)
	}
	return set
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type runResult struct {
	err  error
	done chan struct{}
}

func start(ctx context.Context, e *Engine) *runResult {
	r := &runResult{done: make(chan struct{})}
	go func() {
		r.err = e.Run(ctx)
		close(r.done)
	}()
	return r
}

func (r *runResult) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop")
		return nil
	}
}

func statuses(records []Record) []RecordStatus {
	out := make([]RecordStatus, 0, len(records))
	for _, r := range records {
		out = append(out, r.Status)
	}
	return out
}

func TestEngineSubmitsCommandForNewWindow(t *testing.T) {
	src := &fakeSource{root: threeWay()}
	sink := &fakeSink{}
	sub := newFakeSubscription()
	collector := metrics.NewCollector(true)
	eng := New(src, sink, sub.subscribeFunc(), util.Discard(), defaultRules(t), Options{Metrics: collector})

	ctx, cancel := context.WithCancel(context.Background())
	run := start(ctx, eng)
	sub.events <- newEvent(ipc.ChangeNew, 12)
	waitFor(t, "command submission", func() bool { return len(sink.submitted()) == 1 })
	waitFor(t, "dispatch record", func() bool { return len(eng.History()) == 2 })
	cancel()
	if err := run.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if diff := cmp.Diff([]layout.Command{layout.TabLeftGroup}, sink.submitted()); diff != "" {
		t.Fatalf("submitted mismatch (-want +got):\n%s", diff)
	}
	hist := eng.History()
	if diff := cmp.Diff([]RecordStatus{StatusQueued, StatusApplied}, statuses(hist)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if hist[1].Rule != rules.RuleTabNew {
		t.Fatalf("dispatch not attributed to rule: %+v", hist[1])
	}
	totals := eng.Metrics().Totals
	if totals.Matched != 1 || totals.Applied != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	st := eng.Status()
	if st.Events != 1 || st.Decisions != 1 || st.Dispatcher.Submitted != 1 || st.Dispatcher.State != dispatch.StateClosed {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Snapshot == nil || st.Snapshot.Windows != 3 {
		t.Fatalf("expected snapshot counts, got %+v", st.Snapshot)
	}
}

func TestEngineSkipsSnapshotForUnhandledChanges(t *testing.T) {
	src := &fakeSource{root: threeWay()}
	sub := newFakeSubscription()
	eng := New(src, &fakeSink{}, sub.subscribeFunc(), nil, defaultRules(t), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	run := start(ctx, eng)
	sub.events <- newEvent(ipc.ChangeFocus, 12)
	sub.events <- newEvent(ipc.ChangeTitle, 12)
	waitFor(t, "events", func() bool { return eng.Status().Events == 2 })
	cancel()
	if err := run.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.callCount() != 0 {
		t.Fatalf("expected no tree fetches, got %d", src.callCount())
	}
	if eng.History() != nil {
		t.Fatalf("expected empty history, got %+v", eng.History())
	}
}

func TestEngineDrainsQueueOnShutdown(t *testing.T) {
	src := &fakeSource{root: threeWay()}
	sink := &fakeSink{gate: make(chan struct{})}
	sub := newFakeSubscription()
	eng := New(src, sink, sub.subscribeFunc(), nil, defaultRules(t), Options{QueueCapacity: 4})

	ctx, cancel := context.WithCancel(context.Background())
	run := start(ctx, eng)
	for i := 0; i < 3; i++ {
		sub.events <- newEvent(ipc.ChangeNew, 12)
	}
	waitFor(t, "one in flight and two queued", func() bool {
		st := eng.Status()
		return st.Dispatcher.State == dispatch.StateSending && st.QueueLen == 2
	})
	cancel()
	close(sink.gate)
	if err := run.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(sink.submitted()); got != 3 {
		t.Fatalf("expected the backlog to be submitted, got %d commands", got)
	}
}

func TestEngineContinuesAfterContractViolation(t *testing.T) {
	src := &fakeSource{root: rootWith(window(10), window(10))}
	sink := &fakeSink{}
	sub := newFakeSubscription()
	collector := metrics.NewCollector(true)
	var logs bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelInfo, &logs)
	eng := New(src, sink, sub.subscribeFunc(), logger, defaultRules(t), Options{Metrics: collector})

	ctx, cancel := context.WithCancel(context.Background())
	run := start(ctx, eng)
	sub.events <- newEvent(ipc.ChangeMove, 10)
	waitFor(t, "violation record", func() bool { return len(eng.History()) == 1 })
	src.set(threeWay())
	sub.events <- newEvent(ipc.ChangeNew, 12)
	waitFor(t, "command submission", func() bool { return len(sink.submitted()) == 1 })
	waitFor(t, "dispatch record", func() bool { return len(eng.History()) == 3 })
	cancel()
	if err := run.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	hist := eng.History()
	if diff := cmp.Diff([]RecordStatus{StatusViolation, StatusQueued, StatusApplied}, statuses(hist)); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if hist[0].Rule != rules.RuleFlattenOrphanTab {
		t.Fatalf("violation not attributed: %+v", hist[0])
	}
	if eng.Metrics().Totals.ContractViolations != 1 {
		t.Fatalf("expected one violation, got %+v", eng.Metrics().Totals)
	}
	if !strings.Contains(logs.String(), "[ERROR] decision for window 10 aborted") {
		t.Fatalf("expected loud violation log, got %q", logs.String())
	}
}

func TestEngineStopsOnSinkError(t *testing.T) {
	rejected := errors.New("parse error")
	src := &fakeSource{root: threeWay()}
	sink := &fakeSink{err: rejected}
	sub := newFakeSubscription()
	collector := metrics.NewCollector(true)
	eng := New(src, sink, sub.subscribeFunc(), nil, defaultRules(t), Options{Metrics: collector})

	run := start(context.Background(), eng)
	sub.events <- newEvent(ipc.ChangeNew, 12)
	err := run.wait(t)
	if !errors.Is(err, rejected) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if eng.Metrics().Totals.DispatchErrors != 1 {
		t.Fatalf("expected dispatch error counted, got %+v", eng.Metrics().Totals)
	}
}

func TestEngineStopsWhenEventStreamFails(t *testing.T) {
	lost := errors.New("connection reset")
	sub := newFakeSubscription()
	sub.err = lost
	eng := New(&fakeSource{root: threeWay()}, &fakeSink{}, sub.subscribeFunc(), nil, defaultRules(t), Options{})

	run := start(context.Background(), eng)
	close(sub.events)
	err := run.wait(t)
	if !errors.Is(err, lost) || !strings.Contains(err.Error(), "event stream") {
		t.Fatalf("expected event stream error, got %v", err)
	}
	select {
	case <-sub.closed:
	default:
		t.Fatalf("subscription was not closed")
	}
}

func TestEngineStopsWhenSnapshotFails(t *testing.T) {
	src := &fakeSource{err: errors.New("broken pipe")}
	sub := newFakeSubscription()
	eng := New(src, &fakeSink{}, sub.subscribeFunc(), nil, defaultRules(t), Options{})

	run := start(context.Background(), eng)
	sub.events <- newEvent(ipc.ChangeMove, 12)
	err := run.wait(t)
	if err == nil || !strings.Contains(err.Error(), "fetch tree: broken pipe") {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestEngineReportsSubscribeFailure(t *testing.T) {
	failing := func(context.Context) (EventSource, error) { return nil, errors.New("no socket") }
	eng := New(&fakeSource{}, &fakeSink{}, failing, nil, defaultRules(t), Options{})
	if err := eng.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "subscribe: no socket") {
		t.Fatalf("expected subscribe error, got %v", err)
	}
}

func TestEngineDryRunRecordsStatus(t *testing.T) {
	src := &fakeSource{root: threeWay()}
	sub := newFakeSubscription()
	var logs bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelInfo, &logs)
	eng := New(src, dispatch.LogSink{Logger: logger}, sub.subscribeFunc(), logger, defaultRules(t), Options{DryRun: true})

	ctx, cancel := context.WithCancel(context.Background())
	run := start(ctx, eng)
	sub.events <- newEvent(ipc.ChangeNew, 12)
	waitFor(t, "dry-run record", func() bool { return len(eng.History()) == 2 })
	cancel()
	if err := run.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := eng.History()[1].Status; got != StatusDryRun {
		t.Fatalf("expected dry-run status, got %s", got)
	}
	if !strings.Contains(logs.String(), "dry-run: "+string(layout.TabLeftGroup)) {
		t.Fatalf("expected dry-run log, got %q", logs.String())
	}
}

func TestApplyConfig(t *testing.T) {
	logger := util.NewLoggerWithWriter(util.LevelInfo, &bytes.Buffer{})
	collector := metrics.NewCollector(false)
	eng := New(&fakeSource{}, &fakeSink{}, nil, logger, defaultRules(t), Options{Metrics: collector})

	cfg := config.Default()
	cfg.LogLevel = "debug"
	cfg.DebugTree = true
	cfg.Rules.Disabled = []string{rules.RuleTabNew}
	cfg.Telemetry.Enabled = true
	if err := eng.ApplyConfig(cfg); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if eng.Rules()[0].Enabled || !eng.Status().DebugTree || !collector.Enabled() || logger.Level() != util.LevelDebug {
		t.Fatalf("config not applied: rules=%+v status=%+v", eng.Rules(), eng.Status())
	}

	bad := config.Default()
	bad.Rules.Enabled = []string{"mystery"}
	if err := eng.ApplyConfig(bad); err == nil {
		t.Fatalf("expected unknown rule error")
	}
	if eng.Rules()[0].Enabled {
		t.Fatalf("failed reload must keep previous rules")
	}
}

func TestEngineRendersTreeWhenDebugging(t *testing.T) {
	src := &fakeSource{root: threeWay()}
	sub := newFakeSubscription()
	var logs bytes.Buffer
	logger := util.NewLoggerWithWriter(util.LevelDebug, &logs)
	eng := New(src, &fakeSink{}, sub.subscribeFunc(), logger, defaultRules(t), Options{DebugTree: true})

	ctx, cancel := context.WithCancel(context.Background())
	run := start(ctx, eng)
	sub.events <- newEvent(ipc.ChangeNew, 12)
	waitFor(t, "dispatch record", func() bool { return len(eng.History()) == 2 })
	cancel()
	if err := run.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(logs.String(), `"layout": "splith"`) {
		t.Fatalf("expected rendered tree in logs, got %q", logs.String())
	}
}

func TestCurrentTree(t *testing.T) {
	src := &fakeSource{root: threeWay()}
	eng := New(src, &fakeSink{}, nil, nil, defaultRules(t), Options{})
	root, err := eng.CurrentTree(context.Background())
	if err != nil || root.ID != 1 {
		t.Fatalf("CurrentTree = %v, %v", root, err)
	}
}

func TestFormatTraceFields(t *testing.T) {
	got := formatTraceFields(map[string]any{
		"window":  int64(12),
		"actions": []string{"focus left", "split v"},
		"bad":     make(chan int),
	})
	want := `{"actions":["focus left","split v"],"bad":"<marshal error: json: unsupported type: chan int>","window":12}`
	if got != want {
		t.Fatalf("formatTraceFields = %s, want %s", got, want)
	}
	if formatTraceFields(nil) != "{}" {
		t.Fatalf("expected empty object")
	}
}
