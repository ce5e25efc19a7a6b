package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/dispatch"
	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/metrics"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/state"
	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/util"
)

// EventSource is a live window event stream. *ipc.Subscription satisfies it.
type EventSource interface {
	Events() <-chan ipc.WindowEvent
	Err() error
	Close() error
}

// SubscribeFunc opens the event stream when the engine starts.
type SubscribeFunc func(ctx context.Context) (EventSource, error)

// Options carries the settings fixed for the engine's lifetime, plus the
// initial values of those that can be reloaded.
type Options struct {
	QueueCapacity int
	DryRun        bool
	DebugTree     bool
	Metrics       *metrics.Collector
}

// Engine runs the producer loop (events, snapshots, rule decisions) and the
// dispatcher loop, connected only by the command queue.
type Engine struct {
	source    state.DataSource
	subscribe SubscribeFunc
	logger    *util.Logger
	metrics   *metrics.Collector
	dryRun    bool

	queue      *dispatch.Queue
	dispatcher *dispatch.Dispatcher
	history    *history

	mu           sync.Mutex
	rules        *rules.Set
	debugTree    bool
	started      time.Time
	events       uint64
	decisions    uint64
	lastSnapshot *state.Snapshot
	// pending holds the originating rule of each queued command, in queue
	// order, so dispatch outcomes can be attributed.
	pending []string
}

// Status is a point-in-time summary for the control socket.
type Status struct {
	Started    time.Time       `json:"started,omitempty"`
	DryRun     bool            `json:"dryRun"`
	DebugTree  bool            `json:"debugTree"`
	Events     uint64          `json:"events"`
	Decisions  uint64          `json:"decisions"`
	QueueLen   int             `json:"queueLen"`
	QueueCap   int             `json:"queueCap"`
	Dispatcher dispatch.Status `json:"dispatcher"`
	Snapshot   *state.Counts   `json:"snapshot,omitempty"`
	SnapshotAt time.Time       `json:"snapshotAt,omitempty"`
}

// New wires an engine. source answers GET_TREE and sink receives commands;
// they should be separate connections from the one subscribe opens.
func New(source state.DataSource, sink dispatch.Sink, subscribe SubscribeFunc, logger *util.Logger, set *rules.Set, opts Options) *Engine {
	if logger == nil {
		logger = util.Discard()
	}
	e := &Engine{
		source:    source,
		subscribe: subscribe,
		logger:    logger,
		metrics:   opts.Metrics,
		dryRun:    opts.DryRun,
		queue:     dispatch.NewQueue(opts.QueueCapacity),
		history:   newHistory(0),
		rules:     set,
		debugTree: opts.DebugTree,
	}
	e.dispatcher = dispatch.New(sink, logger, e.observe)
	return e
}

// Run subscribes to window events and runs both loops until one of them
// fails or ctx is cancelled. On the way out the queue is closed and the
// dispatcher submits whatever is still queued. Run may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	sub, err := e.subscribe(ctx)
	if err != nil {
		e.queue.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	e.mu.Lock()
	e.started = time.Now()
	e.mu.Unlock()
	e.logger.Infof("engine started (queue capacity %d, dry-run %t)", e.queue.Cap(), e.dryRun)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer e.queue.Close()
		return e.produce(gctx, sub)
	})
	g.Go(func() error {
		return e.dispatcher.Run(context.WithoutCancel(gctx), e.queue)
	})
	return g.Wait()
}

func (e *Engine) produce(ctx context.Context, sub EventSource) error {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("event stream: %w", err)
				}
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("event stream closed")
			}
			if err := e.handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// handle runs one decision cycle. Only connection failures are returned;
// contract violations are logged and the loop continues.
func (e *Engine) handle(ctx context.Context, ev ipc.WindowEvent) error {
	e.mu.Lock()
	e.events++
	set := e.rules
	debugTree := e.debugTree
	e.mu.Unlock()

	e.trace("event.received", map[string]any{
		"change":    ev.Change,
		"container": ev.Container.ID,
	})
	if !set.Handles(ev.Change) {
		return nil
	}

	snap, err := state.NewSnapshot(ctx, e.source)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.lastSnapshot = snap
	e.decisions++
	e.mu.Unlock()
	e.trace("snapshot.fetched", map[string]any{"counts": snap.Counts()})

	d, err := set.Decide(ev, snap)
	if err != nil {
		if !errors.Is(err, rules.ErrContractViolation) {
			return err
		}
		rule := lastRule(d.Trace)
		e.logger.Errorf("decision for window %d aborted: %v", d.Window, err)
		e.metrics.RecordContractViolation(rule)
		e.history.add(Record{
			Timestamp: time.Now(),
			Status:    StatusViolation,
			Change:    d.Change,
			Window:    d.Window,
			Rule:      rule,
			Trace:     d.Trace,
			Error:     err.Error(),
		})
		return nil
	}

	e.trace("decision", map[string]any{
		"window":  d.Window,
		"rule":    d.Rule,
		"command": d.Command,
		"checks":  d.Trace,
	})
	if !d.Fired() {
		e.history.add(Record{
			Timestamp: time.Now(),
			Status:    StatusNoMatch,
			Change:    d.Change,
			Window:    d.Window,
			Trace:     d.Trace,
		})
		return nil
	}

	e.logger.Infof("rule %s matched window %d: %s", d.Rule, d.Window, d.Command)
	if debugTree {
		e.logTree(snap.Root)
	}
	return e.enqueue(ctx, d)
}

func (e *Engine) enqueue(ctx context.Context, d rules.Decision) error {
	e.metrics.RecordMatch(d.Rule)
	e.history.add(Record{
		Timestamp: time.Now(),
		Status:    StatusQueued,
		Change:    d.Change,
		Window:    d.Window,
		Rule:      d.Rule,
		Command:   d.Command,
		Trace:     d.Trace,
	})
	e.mu.Lock()
	e.pending = append(e.pending, d.Rule)
	e.mu.Unlock()
	if err := e.queue.Push(ctx, d.Command); err != nil {
		e.mu.Lock()
		e.pending = e.pending[:len(e.pending)-1]
		e.mu.Unlock()
		return fmt.Errorf("queue %q: %w", d.Command, err)
	}
	e.trace("command.queued", map[string]any{
		"actions": d.Command.Actions(),
		"depth":   e.queue.Len(),
	})
	return nil
}

// observe runs on the dispatcher goroutine after each submission.
func (e *Engine) observe(res dispatch.Result) {
	e.mu.Lock()
	var rule string
	if len(e.pending) > 0 {
		rule = e.pending[0]
		e.pending = e.pending[1:]
	}
	e.mu.Unlock()

	rec := Record{Timestamp: time.Now(), Rule: rule, Command: res.Command}
	switch {
	case res.Err != nil:
		rec.Status = StatusError
		rec.Error = res.Err.Error()
		e.metrics.RecordDispatchError(rule)
		e.logger.Errorf("command %q from rule %s failed: %v", res.Command, rule, res.Err)
	case e.dryRun:
		rec.Status = StatusDryRun
		e.metrics.RecordApplied(rule, res.Duration)
	default:
		rec.Status = StatusApplied
		e.metrics.RecordApplied(rule, res.Duration)
	}
	e.history.add(rec)
	e.trace("command.dispatched", map[string]any{
		"command":  res.Command,
		"status":   rec.Status,
		"duration": res.Duration.String(),
	})
}

func (e *Engine) logTree(root *tree.Node) {
	out, err := tree.Render(root)
	if err != nil {
		e.logger.Warnf("render tree: %v", err)
		return
	}
	e.logger.Debugf("tree:\n%s", out)
}

// ApplyConfig swaps in the reloadable settings. The rule set is rebuilt
// first; if that fails nothing changes.
func (e *Engine) ApplyConfig(cfg *config.Config) error {
	set, err := rules.Build(cfg.Rules)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = set
	e.debugTree = cfg.DebugTree
	e.mu.Unlock()
	e.logger.SetLevel(cfg.LogLevelValue())
	e.metrics.SetEnabled(cfg.Telemetry.Enabled)
	return nil
}

// Rules lists the active rule set in evaluation order.
func (e *Engine) Rules() []rules.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules.Statuses()
}

// History returns the most recent decisions and dispatch outcomes, oldest
// first.
func (e *Engine) History() []Record {
	return e.history.snapshot()
}

// Metrics returns the current rule counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// CurrentTree fetches a fresh layout tree.
func (e *Engine) CurrentTree(ctx context.Context) (*tree.Node, error) {
	snap, err := state.NewSnapshot(ctx, e.source)
	if err != nil {
		return nil, err
	}
	return snap.Root, nil
}

// Status summarises the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Started:   e.started,
		DryRun:    e.dryRun,
		DebugTree: e.debugTree,
		Events:    e.events,
		Decisions: e.decisions,
	}
	snap := e.lastSnapshot
	e.mu.Unlock()

	st.QueueLen = e.queue.Len()
	st.QueueCap = e.queue.Cap()
	st.Dispatcher = e.dispatcher.Status()
	if snap != nil {
		counts := snap.Counts()
		st.Snapshot = &counts
		st.SnapshotAt = snap.FetchedAt
	}
	return st
}

func lastRule(trace []rules.Check) string {
	if len(trace) == 0 {
		return ""
	}
	return trace[len(trace)-1].Rule
}

func (e *Engine) trace(event string, fields map[string]any) {
	if !e.logger.Enabled(util.LevelTrace) {
		return
	}
	e.logger.Tracef("%s %s", event, formatTraceFields(fields))
}

func formatTraceFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		val, err := json.Marshal(fields[k])
		if err != nil {
			b.WriteString(strconv.Quote(fmt.Sprintf("<marshal error: %v>", err)))
			continue
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}
