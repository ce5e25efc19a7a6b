package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/swaytab/swaytab/internal/config"
	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/state"
	"github.com/swaytab/swaytab/internal/tree"
)

// ErrContractViolation marks a snapshot that contradicts a shape the matched
// rule had already established, such as a two-child parent without a
// sibling. It aborts the decision; the daemon keeps running.
var ErrContractViolation = errors.New("tree contract violation")

// EvalContext is everything a rule may look at for one event.
type EvalContext struct {
	Event    ipc.WindowEvent
	Snapshot *state.Snapshot
	Window   int64
	Parent   *tree.Node
}

// Outcome is the result of evaluating one rule.
type Outcome struct {
	Matched bool
	Command layout.Command
	Reason  string
}

// Rule is one entry of the ordered rule table.
type Rule struct {
	Name     string
	Trigger  ipc.WindowChange
	Evaluate func(EvalContext) (Outcome, error)
	// OptIn rules stay off unless the configuration enables them.
	OptIn bool
}

// Set is an immutable, ordered selection of rules. The first rule that
// matches decides; later rules are not evaluated.
type Set struct {
	rules    []Rule
	disabled map[string]struct{}
}

// Status reports whether a rule is active in a set.
type Status struct {
	Name    string           `json:"name"`
	Trigger ipc.WindowChange `json:"trigger"`
	Enabled bool             `json:"enabled"`
}

// Decision is the outcome of one event.
type Decision struct {
	Change  ipc.WindowChange `json:"change"`
	Window  int64            `json:"window"`
	Rule    string           `json:"rule,omitempty"`
	Command layout.Command   `json:"command,omitempty"`
	Trace   []Check          `json:"trace,omitempty"`
}

// Fired reports whether a rule produced a command.
func (d Decision) Fired() bool {
	return d.Command != ""
}

// Build selects the built-in rules according to cfg. Unknown rule names are
// rejected so typos surface at load time.
func Build(cfg config.RulesConfig) (*Set, error) {
	return newSet(Builtin(), cfg)
}

func newSet(all []Rule, cfg config.RulesConfig) (*Set, error) {
	known := make(map[string]Rule, len(all))
	for _, r := range all {
		known[r.Name] = r
	}
	for _, name := range cfg.Enabled {
		if _, ok := known[strings.TrimSpace(name)]; !ok {
			return nil, fmt.Errorf("unknown rule %q (known: %s)", name, strings.Join(names(all), ", "))
		}
	}
	disabled := make(map[string]struct{})
	for _, name := range cfg.Disabled {
		name = strings.TrimSpace(name)
		if _, ok := known[name]; !ok {
			return nil, fmt.Errorf("unknown rule %q (known: %s)", name, strings.Join(names(all), ", "))
		}
		disabled[name] = struct{}{}
	}
	for _, r := range all {
		if r.OptIn && !cfg.OptedIn(r.Name) {
			disabled[r.Name] = struct{}{}
		}
	}
	return &Set{rules: append([]Rule(nil), all...), disabled: disabled}, nil
}

// Statuses lists the rules in evaluation order.
func (s *Set) Statuses() []Status {
	out := make([]Status, 0, len(s.rules))
	for _, r := range s.rules {
		_, off := s.disabled[r.Name]
		out = append(out, Status{Name: r.Name, Trigger: r.Trigger, Enabled: !off})
	}
	return out
}

// Enabled reports whether the named rule is active.
func (s *Set) Enabled(name string) bool {
	for _, r := range s.rules {
		if r.Name == name {
			_, off := s.disabled[name]
			return !off
		}
	}
	return false
}

// Decide maps an event and the snapshot fetched for it to at most one
// command. An empty command with a nil error is the common case.
func (s *Set) Decide(ev ipc.WindowEvent, snap *state.Snapshot) (Decision, error) {
	d := Decision{Change: ev.Change, Window: ev.Container.ID}
	if !s.Handles(ev.Change) {
		return d, nil
	}
	if snap == nil || snap.Root == nil {
		return d, fmt.Errorf("decide %s for %d: no snapshot", ev.Change, d.Window)
	}
	parent := tree.FindParent(snap.Root, d.Window)
	if parent == nil {
		d.Trace = append(d.Trace, Check{Reason: "window has no tiled parent"})
		return d, nil
	}
	ctx := EvalContext{Event: ev, Snapshot: snap, Window: d.Window, Parent: parent}
	for _, r := range s.rules {
		if r.Trigger != ev.Change {
			continue
		}
		if _, off := s.disabled[r.Name]; off {
			d.Trace = append(d.Trace, Check{Rule: r.Name, Reason: "disabled"})
			continue
		}
		out, err := r.Evaluate(ctx)
		if err != nil {
			d.Trace = append(d.Trace, Check{Rule: r.Name, Reason: err.Error()})
			return d, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		d.Trace = append(d.Trace, Check{Rule: r.Name, Matched: out.Matched, Reason: out.Reason})
		if out.Matched {
			d.Rule = r.Name
			d.Command = out.Command
			return d, nil
		}
	}
	return d, nil
}

// Handles reports whether any rule, enabled or not, triggers on change.
func (s *Set) Handles(change ipc.WindowChange) bool {
	for _, r := range s.rules {
		if r.Trigger == change {
			return true
		}
	}
	return false
}

func names(all []Rule) []string {
	out := make([]string, 0, len(all))
	for _, r := range all {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}
