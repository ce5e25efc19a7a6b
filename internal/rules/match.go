package rules

import (
	"fmt"

	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/tree"
)

// Built-in rule names, in evaluation order.
const (
	RuleTabNew           = "tab-new"
	RuleTabMovedMiddle   = "tab-moved-middle"
	RuleFlattenOrphanTab = "flatten-orphan-tab"
	RuleAutosplit        = "autosplit"
)

// Check records why a single rule did or did not match.
type Check struct {
	Rule    string `json:"rule,omitempty"`
	Matched bool   `json:"matched"`
	Reason  string `json:"reason"`
}

// Builtin returns the rule table in priority order.
func Builtin() []Rule {
	return []Rule{
		{Name: RuleTabNew, Trigger: ipc.ChangeNew, Evaluate: tabNew},
		{Name: RuleTabMovedMiddle, Trigger: ipc.ChangeMove, Evaluate: tabMovedMiddle},
		{Name: RuleFlattenOrphanTab, Trigger: ipc.ChangeMove, Evaluate: flattenOrphanTab},
		{Name: RuleAutosplit, Trigger: ipc.ChangeNew, Evaluate: autosplit, OptIn: true},
	}
}

// threeWayWorkspace is a horizontal workspace holding exactly three children.
func threeWayWorkspace(n *tree.Node) bool {
	return tree.IsHorizontalWorkspace(n) && tree.ChildCount(n) == 3
}

func describe(n *tree.Node) string {
	return fmt.Sprintf("%s %s with %d children", n.Layout, n.Type, tree.ChildCount(n))
}

func tabNew(ctx EvalContext) (Outcome, error) {
	if !threeWayWorkspace(ctx.Parent) {
		return Outcome{Reason: "parent is " + describe(ctx.Parent)}, nil
	}
	return Outcome{
		Matched: true,
		Command: layout.TabLeftGroup,
		Reason:  "new window made a three-way horizontal workspace",
	}, nil
}

func tabMovedMiddle(ctx EvalContext) (Outcome, error) {
	if !threeWayWorkspace(ctx.Parent) {
		return Outcome{Reason: "parent is " + describe(ctx.Parent)}, nil
	}
	if idx := ctx.Parent.IndexOf(ctx.Window); idx != 1 {
		return Outcome{Reason: fmt.Sprintf("moved window is child %d, not the middle", idx)}, nil
	}
	return Outcome{
		Matched: true,
		Command: layout.TabLeftGroup,
		Reason:  "window moved into the middle of a three-way horizontal workspace",
	}, nil
}

func flattenOrphanTab(ctx EvalContext) (Outcome, error) {
	if !tree.IsHorizontalWorkspace(ctx.Parent) || tree.ChildCount(ctx.Parent) != 2 {
		return Outcome{Reason: "parent is " + describe(ctx.Parent)}, nil
	}
	sibling := tree.FindSibling(ctx.Snapshot.Root, ctx.Window)
	if sibling == nil {
		return Outcome{}, fmt.Errorf("%w: window %d has a two-child parent %d but no sibling",
			ErrContractViolation, ctx.Window, ctx.Parent.ID)
	}
	if sibling.Layout != tree.LayoutTabbed || tree.ChildCount(sibling) != 1 {
		return Outcome{Reason: "sibling is " + describe(sibling)}, nil
	}
	orphan := sibling.Nodes[0]
	return Outcome{
		Matched: true,
		Command: layout.MoveRight(orphan.ID),
		Reason:  fmt.Sprintf("sibling %d is a tabbed group holding only %d", sibling.ID, orphan.ID),
	}, nil
}

func autosplit(ctx EvalContext) (Outcome, error) {
	root := ctx.Snapshot.Root
	if tree.AncestorMatches(root, ctx.Window, false, tree.IsTabbedOrStacked) {
		return Outcome{Reason: "parent shows one child at a time"}, nil
	}
	window := tree.Find(root, ctx.Window)
	if !window.IsWindow() {
		return Outcome{Reason: "container is not a window"}, nil
	}
	if window.Rect.Empty() {
		return Outcome{Reason: "window has no geometry yet"}, nil
	}
	return Outcome{
		Matched: true,
		Command: layout.SplitFor(window.ID, window.Rect),
		Reason:  fmt.Sprintf("split along the longer side of %dx%d", window.Rect.Width, window.Rect.Height),
	}, nil
}

// Names lists the built-in rule names in evaluation order.
func Names() []string {
	all := Builtin()
	out := make([]string, 0, len(all))
	for _, r := range all {
		out = append(out, r.Name)
	}
	return out
}
