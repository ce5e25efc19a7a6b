package layout

import (
	"fmt"
	"strings"
)

// Command is one RUN_COMMAND payload in the i3/sway command grammar. Compound
// commands are whitespace separated actions applied in sequence.
type Command string

// TabLeftGroup folds the window left of the focused one into a vertical
// split, turns that split tabbed, then moves the focused window into it.
const TabLeftGroup Command = "focus left split v layout tabbed focus right move left"

// Selector prefixes action with a con_id criteria so it applies to node id
// instead of the focused container.
func Selector(id int64, action string) Command {
	return Command(fmt.Sprintf("[con_id=%d] %s", id, action))
}

// MoveRight moves the container with the given id one slot to the right.
func MoveRight(id int64) Command {
	return Selector(id, "move right")
}

// SplitFor marks the container so its next child is placed along the
// orientation that suits rect.
func SplitFor(id int64, rect Rect) Command {
	return Selector(id, "split "+string(PreferredSplit(rect)))
}

// Actions splits a compound command into its individual actions. A criteria
// prefix stays attached to the action that follows it.
func (c Command) Actions() []string {
	var (
		actions  []string
		current  []string
		criteria bool
	)
	flush := func() {
		if len(current) > 0 {
			actions = append(actions, strings.Join(current, " "))
		}
		current = nil
		criteria = false
	}
	for _, f := range strings.Fields(string(c)) {
		switch {
		case strings.HasPrefix(f, "["):
			flush()
			current = append(current, f)
			criteria = true
		case isVerb(f) && criteria:
			current = append(current, f)
			criteria = false
		case isVerb(f):
			flush()
			current = append(current, f)
		default:
			current = append(current, f)
		}
	}
	flush()
	return actions
}

func isVerb(word string) bool {
	switch word {
	case "focus", "split", "layout", "move", "kill", "floating", "fullscreen", "mark", "unmark", "resize", "swap":
		return true
	}
	return false
}
