package control

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/swaytab/swaytab/internal/engine"
	"github.com/swaytab/swaytab/internal/metrics"
	"github.com/swaytab/swaytab/internal/rules"
	"github.com/swaytab/swaytab/internal/tree"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// SocketEnv overrides the control socket location.
	SocketEnv = "SWAYTAB_CONTROL_SOCKET"

	// Action names supported by the control protocol.
	ActionStatus   = "status"
	ActionRulesGet = "rules.get"
	ActionInspect  = "inspect"
	ActionTree     = "tree"
	ActionMetrics  = "metrics"
	ActionReload   = "reload"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type (
	// DaemonStatus is the engine summary returned by the status action.
	DaemonStatus = engine.Status
	// RuleStatus reports whether a rule is active.
	RuleStatus = rules.Status
	// Record is one inspector history entry.
	Record = engine.Record
	// MetricsSnapshot carries the rule counters.
	MetricsSnapshot = metrics.Snapshot
	// TreeNode is the filtered tree returned by the tree action.
	TreeNode = tree.FilteredNode
)

// RulesResult lists the rule table in evaluation order.
type RulesResult struct {
	Rules []RuleStatus `json:"rules"`
}

// InspectorSnapshot bundles the rule table with recent decisions.
type InspectorSnapshot struct {
	Rules   []RuleStatus `json:"rules"`
	History []Record     `json:"history,omitempty"`
}

// DefaultSocketPath returns the expected location of the control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv(SocketEnv); env != "" {
		return env, nil
	}
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "swaytab", SocketFileName), nil
}
