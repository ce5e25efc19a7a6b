package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/swaytab/swaytab/internal/control"
)

// defaultTimeout is used when the caller does not provide a context deadline.
const defaultTimeout = 3 * time.Second

// Client talks to the running daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	DaemonStatus      = control.DaemonStatus
	RulesResult       = control.RulesResult
	InspectorSnapshot = control.InspectorSnapshot
	MetricsSnapshot   = control.MetricsSnapshot
	TreeNode          = control.TreeNode
)

// New creates a client for the socket at path. When path is empty, the
// default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the engine summary.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var st DaemonStatus
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &st); err != nil {
		return DaemonStatus{}, err
	}
	return st, nil
}

// Rules retrieves the rule table and which rules are enabled.
func (c *Client) Rules(ctx context.Context) (RulesResult, error) {
	var res RulesResult
	if err := c.do(ctx, control.Request{Action: control.ActionRulesGet}, &res); err != nil {
		return RulesResult{}, err
	}
	return res, nil
}

// Inspect retrieves the rule table together with recent decisions.
func (c *Client) Inspect(ctx context.Context) (InspectorSnapshot, error) {
	var snap InspectorSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionInspect}, &snap); err != nil {
		return InspectorSnapshot{}, err
	}
	return snap, nil
}

// Tree asks the daemon to fetch and return the current layout tree.
func (c *Client) Tree(ctx context.Context) (*TreeNode, error) {
	var node TreeNode
	if err := c.do(ctx, control.Request{Action: control.ActionTree}, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Metrics retrieves the rule counters.
func (c *Client) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var snap MetricsSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionMetrics}, &snap); err != nil {
		return MetricsSnapshot{}, err
	}
	return snap, nil
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp struct {
		Status string          `json:"status"`
		Error  string          `json:"error"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
