package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swaytab/swaytab/internal/tree"
)

// DataSource fetches the current layout tree from the window manager.
type DataSource interface {
	Tree(ctx context.Context) (*tree.Node, error)
}

// Snapshot is one full copy of the layout tree together with the time it was
// fetched. It belongs to a single decision and is discarded afterwards.
type Snapshot struct {
	Root      *tree.Node
	FetchedAt time.Time
}

// Counts summarises a snapshot for trace output.
type Counts struct {
	Outputs    int `json:"outputs"`
	Workspaces int `json:"workspaces"`
	Windows    int `json:"windows"`
}

// NewSnapshot fetches a fresh tree from src.
func NewSnapshot(ctx context.Context, src DataSource) (*Snapshot, error) {
	root, err := src.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tree: %w", err)
	}
	if root == nil {
		return nil, errors.New("fetch tree: empty reply")
	}
	return &Snapshot{Root: root, FetchedAt: time.Now()}, nil
}

// Workspace returns the workspace that contains id, or nil when id is absent
// or sits outside any workspace.
func (s *Snapshot) Workspace(id int64) *tree.Node {
	if s == nil {
		return nil
	}
	var found *tree.Node
	var search func(n, ws *tree.Node) bool
	search = func(n, ws *tree.Node) bool {
		if n == nil {
			return false
		}
		if n.Type == tree.TypeWorkspace {
			ws = n
		}
		if n.ID == id {
			found = ws
			return true
		}
		for _, child := range n.Nodes {
			if search(child, ws) {
				return true
			}
		}
		for _, child := range n.FloatingNodes {
			if search(child, ws) {
				return true
			}
		}
		return false
	}
	search(s.Root, nil)
	return found
}

// Counts tallies outputs, workspaces and windows in the snapshot.
func (s *Snapshot) Counts() Counts {
	var c Counts
	if s == nil {
		return c
	}
	tree.Walk(s.Root, func(n *tree.Node) bool {
		switch {
		case n.Type == tree.TypeOutput:
			c.Outputs++
		case n.Type == tree.TypeWorkspace:
			c.Workspaces++
		case n.IsWindow():
			c.Windows++
		}
		return true
	})
	return c
}
