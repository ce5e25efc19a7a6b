package tree

import (
	"github.com/swaytab/swaytab/internal/layout"
)

// Layout is the arrangement a container applies to its children.
type Layout string

const (
	LayoutSplitH   Layout = "splith"
	LayoutSplitV   Layout = "splitv"
	LayoutTabbed   Layout = "tabbed"
	LayoutStacked  Layout = "stacked"
	LayoutNone     Layout = "none"
	LayoutOutput   Layout = "output"
	LayoutDockArea Layout = "dockarea"
)

// NodeType is the role of a node in the tree.
type NodeType string

const (
	TypeRoot        NodeType = "root"
	TypeOutput      NodeType = "output"
	TypeWorkspace   NodeType = "workspace"
	TypeCon         NodeType = "con"
	TypeFloatingCon NodeType = "floating_con"
	TypeDockArea    NodeType = "dockarea"
)

// Node is one element of a GET_TREE snapshot. A snapshot is treated as
// immutable once decoded; pointers into it are only valid for the decision
// that fetched it.
type Node struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Type          NodeType    `json:"type"`
	Layout        Layout      `json:"layout"`
	Orientation   string      `json:"orientation"`
	Rect          layout.Rect `json:"rect"`
	Focused       bool        `json:"focused"`
	AppID         string      `json:"app_id,omitempty"`
	Nodes         []*Node     `json:"nodes"`
	FloatingNodes []*Node     `json:"floating_nodes"`
}

// IsWindow reports whether n is a leaf container holding a client.
func (n *Node) IsWindow() bool {
	return n != nil && (n.Type == TypeCon || n.Type == TypeFloatingCon) && len(n.Nodes) == 0
}

// IndexOf returns the position of the direct child with id, or -1.
func (n *Node) IndexOf(id int64) int {
	if n == nil {
		return -1
	}
	for i, child := range n.Nodes {
		if child != nil && child.ID == id {
			return i
		}
	}
	return -1
}

// ChildCount returns the number of tiled children of n.
func ChildCount(n *Node) int {
	if n == nil {
		return 0
	}
	return len(n.Nodes)
}

// IsHorizontalWorkspace reports whether n is a workspace laid out splith.
func IsHorizontalWorkspace(n *Node) bool {
	return n != nil && n.Type == TypeWorkspace && n.Layout == LayoutSplitH
}

// IsTabbedOrStacked reports whether n shows one child at a time.
func IsTabbedOrStacked(n *Node) bool {
	return n != nil && (n.Layout == LayoutTabbed || n.Layout == LayoutStacked)
}
