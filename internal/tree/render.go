package tree

import (
	"encoding/json"
	"fmt"
)

// FilteredNode is the reduced view of a node used for debug output.
type FilteredNode struct {
	Layout      Layout          `json:"layout"`
	Name        string          `json:"name"`
	Type        NodeType        `json:"type"`
	Orientation string          `json:"orientation"`
	ID          int64           `json:"id"`
	Nodes       []*FilteredNode `json:"nodes"`
}

// Filter keeps layout, name, type, orientation, id and tiled children.
func Filter(n *Node) *FilteredNode {
	if n == nil {
		return nil
	}
	out := &FilteredNode{
		Layout:      n.Layout,
		Name:        n.Name,
		Type:        n.Type,
		Orientation: n.Orientation,
		ID:          n.ID,
		Nodes:       make([]*FilteredNode, 0, len(n.Nodes)),
	}
	for _, child := range n.Nodes {
		if child == nil {
			continue
		}
		out.Nodes = append(out.Nodes, Filter(child))
	}
	return out
}

// Render returns the filtered tree as indented JSON.
func Render(n *Node) (string, error) {
	if n == nil {
		return "", fmt.Errorf("render tree: nil node")
	}
	data, err := json.MarshalIndent(Filter(n), "", "  ")
	if err != nil {
		return "", fmt.Errorf("render tree: %w", err)
	}
	return string(data), nil
}
