package tree

// FindParent returns the node whose tiled children include id. It returns nil
// when id is the root itself or does not appear in the tiled tree. Children of
// the current node are compared before descending, so the first node returned
// is the immediate parent.
func FindParent(root *Node, id int64) *Node {
	if root == nil || root.ID == id {
		return nil
	}
	for _, child := range root.Nodes {
		if child == nil {
			continue
		}
		if child.ID == id {
			return root
		}
		if parent := FindParent(child, id); parent != nil {
			return parent
		}
	}
	return nil
}

// FindSibling returns the first child of id's parent that is not id. Callers
// should only rely on the result when the parent has exactly two children;
// with more, which sibling comes back is unspecified.
func FindSibling(root *Node, id int64) *Node {
	parent := FindParent(root, id)
	if parent == nil {
		return nil
	}
	for _, child := range parent.Nodes {
		if child != nil && child.ID != id {
			return child
		}
	}
	return nil
}

// AncestorMatches walks from root toward id, handing each child the result of
// pred evaluated on its parent, and returns the value that reaches id. In
// practice that is pred applied to id's immediate parent, or seed when id is
// the root. It returns false when id is absent.
func AncestorMatches(root *Node, id int64, seed bool, pred func(*Node) bool) bool {
	if root == nil {
		return false
	}
	if root.ID == id {
		return seed
	}
	carried := pred(root)
	for _, child := range root.Nodes {
		if child != nil && AncestorMatches(child, id, carried, pred) {
			return true
		}
	}
	return false
}

// Find returns the node with id anywhere in the tree, floating containers
// included.
func Find(root *Node, id int64) *Node {
	var found *Node
	Walk(root, func(n *Node) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits root and its descendants depth first, tiled children before
// floating ones, until fn returns false.
func Walk(root *Node, fn func(*Node) bool) {
	walk(root, fn)
}

func walk(n *Node, fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, child := range n.Nodes {
		if !walk(child, fn) {
			return false
		}
	}
	for _, child := range n.FloatingNodes {
		if !walk(child, fn) {
			return false
		}
	}
	return true
}
