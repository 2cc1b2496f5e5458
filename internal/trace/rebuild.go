package trace

import (
	"fmt"
	"sort"
)

// TreeNode is an execution node with resolved structural children, produced
// by Rebuild for consumers that need the tree rather than the flat list.
type TreeNode struct {
	Node
	Children    []*TreeNode // branches opened by delegations from this node
	Next        *TreeNode   // next step in the same context's timeline
	Annotations []*TreeNode // validator annotations judging this node
}

// Tree is the reconstructed execution tree plus an id index.
type Tree struct {
	Roots []*TreeNode
	Index map[NodeID]*TreeNode
}

// Rebuild reconstructs the tree from a flat collection of nodes in any
// order: nodes are sorted by natural id order, then linked by their edge
// fields in a single pass. It verifies the structural invariant that every
// agent step carries at most one of the parent or previous-sibling edges.
func Rebuild(nodes []Node) (*Tree, error) {
	sorted := append([]Node(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.Less(sorted[j].ID) })

	t := &Tree{Index: make(map[NodeID]*TreeNode, len(sorted))}
	for i := range sorted {
		n := &TreeNode{Node: sorted[i]}
		if _, dup := t.Index[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		t.Index[n.ID] = n
	}

	for _, n := range t.Index {
		if n.Kind == KindValidatorStep {
			if n.ValidatesNodeID == nil {
				return nil, fmt.Errorf("validator node %q has no subject", n.ID)
			}
			subject, ok := t.Index[*n.ValidatesNodeID]
			if !ok {
				return nil, fmt.Errorf("validator node %q judges unknown node %q", n.ID, *n.ValidatesNodeID)
			}
			subject.Annotations = append(subject.Annotations, n)
			continue
		}
		if n.ParentID != nil && n.PrevSiblingID != nil {
			return nil, fmt.Errorf("node %q has both parent and sibling edges", n.ID)
		}
		switch {
		case n.ParentID != nil:
			parent, ok := t.Index[*n.ParentID]
			if !ok {
				return nil, fmt.Errorf("node %q has unknown parent %q", n.ID, *n.ParentID)
			}
			parent.Children = append(parent.Children, n)
		case n.PrevSiblingID != nil:
			prev, ok := t.Index[*n.PrevSiblingID]
			if !ok {
				return nil, fmt.Errorf("node %q has unknown sibling %q", n.ID, *n.PrevSiblingID)
			}
			prev.Next = n
		default:
			t.Roots = append(t.Roots, n)
		}
	}

	sort.Slice(t.Roots, func(i, j int) bool { return t.Roots[i].ID.Less(t.Roots[j].ID) })
	for _, n := range t.Index {
		children := n.Children
		sort.Slice(children, func(i, j int) bool { return children[i].ID.Less(children[j].ID) })
		ann := n.Annotations
		sort.Slice(ann, func(i, j int) bool { return ann[i].ID.Less(ann[j].ID) })
	}
	return t, nil
}
