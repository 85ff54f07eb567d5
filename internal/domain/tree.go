package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Tree validation errors
var (
	ErrNoRoot        = errors.New("tree has no root")
	ErrMultipleRoots = errors.New("tree has more than one root")
	ErrDanglingNode  = errors.New("node references a missing parent")
	ErrOrderGap      = errors.New("sibling order is not contiguous")
	ErrCycleDetected = errors.New("parent chain contains a cycle")
)

// FindRoot returns the node with no parent
func FindRoot(nodes map[string]Node) (Node, bool) {
	for _, n := range nodes {
		if n.IsRoot() {
			return n, true
		}
	}
	return Node{}, false
}

// Children returns the direct children of parentShortID sorted by OrderIndex,
// falling back to ShortID so the result is deterministic when indexes collide.
func Children(nodes map[string]Node, parentShortID string) []Node {
	var out []Node
	for _, n := range nodes {
		if n.ParentShortID == parentShortID && !n.IsRoot() {
			out = append(out, n)
		}
	}
	SortSiblings(out)
	return out
}

// SortSiblings sorts nodes in place by OrderIndex, then ShortID
func SortSiblings(nodes []Node) {
	slices.SortStableFunc(nodes, func(a, b Node) int {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex - b.OrderIndex
		}
		return strings.Compare(a.ShortID, b.ShortID)
	})
}

// Ancestors returns the parent chain of a node, nearest first.
// The walk stops at the root, at a missing parent, or when a cycle is found.
func Ancestors(nodes map[string]Node, shortID string) []Node {
	var out []Node
	seen := map[string]bool{shortID: true}

	n, ok := nodes[shortID]
	for ok && !n.IsRoot() {
		if seen[n.ParentShortID] {
			break
		}
		seen[n.ParentShortID] = true

		n, ok = nodes[n.ParentShortID]
		if ok {
			out = append(out, n)
		}
	}
	return out
}

// IsAncestor reports whether ancestorID appears in the parent chain of shortID
func IsAncestor(nodes map[string]Node, ancestorID, shortID string) bool {
	for _, a := range Ancestors(nodes, shortID) {
		if a.ShortID == ancestorID {
			return true
		}
	}
	return false
}

// Descendants returns every node below shortID in leaves-first order:
// each node appears after all of its own descendants.
func Descendants(nodes map[string]Node, shortID string) []Node {
	var out []Node
	seen := map[string]bool{shortID: true}

	var walk func(id string)
	walk = func(id string) {
		for _, child := range Children(nodes, id) {
			if seen[child.ShortID] {
				continue
			}
			seen[child.ShortID] = true
			walk(child.ShortID)
			out = append(out, child)
		}
	}
	walk(shortID)
	return out
}

// WouldCreateCycle reports whether placing movedID under newParentID would
// put the node under itself or one of its own descendants.
func WouldCreateCycle(nodes map[string]Node, movedID, newParentID string) bool {
	if movedID == newParentID {
		return true
	}
	return IsAncestor(nodes, movedID, newParentID)
}

// Depth returns the number of ancestors of a node
func Depth(nodes map[string]Node, shortID string) int {
	return len(Ancestors(nodes, shortID))
}

// ValidateTree checks the structural invariants: a single root, resolvable
// parents, no cycles and dense zero-based sibling order.
func ValidateTree(nodes map[string]Node) error {
	if len(nodes) == 0 {
		return nil
	}

	roots := 0
	for _, n := range nodes {
		if n.IsRoot() {
			roots++
			continue
		}
		if _, ok := nodes[n.ParentShortID]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrDanglingNode, n.ShortID, n.ParentShortID)
		}
	}
	switch {
	case roots == 0:
		return ErrNoRoot
	case roots > 1:
		return ErrMultipleRoots
	}

	root, _ := FindRoot(nodes)
	reachable := len(Descendants(nodes, root.ShortID)) + 1
	if reachable != len(nodes) {
		return fmt.Errorf("%w: %d of %d nodes reachable from root", ErrCycleDetected, reachable, len(nodes))
	}

	for id := range nodes {
		for i, child := range Children(nodes, id) {
			if child.OrderIndex != i {
				return fmt.Errorf("%w: children of %s at %s", ErrOrderGap, id, child.ShortID)
			}
		}
	}
	return nil
}
