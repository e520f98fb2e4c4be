package formats

import (
	"fmt"
	"sort"
)

// Graph is the parent/child adjacency of a model's node hierarchy.
type Graph struct {
	// Roots are the nodes without a parent, in ascending id order.
	Roots []uint64
	// Children lists each node's children in ascending id order.
	Children map[uint64][]uint64
	// Order visits every node depth-first with parents before children.
	Order []uint64
}

// BuildGraph inverts a child-to-parent map into a forest. Every node must
// be a key of nodes; a parent outside that set is rejected, as is any node
// that is its own ancestor.
func BuildGraph[V any](nodes map[uint64]V, parent map[uint64]uint64) (*Graph, error) {
	g := &Graph{Children: make(map[uint64][]uint64)}

	for _, id := range sortedKeys(parent) {
		p := parent[id]
		if _, ok := nodes[id]; !ok {
			return nil, fmt.Errorf("%w: parent entry for unknown node %d", ErrInvalidValue, id)
		}
		if _, ok := nodes[p]; !ok {
			return nil, fmt.Errorf("%w: node %d has unknown parent %d", ErrInvalidValue, id, p)
		}
		if p == id {
			return nil, fmt.Errorf("%w: node %d is its own parent", ErrCycle, id)
		}
		g.Children[p] = append(g.Children[p], id)
	}

	for _, id := range sortedKeys(nodes) {
		if _, ok := parent[id]; !ok {
			g.Roots = append(g.Roots, id)
		}
	}

	// Each node has at most one parent, so every node is reached exactly once
	// from the roots unless its ancestor chain loops.
	g.Order = make([]uint64, 0, len(nodes))
	stack := make([]uint64, 0, len(g.Roots))
	for i := len(g.Roots) - 1; i >= 0; i-- {
		stack = append(stack, g.Roots[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		g.Order = append(g.Order, id)

		children := g.Children[id]
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	if len(g.Order) != len(nodes) {
		visited := make(map[uint64]bool, len(g.Order))
		for _, id := range g.Order {
			visited[id] = true
		}
		var stuck []uint64
		for id := range nodes {
			if !visited[id] {
				stuck = append(stuck, id)
			}
		}
		sort.Slice(stuck, func(i, j int) bool { return stuck[i] < stuck[j] })
		return nil, fmt.Errorf("%w: nodes %v are unreachable from any root", ErrCycle, stuck)
	}
	return g, nil
}
