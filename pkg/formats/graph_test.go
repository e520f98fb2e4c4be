package formats

import (
	"errors"
	"reflect"
	"testing"
)

func nodeSet(ids ...uint64) map[uint64]struct{} {
	m := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestBuildGraph(t *testing.T) {
	tests := []struct {
		name         string
		nodes        map[uint64]struct{}
		parent       map[uint64]uint64
		wantRoots    []uint64
		wantOrder    []uint64
		wantChildren map[uint64][]uint64
	}{
		{
			name:         "empty",
			nodes:        nodeSet(),
			parent:       nil,
			wantRoots:    nil,
			wantOrder:    []uint64{},
			wantChildren: map[uint64][]uint64{},
		},
		{
			name:         "flat",
			nodes:        nodeSet(3, 1, 2),
			parent:       map[uint64]uint64{},
			wantRoots:    []uint64{1, 2, 3},
			wantOrder:    []uint64{1, 2, 3},
			wantChildren: map[uint64][]uint64{},
		},
		{
			name:         "chain",
			nodes:        nodeSet(0, 1, 2),
			parent:       map[uint64]uint64{2: 1, 1: 0},
			wantRoots:    []uint64{0},
			wantOrder:    []uint64{0, 1, 2},
			wantChildren: map[uint64][]uint64{0: {1}, 1: {2}},
		},
		{
			name:         "forest",
			nodes:        nodeSet(0, 1, 2, 10, 11),
			parent:       map[uint64]uint64{2: 0, 1: 0, 11: 10},
			wantRoots:    []uint64{0, 10},
			wantOrder:    []uint64{0, 1, 2, 10, 11},
			wantChildren: map[uint64][]uint64{0: {1, 2}, 10: {11}},
		},
		{
			name:         "depth first",
			nodes:        nodeSet(0, 1, 2, 3),
			parent:       map[uint64]uint64{1: 0, 3: 0, 2: 1},
			wantRoots:    []uint64{0},
			wantOrder:    []uint64{0, 1, 2, 3},
			wantChildren: map[uint64][]uint64{0: {1, 3}, 1: {2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := BuildGraph(tt.nodes, tt.parent)
			if err != nil {
				t.Fatalf("BuildGraph() error: %v", err)
			}
			if !reflect.DeepEqual(g.Roots, tt.wantRoots) {
				t.Errorf("Roots = %v, want %v", g.Roots, tt.wantRoots)
			}
			if !reflect.DeepEqual(g.Order, tt.wantOrder) {
				t.Errorf("Order = %v, want %v", g.Order, tt.wantOrder)
			}
			if !reflect.DeepEqual(g.Children, tt.wantChildren) {
				t.Errorf("Children = %v, want %v", g.Children, tt.wantChildren)
			}
		})
	}
}

func TestBuildGraphErrors(t *testing.T) {
	tests := []struct {
		name    string
		nodes   map[uint64]struct{}
		parent  map[uint64]uint64
		wantErr error
	}{
		{"self loop", nodeSet(0), map[uint64]uint64{0: 0}, ErrCycle},
		{"two cycle", nodeSet(0, 1), map[uint64]uint64{0: 1, 1: 0}, ErrCycle},
		{"long cycle", nodeSet(0, 1, 2, 3), map[uint64]uint64{1: 2, 2: 3, 3: 1}, ErrCycle},
		{"tail into cycle", nodeSet(0, 1, 2), map[uint64]uint64{0: 1, 1: 2, 2: 1}, ErrCycle},
		{"unknown parent", nodeSet(0), map[uint64]uint64{0: 5}, ErrInvalidValue},
		{"unknown child", nodeSet(0), map[uint64]uint64{4: 0}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.nodes, tt.parent)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildGraph() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
