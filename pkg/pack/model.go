package pack

import (
	"fmt"
	"maps"
	"sort"

	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/math"
)

// NodeTransform is the local transform of one node.
type NodeTransform struct {
	Node   uint64
	Matrix math.Mat4
}

// Model is a scene graph before packing or after unpacking. Transforms
// are stored in order; a node's matrix index is its position in the slice.
type Model struct {
	Parent     map[uint64]uint64
	Name       map[uint64]string
	Mesh       map[uint64]formats.NodeMesh
	Transforms []NodeTransform
	formats.Provenance
}

// PackModel flattens a scene graph. Every node named in Parent (as child
// or parent), Name or Mesh needs a transform. The payload is never
// compressed.
func PackModel(m *Model) (*container.Container, error) {
	index := make(map[uint64]uint64, len(m.Transforms))
	payload := make([]byte, 0, len(m.Transforms)*math.Mat4Size)
	for i, t := range m.Transforms {
		if _, dup := index[t.Node]; dup {
			return nil, fmt.Errorf("%w: node %d", ErrDuplicateNode, t.Node)
		}
		index[t.Node] = uint64(i)
		payload = t.Matrix.AppendBytes(payload)
	}

	check := func(what string, id uint64) error {
		if _, ok := index[id]; !ok {
			return fmt.Errorf("%w: node %d (%s)", ErrMissingTransform, id, what)
		}
		return nil
	}
	for _, id := range sortedIDs(m.Parent) {
		if err := check("child", id); err != nil {
			return nil, err
		}
		if err := check("parent", m.Parent[id]); err != nil {
			return nil, err
		}
	}
	for _, id := range sortedIDs(m.Name) {
		if err := check("name", id); err != nil {
			return nil, err
		}
	}
	for _, id := range sortedIDs(m.Mesh) {
		if err := check("mesh", id); err != nil {
			return nil, err
		}
	}

	return formats.WriteModel(&formats.ModelInfo{
		NodeMatrixIndex: index,
		NodeName:        maps.Clone(m.Name),
		NodeParent:      maps.Clone(m.Parent),
		NodeMesh:        maps.Clone(m.Mesh),
		Provenance:      m.Provenance,
	}, payload)
}

// UnpackModel reads a model container. Transforms come back ordered by
// matrix index, then node id.
func UnpackModel(c *container.Container) (*Model, error) {
	info, err := formats.ReadModel(c)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Parent:     info.NodeParent,
		Name:       info.NodeName,
		Mesh:       info.NodeMesh,
		Transforms: make([]NodeTransform, 0, len(info.NodeMatrixIndex)),
		Provenance: info.Provenance,
	}
	for id, idx := range info.NodeMatrixIndex {
		off := int(idx) * math.Mat4Size
		m.Transforms = append(m.Transforms, NodeTransform{
			Node:   id,
			Matrix: math.Mat4FromBytes(c.Payload[off : off+math.Mat4Size]),
		})
	}
	sort.Slice(m.Transforms, func(i, j int) bool {
		a, b := m.Transforms[i], m.Transforms[j]
		ia, ib := info.NodeMatrixIndex[a.Node], info.NodeMatrixIndex[b.Node]
		if ia != ib {
			return ia < ib
		}
		return a.Node < b.Node
	})
	return m, nil
}

// Local returns the local transform of a node.
func (m *Model) Local(id uint64) (math.Mat4, bool) {
	for _, t := range m.Transforms {
		if t.Node == id {
			return t.Matrix, true
		}
	}
	return math.Mat4{}, false
}

// Graph builds the node hierarchy, rejecting cycles.
func (m *Model) Graph() (*formats.Graph, error) {
	nodes := make(map[uint64]struct{}, len(m.Transforms))
	for _, t := range m.Transforms {
		nodes[t.Node] = struct{}{}
	}
	return formats.BuildGraph(nodes, m.Parent)
}

// WorldTransforms composes every node's local transform with its
// ancestors', parents first.
func (m *Model) WorldTransforms() (map[uint64]math.Mat4, error) {
	g, err := m.Graph()
	if err != nil {
		return nil, err
	}
	local := make(map[uint64]math.Mat4, len(m.Transforms))
	for _, t := range m.Transforms {
		local[t.Node] = t.Matrix
	}

	world := make(map[uint64]math.Mat4, len(g.Order))
	for _, id := range g.Order {
		if p, ok := m.Parent[id]; ok {
			world[id] = world[p].Mul(local[id])
		} else {
			world[id] = local[id]
		}
	}
	return world, nil
}

func sortedIDs[V any](m map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
