package formats

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/math"
)

// NodeMesh attaches geometry to a model node. Both paths are logical links
// relative to the model file.
type NodeMesh struct {
	MeshPath     string `json:"meshPath"`
	MaterialPath string `json:"materialPath,omitempty"`
}

// ModelInfo is the metadata of a MODL container: a scene graph flattened
// into maps keyed by node id. The payload is an array of 4x4 float32
// matrices addressed through NodeMatrixIndex.
type ModelInfo struct {
	NodeMatrixIndex map[uint64]uint64
	NodeName        map[uint64]string
	NodeParent      map[uint64]uint64
	NodeMesh        map[uint64]NodeMesh
	Provenance
}

type modelWire struct {
	NodeMatrixIndex map[uint64]uint64   `json:"nodeMatrixIndex"`
	NodeName        map[uint64]string   `json:"nodeName"`
	NodeParent      map[uint64]uint64   `json:"nodeParent"`
	NodeMesh        map[uint64]NodeMesh `json:"nodeMesh"`
	OriginalFile    string              `json:"originalFile"`
	SourceHash      string              `json:"sourceHash,omitempty"`
	AssetID         string              `json:"assetId,omitempty"`
}

// Nodes returns every node id mentioned by the model, sorted.
func (m *ModelInfo) Nodes() []uint64 {
	seen := make(map[uint64]struct{}, len(m.NodeMatrixIndex))
	for id := range m.NodeMatrixIndex {
		seen[id] = struct{}{}
	}
	for id := range m.NodeName {
		seen[id] = struct{}{}
	}
	for id := range m.NodeParent {
		seen[id] = struct{}{}
	}
	for id := range m.NodeMesh {
		seen[id] = struct{}{}
	}
	return sortedKeys(seen)
}

// ReadModel parses the metadata of a model container and validates it
// against the matrix payload and the node hierarchy.
func ReadModel(c *container.Container) (*ModelInfo, error) {
	o, err := openMetadata(c, container.KindModel)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{}
	if err := o.require("nodeMatrixIndex", &info.NodeMatrixIndex); err != nil {
		return nil, err
	}
	if err := o.require("nodeName", &info.NodeName); err != nil {
		return nil, err
	}
	if err := o.require("nodeParent", &info.NodeParent); err != nil {
		return nil, err
	}
	if info.NodeMesh, err = readNodeMesh(o); err != nil {
		return nil, err
	}
	if err := info.Provenance.read(o); err != nil {
		return nil, err
	}

	if err := info.validate(len(c.Payload)); err != nil {
		return nil, err
	}
	return info, nil
}

func readNodeMesh(o object) (map[uint64]NodeMesh, error) {
	var raw map[uint64]json.RawMessage
	if err := o.require("nodeMesh", &raw); err != nil {
		return nil, err
	}
	nodes := make(map[uint64]NodeMesh, len(raw))
	for id, v := range raw {
		entry, err := parseObject(v)
		if err != nil {
			return nil, fmt.Errorf("nodeMesh.%d: %w", id, err)
		}
		entry.path = fmt.Sprintf("nodeMesh.%d", id)

		var nm NodeMesh
		if nm.MeshPath, err = entry.str("meshPath"); err != nil {
			return nil, err
		}
		if nm.MaterialPath, _, err = entry.optStr("materialPath"); err != nil {
			return nil, err
		}
		nodes[id] = nm
	}
	return nodes, nil
}

// validate checks the model against a payload of payloadLen bytes.
func (m *ModelInfo) validate(payloadLen int) error {
	if payloadLen%math.Mat4Size != 0 {
		return fmt.Errorf("%w: model payload is %d bytes, not a multiple of %d",
			ErrPayloadSize, payloadLen, math.Mat4Size)
	}
	count := uint64(payloadLen / math.Mat4Size)

	for _, id := range sortedKeys(m.NodeMatrixIndex) {
		if idx := m.NodeMatrixIndex[id]; idx >= count {
			return fmt.Errorf("%w: node %d uses matrix %d of %d", ErrMatrixIndex, id, idx, count)
		}
	}
	for _, id := range m.Nodes() {
		if _, ok := m.NodeMatrixIndex[id]; !ok {
			return fmt.Errorf("%w: node %d has no matrix index", ErrMissingField, id)
		}
	}
	_, err := BuildGraph(m.NodeMatrixIndex, m.NodeParent)
	return err
}

// WriteModel builds a model container over an encoded matrix payload.
func WriteModel(info *ModelInfo, payload []byte) (*container.Container, error) {
	if err := info.validate(len(payload)); err != nil {
		return nil, err
	}
	return build(container.KindModel, modelWire{
		NodeMatrixIndex: orEmpty(info.NodeMatrixIndex),
		NodeName:        orEmpty(info.NodeName),
		NodeParent:      orEmpty(info.NodeParent),
		NodeMesh:        orEmpty(info.NodeMesh),
		OriginalFile:    info.OriginalFile,
		SourceHash:      info.SourceHash,
		AssetID:         info.AssetID,
	}, payload)
}

// orEmpty keeps required maps from being written as null.
func orEmpty[V any](m map[uint64]V) map[uint64]V {
	if m == nil {
		return map[uint64]V{}
	}
	return m
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
