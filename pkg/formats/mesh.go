package formats

import (
	"fmt"
	"math/bits"

	"github.com/Faultbox/midgard-assets/pkg/compress"
	"github.com/Faultbox/midgard-assets/pkg/container"
)

// VertexFormat names an interleaved vertex attribute layout.
type VertexFormat string

// VertexPNCV is position, normal, color (3 float32 each) then uv (2 float32).
const VertexPNCV VertexFormat = "PNCV_F32"

// IndexStride is the size of one index; indices are always uint32.
const IndexStride = 4

// Stride returns the vertex size of f in bytes, or 0 for unknown formats.
func (f VertexFormat) Stride() int {
	switch f {
	case VertexPNCV:
		return (3 + 3 + 3 + 2) * 4
	default:
		return 0
	}
}

func parseVertexFormat(s string) (VertexFormat, error) {
	f := VertexFormat(s)
	if f.Stride() == 0 {
		return "", fmt.Errorf("unknown vertex format %q", s)
	}
	return f, nil
}

// Bounds describes the spatial extent of a mesh: an axis-aligned box given
// by center and half-extents, and a sphere around the same center.
type Bounds struct {
	Origin  [3]float32 `json:"origin"`
	Extents [3]float32 `json:"extents"`
	Radius  float32    `json:"radius"`
}

// MeshInfo is the metadata of a MESH container.
type MeshInfo struct {
	VertexBufferSize uint64
	IndexBufferSize  uint64
	VertexFormat     VertexFormat
	VertexStride     uint32
	IndexStride      uint32
	Compression      compress.Mode

	// Bounds is nil when the metadata carries none.
	Bounds *Bounds
	Provenance
}

// PayloadSize is the uncompressed size of the vertex and index buffers.
func (m *MeshInfo) PayloadSize() uint64 {
	return m.VertexBufferSize + m.IndexBufferSize
}

// VertexCount returns the number of vertices in the vertex buffer.
func (m *MeshInfo) VertexCount() uint64 {
	if m.VertexStride == 0 {
		return 0
	}
	return m.VertexBufferSize / uint64(m.VertexStride)
}

// IndexCount returns the number of indices in the index buffer.
func (m *MeshInfo) IndexCount() uint64 {
	if m.IndexStride == 0 {
		return 0
	}
	return m.IndexBufferSize / uint64(m.IndexStride)
}

type meshWire struct {
	VertexBufferSize uint64        `json:"vertexBufferSize"`
	IndexBufferSize  uint64        `json:"indexBufferSize"`
	VertexFormat     VertexFormat  `json:"vertexFormat"`
	VertexStride     uint32        `json:"vertexStride"`
	IndexStride      uint32        `json:"indexStride"`
	Compression      compress.Mode `json:"compression"`
	Bounds           *Bounds       `json:"bounds,omitempty"`
	OriginalFile     string        `json:"originalFile"`
	SourceHash       string        `json:"sourceHash,omitempty"`
	AssetID          string        `json:"assetId,omitempty"`
}

// ReadMesh parses and validates the metadata of a mesh container.
func ReadMesh(c *container.Container) (*MeshInfo, error) {
	o, err := openMetadata(c, container.KindMesh)
	if err != nil {
		return nil, err
	}

	info := &MeshInfo{}
	if info.VertexBufferSize, err = o.u64("vertexBufferSize"); err != nil {
		return nil, err
	}
	if info.IndexBufferSize, err = o.u64("indexBufferSize"); err != nil {
		return nil, err
	}
	if info.VertexFormat, err = text(o, "vertexFormat", parseVertexFormat); err != nil {
		return nil, err
	}
	if info.VertexStride, err = o.u32("vertexStride"); err != nil {
		return nil, err
	}
	if info.IndexStride, err = o.u32("indexStride"); err != nil {
		return nil, err
	}
	if info.Compression, err = text(o, "compression", compress.ParseMode); err != nil {
		return nil, err
	}
	if b, ok, err := o.optChild("bounds"); err != nil {
		return nil, err
	} else if ok {
		info.Bounds = &Bounds{}
		if err := b.require("origin", &info.Bounds.Origin); err != nil {
			return nil, err
		}
		if err := b.require("extents", &info.Bounds.Extents); err != nil {
			return nil, err
		}
		if err := b.require("radius", &info.Bounds.Radius); err != nil {
			return nil, err
		}
	}
	if err := info.Provenance.read(o); err != nil {
		return nil, err
	}

	if err := info.validate(); err != nil {
		return nil, err
	}
	if info.Compression == compress.None && uint64(len(c.Payload)) != info.PayloadSize() {
		return nil, fmt.Errorf("%w: mesh payload is %d bytes, metadata declares %d+%d",
			ErrPayloadSize, len(c.Payload), info.VertexBufferSize, info.IndexBufferSize)
	}
	return info, nil
}

func (m *MeshInfo) validate() error {
	if int(m.VertexStride) != m.VertexFormat.Stride() {
		return fmt.Errorf("%w: vertex stride %d, %s requires %d",
			ErrInvalidValue, m.VertexStride, m.VertexFormat, m.VertexFormat.Stride())
	}
	if m.IndexStride != IndexStride {
		return fmt.Errorf("%w: index stride %d, want %d", ErrInvalidValue, m.IndexStride, IndexStride)
	}
	if m.VertexBufferSize%uint64(m.VertexStride) != 0 {
		return fmt.Errorf("%w: vertex buffer size %d is not a multiple of stride %d",
			ErrInvalidValue, m.VertexBufferSize, m.VertexStride)
	}
	if m.IndexBufferSize%uint64(m.IndexStride) != 0 {
		return fmt.Errorf("%w: index buffer size %d is not a multiple of stride %d",
			ErrInvalidValue, m.IndexBufferSize, m.IndexStride)
	}
	if _, carry := bits.Add64(m.VertexBufferSize, m.IndexBufferSize, 0); carry != 0 {
		return fmt.Errorf("%w: buffer sizes %d+%d overflow",
			ErrInvalidValue, m.VertexBufferSize, m.IndexBufferSize)
	}
	return nil
}

// WriteMesh builds a mesh container. The payload must already be in the
// encoding named by info.Compression.
func WriteMesh(info *MeshInfo, payload []byte) (*container.Container, error) {
	if info.VertexFormat.Stride() == 0 {
		return nil, fmt.Errorf("%w: vertex format %q", ErrInvalidValue, info.VertexFormat)
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	return build(container.KindMesh, meshWire{
		VertexBufferSize: info.VertexBufferSize,
		IndexBufferSize:  info.IndexBufferSize,
		VertexFormat:     info.VertexFormat,
		VertexStride:     info.VertexStride,
		IndexStride:      info.IndexStride,
		Compression:      info.Compression,
		Bounds:           info.Bounds,
		OriginalFile:     info.OriginalFile,
		SourceHash:       info.SourceHash,
		AssetID:          info.AssetID,
	}, payload)
}
