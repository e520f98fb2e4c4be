package pack

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/Faultbox/midgard-assets/pkg/compress"
	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/math"
)

// Vertex is one interleaved vertex of the PNCV_F32 layout.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	Color    [3]float32
	UV       [2]float32
}

// White is the vertex color used when a source has none.
var White = [3]float32{1, 1, 1}

// MeshSource holds per-attribute arrays as produced by a scene importer.
// Normals, Colors and UVs may be empty; when present they must have one
// entry per position.
type MeshSource struct {
	Positions [][3]float32
	Normals   [][3]float32
	Colors    [][3]float32
	UVs       [][2]float32
	Indices   []uint32
}

// Vertices interleaves the source arrays, filling in white for missing
// colors and zero for missing normals and UVs.
func (s *MeshSource) Vertices() ([]Vertex, error) {
	n := len(s.Positions)
	if n == 0 {
		return nil, fmt.Errorf("%w: mesh has no positions", ErrEmpty)
	}
	for _, a := range []struct {
		name string
		len  int
	}{
		{"normals", len(s.Normals)},
		{"colors", len(s.Colors)},
		{"uvs", len(s.UVs)},
	} {
		if a.len != 0 && a.len != n {
			return nil, fmt.Errorf("%w: %d %s for %d positions", ErrRagged, a.len, a.name, n)
		}
	}

	vertices := make([]Vertex, n)
	for i := range vertices {
		v := &vertices[i]
		v.Position = s.Positions[i]
		v.Color = White
		if len(s.Normals) > 0 {
			v.Normal = s.Normals[i]
		}
		if len(s.Colors) > 0 {
			v.Color = s.Colors[i]
		}
		if len(s.UVs) > 0 {
			v.UV = s.UVs[i]
		}
	}
	return vertices, nil
}

// MeshOptions control how a mesh is stored.
type MeshOptions struct {
	// RegenerateNormals replaces every vertex normal with the flat normal of
	// the last triangle that references it.
	RegenerateNormals bool
	Compression       compress.Mode
	formats.Provenance
}

// DefaultMeshOptions regenerates normals and compresses with LZ4.
func DefaultMeshOptions() MeshOptions {
	return MeshOptions{RegenerateNormals: true, Compression: compress.LZ4}
}

// Mesh is an unpacked mesh.
type Mesh struct {
	Info     *formats.MeshInfo
	Vertices []Vertex
	Indices  []uint32
}

// PackMesh interleaves src and packs it.
func PackMesh(src *MeshSource, opts MeshOptions) (*container.Container, error) {
	vertices, err := src.Vertices()
	if err != nil {
		return nil, err
	}
	if len(src.Normals) == 0 {
		// Nothing to keep.
		opts.RegenerateNormals = true
	}
	return PackVertices(vertices, src.Indices, opts)
}

// PackVertices packs an interleaved vertex array and a triangle list. The
// vertex slice is not modified; regenerated normals are written to a copy.
func PackVertices(vertices []Vertex, indices []uint32, opts MeshOptions) (*container.Container, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("%w: mesh has no vertices", ErrEmpty)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: mesh has no indices", ErrEmpty)
	}
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices is not a whole number of triangles", ErrRagged, len(indices))
	}
	if err := checkIndices(indices, len(vertices)); err != nil {
		return nil, err
	}

	if opts.RegenerateNormals {
		vertices = append([]Vertex(nil), vertices...)
		FlatNormals(vertices, indices)
	}

	stride := formats.VertexPNCV.Stride()
	raw := make([]byte, 0, len(vertices)*stride+len(indices)*formats.IndexStride)
	for i := range vertices {
		raw = vertices[i].appendTo(raw)
	}
	vertexBytes := len(raw)
	for _, idx := range indices {
		raw = binary.LittleEndian.AppendUint32(raw, idx)
	}

	payload, err := compress.Compress(opts.Compression, raw)
	if err != nil {
		return nil, err
	}
	bounds := ComputeBounds(vertices)
	return formats.WriteMesh(&formats.MeshInfo{
		VertexBufferSize: uint64(vertexBytes),
		IndexBufferSize:  uint64(len(raw) - vertexBytes),
		VertexFormat:     formats.VertexPNCV,
		VertexStride:     uint32(stride),
		IndexStride:      formats.IndexStride,
		Compression:      opts.Compression,
		Bounds:           &bounds,
		Provenance:       opts.Provenance,
	}, payload)
}

// UnpackMesh reads a mesh container, decompresses it and splits the buffer
// at the vertex/index boundary.
func UnpackMesh(c *container.Container) (*Mesh, error) {
	info, err := formats.ReadMesh(c)
	if err != nil {
		return nil, err
	}
	size, err := payloadLen(info.PayloadSize())
	if err != nil {
		return nil, err
	}
	raw, err := compress.Decompress(info.Compression, c.Payload, size)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %w", info.OriginalFile, err)
	}

	vertexBytes, indexBytes := raw[:info.VertexBufferSize], raw[info.VertexBufferSize:]
	stride := int(info.VertexStride)
	m := &Mesh{
		Info:     info,
		Vertices: make([]Vertex, len(vertexBytes)/stride),
		Indices:  make([]uint32, len(indexBytes)/formats.IndexStride),
	}
	for i := range m.Vertices {
		m.Vertices[i] = readVertex(vertexBytes[i*stride:])
	}
	for i := range m.Indices {
		m.Indices[i] = binary.LittleEndian.Uint32(indexBytes[i*formats.IndexStride:])
	}
	if err := checkIndices(m.Indices, len(m.Vertices)); err != nil {
		return nil, err
	}
	return m, nil
}

func checkIndices(indices []uint32, vertexCount int) error {
	for i, idx := range indices {
		if uint64(idx) >= uint64(vertexCount) {
			return fmt.Errorf("%w: index %d at position %d, mesh has %d vertices",
				ErrIndexRange, idx, i, vertexCount)
		}
	}
	return nil
}

// FlatNormals overwrites the normal of every vertex referenced by a
// triangle with that triangle's face normal. A vertex shared by several
// triangles keeps the normal of the last one. Indices must be in range.
func FlatNormals(vertices []Vertex, indices []uint32) {
	for t := 0; t+2 < len(indices); t += 3 {
		i0, i1, i2 := indices[t], indices[t+1], indices[t+2]
		n := math.FaceNormal(
			math.V3(vertices[i0].Position),
			math.V3(vertices[i1].Position),
			math.V3(vertices[i2].Position),
		).Array()
		vertices[i0].Normal = n
		vertices[i1].Normal = n
		vertices[i2].Normal = n
	}
}

// ComputeBounds returns the axis-aligned box of the vertex positions and
// the radius of the sphere around its center that contains them all.
func ComputeBounds(vertices []Vertex) formats.Bounds {
	if len(vertices) == 0 {
		return formats.Bounds{}
	}
	lo := math.V3(vertices[0].Position)
	hi := lo
	for i := 1; i < len(vertices); i++ {
		p := math.V3(vertices[i].Position)
		lo = lo.Min(p)
		hi = hi.Max(p)
	}
	origin := lo.Add(hi).Scale(0.5)

	var radius float32
	for i := range vertices {
		if d := origin.Distance(math.V3(vertices[i].Position)); d > radius {
			radius = d
		}
	}
	return formats.Bounds{
		Origin:  origin.Array(),
		Extents: hi.Sub(lo).Scale(0.5).Array(),
		Radius:  radius,
	}
}

func (v *Vertex) appendTo(dst []byte) []byte {
	for _, f := range v.Position {
		dst = binary.LittleEndian.AppendUint32(dst, gomath.Float32bits(f))
	}
	for _, f := range v.Normal {
		dst = binary.LittleEndian.AppendUint32(dst, gomath.Float32bits(f))
	}
	for _, f := range v.Color {
		dst = binary.LittleEndian.AppendUint32(dst, gomath.Float32bits(f))
	}
	for _, f := range v.UV {
		dst = binary.LittleEndian.AppendUint32(dst, gomath.Float32bits(f))
	}
	return dst
}

func readVertex(b []byte) Vertex {
	var f [11]float32
	for i := range f {
		f[i] = gomath.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return Vertex{
		Position: [3]float32{f[0], f[1], f[2]},
		Normal:   [3]float32{f[3], f[4], f[5]},
		Color:    [3]float32{f[6], f[7], f[8]},
		UV:       [2]float32{f[9], f[10]},
	}
}
