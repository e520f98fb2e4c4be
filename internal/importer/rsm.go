package importer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// RSMTextureDir is where RSM texture names are rooted in a game data tree.
const RSMTextureDir = "data/texture"

// Sanity limits on counts read from RSM files.
const (
	rsmMaxTextures = 1000
	rsmMaxNodes    = 10000
	rsmMaxElements = 100000
	rsmMaxKeys     = 10000
)

type rsmTexCoord struct {
	color [4]uint8
	uv    [2]float32
}

type rsmFace struct {
	vertices  [3]uint16
	texCoords [3]uint16
	texture   uint16
	twoSided  bool
}

type rsmNode struct {
	name      string
	parent    string
	textures  []int32
	mat3      [9]float32
	offset    [3]float32
	position  [3]float32
	rotAngle  float32
	rotAxis   [3]float32
	scale     [3]float32
	vertices  [][3]float32
	texCoords []rsmTexCoord
	faces     []rsmFace
	// firstRot is the first rotation keyframe, used as the rest pose.
	firstRot *[4]float32
}

type rsmModel struct {
	major, minor uint8
	alpha        float32
	textures     []string
	nodes        []rsmNode
}

func (m *rsmModel) atLeast(major, minor uint8) bool {
	return m.major > major || (m.major == major && m.minor >= minor)
}

// binReader reads little-endian values and keeps the first error.
type binReader struct {
	r   *bytes.Reader
	err error
}

func (b *binReader) read(v any) {
	if b.err != nil {
		return
	}
	if err := binary.Read(b.r, binary.LittleEndian, v); err != nil {
		b.err = fmt.Errorf("truncated RSM data: %w", err)
	}
}

func (b *binReader) skip(n int) {
	buf := make([]byte, n)
	b.read(buf)
}

// name reads a fixed 40-byte, NUL-terminated legacy string.
func (b *binReader) name() string {
	var buf [40]byte
	b.read(&buf)
	return encoding.CString(buf[:])
}

func (b *binReader) count(what string, limit int32) int {
	var n int32
	b.read(&n)
	if b.err == nil && (n < 0 || n > limit) {
		b.err = fmt.Errorf("%s count %d out of range", what, n)
	}
	if b.err != nil {
		return 0
	}
	return int(n)
}

// DecodeRSM imports a legacy RSM 1.x model. Texture images are returned as
// external references rooted at RSMTextureDir. Node positions, rotations and
// scales form the hierarchy; each node's offset and 3x3 matrix are baked
// into its vertices since children do not inherit them. The first rotation
// keyframe, when present, is taken as the rest pose.
func DecodeRSM(data []byte) (*Scene, error) {
	m, err := parseRSM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: rsm: %w", ErrImport, err)
	}
	s, err := m.scene()
	if err != nil {
		return nil, fmt.Errorf("%w: rsm: %w", ErrImport, err)
	}
	return s, nil
}

func parseRSM(data []byte) (*rsmModel, error) {
	if len(data) < 6 || string(data[:4]) != "GRSM" {
		return nil, errors.New("invalid magic, expected GRSM")
	}
	m := &rsmModel{major: data[4], minor: data[5], alpha: 1}
	if m.major != 1 {
		return nil, fmt.Errorf("%w: RSM version %d.%d", ErrUnsupported, m.major, m.minor)
	}

	b := &binReader{r: bytes.NewReader(data[6:])}
	var animLength, shading int32
	b.read(&animLength)
	b.read(&shading)
	if m.atLeast(1, 4) {
		var alpha uint8
		b.read(&alpha)
		m.alpha = float32(alpha) / 255
	}
	b.skip(16)

	m.textures = make([]string, b.count("texture", rsmMaxTextures))
	for i := range m.textures {
		m.textures[i] = b.name()
	}
	_ = b.name() // root node name; the hierarchy comes from parent names

	m.nodes = make([]rsmNode, b.count("node", rsmMaxNodes))
	for i := range m.nodes {
		m.readNode(b, &m.nodes[i])
		if b.err != nil {
			return nil, fmt.Errorf("node %d: %w", i, b.err)
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	// Volume boxes follow; they carry nothing the converter keeps.
	return m, nil
}

func (m *rsmModel) readNode(b *binReader, n *rsmNode) {
	n.name = b.name()
	n.parent = b.name()

	n.textures = make([]int32, b.count("texture index", rsmMaxTextures))
	b.read(n.textures)
	b.read(&n.mat3)
	b.read(&n.offset)
	b.read(&n.position)
	b.read(&n.rotAngle)
	b.read(&n.rotAxis)
	b.read(&n.scale)

	n.vertices = make([][3]float32, b.count("vertex", rsmMaxElements))
	b.read(n.vertices)

	n.texCoords = make([]rsmTexCoord, b.count("texcoord", rsmMaxElements))
	for i := range n.texCoords {
		tc := &n.texCoords[i]
		tc.color = [4]uint8{255, 255, 255, 255}
		if m.atLeast(1, 2) {
			b.read(&tc.color)
		}
		b.read(&tc.uv)
	}

	n.faces = make([]rsmFace, b.count("face", rsmMaxElements))
	for i := range n.faces {
		f := &n.faces[i]
		var raw struct {
			Vertices  [3]uint16
			TexCoords [3]uint16
			Texture   uint16
			Padding   uint16
			TwoSide   int32
		}
		b.read(&raw)
		if m.atLeast(1, 2) {
			var smoothGroup int32
			b.read(&smoothGroup)
		}
		f.vertices, f.texCoords, f.texture = raw.Vertices, raw.TexCoords, raw.Texture
		f.twoSided = raw.TwoSide != 0
	}

	if !m.atLeast(1, 5) {
		// Position keys: frame + xyz.
		b.skip(b.count("position key", rsmMaxKeys) * 16)
	}
	rotKeys := b.count("rotation key", rsmMaxKeys)
	for i := 0; i < rotKeys; i++ {
		var key struct {
			Frame int32
			Quat  [4]float32
		}
		b.read(&key)
		if i == 0 && b.err == nil {
			n.firstRot = &key.Quat
		}
	}
	if m.atLeast(1, 5) {
		// Scale keys: frame + xyz.
		b.skip(b.count("scale key", rsmMaxKeys) * 16)
	}
}

func (m *rsmModel) scene() (*Scene, error) {
	if len(m.nodes) == 0 {
		return nil, errors.New("model has no nodes")
	}
	s := &Scene{}

	imageNames := make(map[string]int)
	materialNames := make(map[string]int)
	for i, tex := range m.textures {
		p := encoding.NormalizePath(tex)
		stem := strings.TrimSuffix(path.Base(p), path.Ext(p))
		s.Images = append(s.Images, SceneImage{
			Name:   uniqueName(imageNames, fallback(stem, "image", i)),
			URI:    path.Join(RSMTextureDir, p),
			Rooted: true,
		})
		mat := SceneMaterial{
			Name:         uniqueName(materialNames, fallback(stem, "material", i)),
			Textures:     map[string]int{formats.SlotBaseColor: i},
			Opacity:      m.alpha,
			Transparency: formats.Opaque,
		}
		if m.alpha < 1 {
			mat.Transparency = formats.Transparent
		}
		s.Materials = append(s.Materials, mat)
	}

	byName := make(map[string]int, len(m.nodes))
	for i := range m.nodes {
		if _, dup := byName[m.nodes[i].name]; !dup {
			byName[m.nodes[i].name] = i
		}
	}

	meshNames := make(map[string]int)
	for i := range m.nodes {
		n := &m.nodes[i]
		parent := -1
		if p, ok := byName[n.parent]; ok && n.parent != "" && p != i {
			parent = p
		}
		node := SceneNode{
			Name:   fallback(n.name, "node", i),
			Parent: parent,
			Matrix: n.hierarchyMatrix(),
		}

		groups := n.meshes(len(m.textures))
		for k, g := range groups {
			name := fallback(n.name, "node", i)
			if len(groups) > 1 {
				name = fmt.Sprintf("%s_%d", name, k)
			}
			node.Meshes = append(node.Meshes, len(s.Meshes))
			s.Meshes = append(s.Meshes, SceneMesh{
				Name:     uniqueName(meshNames, name),
				Source:   g.source,
				Material: g.material,
			})
		}
		s.Nodes = append(s.Nodes, node)
	}
	return s, nil
}

// hierarchyMatrix is the transform children inherit:
// translate(position) * rotation * scale.
func (n *rsmNode) hierarchyMatrix() math.Mat4 {
	m := mgl32.Translate3D(n.position[0], n.position[1], n.position[2])
	switch axis := mgl32.Vec3(n.rotAxis); {
	case n.firstRot != nil:
		q := mgl32.Quat{W: n.firstRot[3], V: mgl32.Vec3{n.firstRot[0], n.firstRot[1], n.firstRot[2]}}
		if q.Len() > 1e-6 {
			m = m.Mul4(q.Normalize().Mat4())
		}
	case n.rotAngle != 0 && axis.Len() > 1e-6:
		m = m.Mul4(mgl32.HomogRotate3D(n.rotAngle, axis.Normalize()))
	}
	m = m.Mul4(mgl32.Scale3D(n.scale[0], n.scale[1], n.scale[2]))
	return math.Mat4(m)
}

// vertexMatrix is applied to the node's own vertices only:
// translate(offset) * mat3.
func (n *rsmNode) vertexMatrix() math.Mat4 {
	r := n.mat3
	return math.Translate(n.offset[0], n.offset[1], n.offset[2]).Mul(math.Mat4{
		r[0], r[1], r[2], 0,
		r[3], r[4], r[5], 0,
		r[6], r[7], r[8], 0,
		0, 0, 0, 1,
	})
}

type rsmGroup struct {
	material int
	source   pack.MeshSource
}

// meshes splits the node's faces by texture, in order of first use. Faces
// referencing missing vertices are dropped; two-sided faces get a reversed
// copy.
func (n *rsmNode) meshes(textures int) []*rsmGroup {
	xf := n.vertexMatrix()
	index := make(map[int]int)
	var groups []*rsmGroup

	for _, f := range n.faces {
		if int(f.vertices[0]) >= len(n.vertices) || int(f.vertices[1]) >= len(n.vertices) || int(f.vertices[2]) >= len(n.vertices) {
			continue
		}
		material := -1
		if int(f.texture) < len(n.textures) {
			if t := int(n.textures[f.texture]); t >= 0 && t < textures {
				material = t
			}
		}
		gi, ok := index[material]
		if !ok {
			gi = len(groups)
			index[material] = gi
			groups = append(groups, &rsmGroup{material: material})
		}
		g := &groups[gi].source

		corners := [][3]int{{0, 1, 2}}
		if f.twoSided {
			corners = append(corners, [3]int{2, 1, 0})
		}
		for _, order := range corners {
			for _, c := range order {
				g.Indices = append(g.Indices, uint32(len(g.Positions)))
				g.Positions = append(g.Positions, xf.TransformPoint(n.vertices[f.vertices[c]]))
				tc := rsmTexCoord{color: [4]uint8{255, 255, 255, 255}}
				if int(f.texCoords[c]) < len(n.texCoords) {
					tc = n.texCoords[f.texCoords[c]]
				}
				g.UVs = append(g.UVs, tc.uv)
				g.Colors = append(g.Colors, [3]float32{
					float32(tc.color[0]) / 255,
					float32(tc.color[1]) / 255,
					float32(tc.color[2]) / 255,
				})
			}
		}
	}
	return groups
}
