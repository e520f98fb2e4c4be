package importer

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// Scene is a 3D scene flattened for packing. Every triangle primitive is
// its own mesh; indices into Meshes, Materials and Images are positions in
// those slices.
type Scene struct {
	Meshes    []SceneMesh
	Materials []SceneMaterial
	Images    []SceneImage
	Nodes     []SceneNode
}

// SceneMesh is one triangle-list primitive.
type SceneMesh struct {
	// Name is unique within the scene and safe to use as a file name.
	Name     string
	Source   pack.MeshSource
	Material int // -1 when the primitive has no material
}

// SceneMaterial is the part of a material the converter keeps.
type SceneMaterial struct {
	Name string
	// Textures maps material slots to image indices.
	Textures     map[string]int
	Opacity      float32
	Transparency formats.Transparency
	DoubleSided  bool
}

// SceneImage is an image referenced by a material. Embedded images carry
// their bytes; external ones carry a URI relative to the scene file, or to
// the source root when Rooted is set.
type SceneImage struct {
	Name     string
	URI      string
	Data     []byte
	MimeType string
	Rooted   bool
}

// Embedded reports whether the image bytes live inside the scene file.
func (im *SceneImage) Embedded() bool {
	return im.URI == ""
}

// Ext returns the file extension matching the image encoding.
func (im *SceneImage) Ext() string {
	switch im.MimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if ext := path.Ext(im.URI); ext != "" {
		return strings.ToLower(ext)
	}
	return ".png"
}

// SceneNode is one node of the hierarchy.
type SceneNode struct {
	Name   string
	Parent int // -1 for roots
	Matrix math.Mat4
	// Meshes lists the primitives attached to the node.
	Meshes []int
}

// LoadScene imports a .gltf or .glb file.
func LoadScene(path string) (*Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrImport, path, err)
	}
	s, err := DecodeScene(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrImport, path, err)
	}
	return s, nil
}

// DecodeScene flattens a parsed glTF document.
func DecodeScene(doc *gltf.Document) (*Scene, error) {
	s := &Scene{}
	meshNames := make(map[string]int)

	// glTF mesh index -> scene mesh indices, one per primitive.
	primitives := make([][]int, len(doc.Meshes))
	for mi, mesh := range doc.Meshes {
		for pi, p := range mesh.Primitives {
			if p.Mode != gltf.PrimitiveTriangles {
				return nil, errors.Errorf("mesh %d primitive %d: mode %d is not a triangle list", mi, pi, p.Mode)
			}
			src, err := readPrimitive(doc, p)
			if err != nil {
				return nil, errors.Wrapf(err, "mesh %d primitive %d", mi, pi)
			}
			material := -1
			if p.Material != nil {
				if int(*p.Material) >= len(doc.Materials) {
					return nil, errors.Errorf("mesh %d primitive %d: material %d out of range", mi, pi, *p.Material)
				}
				material = int(*p.Material)
			}

			name := fallback(mesh.Name, "mesh", mi)
			if len(mesh.Primitives) > 1 {
				name += "_" + strconv.Itoa(pi)
			}
			primitives[mi] = append(primitives[mi], len(s.Meshes))
			s.Meshes = append(s.Meshes, SceneMesh{
				Name:     uniqueName(meshNames, name),
				Source:   *src,
				Material: material,
			})
		}
	}

	materialNames := make(map[string]int)
	for i, m := range doc.Materials {
		mat, err := readMaterial(doc, i, m, materialNames)
		if err != nil {
			return nil, errors.Wrapf(err, "material %d", i)
		}
		s.Materials = append(s.Materials, mat)
	}

	imageNames := make(map[string]int)
	for i, im := range doc.Images {
		img, err := readImage(doc, i, im, imageNames)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", i)
		}
		s.Images = append(s.Images, img)
	}

	nodes, err := readNodes(doc, primitives)
	if err != nil {
		return nil, err
	}
	s.Nodes = nodes
	return s, nil
}

func accessor(doc *gltf.Document, index int) (*gltf.Accessor, error) {
	if index < 0 || index >= len(doc.Accessors) {
		return nil, errors.Errorf("accessor %d out of range", index)
	}
	return doc.Accessors[index], nil
}

func readPrimitive(doc *gltf.Document, p *gltf.Primitive) (*pack.MeshSource, error) {
	pos, ok := p.Attributes["POSITION"]
	if !ok {
		return nil, errors.New("primitive has no POSITION attribute")
	}
	acr, err := accessor(doc, int(pos))
	if err != nil {
		return nil, err
	}
	src := &pack.MeshSource{}
	if src.Positions, err = modeler.ReadPosition(doc, acr, nil); err != nil {
		return nil, errors.Wrap(err, "reading positions")
	}

	if idx, ok := p.Attributes["NORMAL"]; ok {
		if acr, err = accessor(doc, int(idx)); err != nil {
			return nil, err
		}
		if src.Normals, err = modeler.ReadNormal(doc, acr, nil); err != nil {
			return nil, errors.Wrap(err, "reading normals")
		}
	}
	if idx, ok := p.Attributes["TEXCOORD_0"]; ok {
		if acr, err = accessor(doc, int(idx)); err != nil {
			return nil, err
		}
		if src.UVs, err = modeler.ReadTextureCoord(doc, acr, nil); err != nil {
			return nil, errors.Wrap(err, "reading texture coordinates")
		}
	}
	if idx, ok := p.Attributes["COLOR_0"]; ok {
		if acr, err = accessor(doc, int(idx)); err != nil {
			return nil, err
		}
		if src.Colors, err = readColors(doc, acr); err != nil {
			return nil, errors.Wrap(err, "reading colors")
		}
	}

	if p.Indices != nil {
		if acr, err = accessor(doc, int(*p.Indices)); err != nil {
			return nil, err
		}
		if src.Indices, err = modeler.ReadIndices(doc, acr, nil); err != nil {
			return nil, errors.Wrap(err, "reading indices")
		}
	} else {
		// Non-indexed primitives draw their vertices in order.
		src.Indices = make([]uint32, len(src.Positions))
		for i := range src.Indices {
			src.Indices[i] = uint32(i)
		}
	}
	return src, nil
}

// readColors converts COLOR_0 to RGB floats. Integer colors are normalized.
func readColors(doc *gltf.Document, acr *gltf.Accessor) ([][3]float32, error) {
	data, err := modeler.ReadAccessor(doc, acr, nil)
	if err != nil {
		return nil, err
	}
	switch v := data.(type) {
	case [][3]float32:
		return v, nil
	case [][4]float32:
		out := make([][3]float32, len(v))
		for i, c := range v {
			out[i] = [3]float32{c[0], c[1], c[2]}
		}
		return out, nil
	case [][3]uint8:
		out := make([][3]float32, len(v))
		for i, c := range v {
			out[i] = [3]float32{float32(c[0]) / 0xff, float32(c[1]) / 0xff, float32(c[2]) / 0xff}
		}
		return out, nil
	case [][4]uint8:
		out := make([][3]float32, len(v))
		for i, c := range v {
			out[i] = [3]float32{float32(c[0]) / 0xff, float32(c[1]) / 0xff, float32(c[2]) / 0xff}
		}
		return out, nil
	case [][3]uint16:
		out := make([][3]float32, len(v))
		for i, c := range v {
			out[i] = [3]float32{float32(c[0]) / 0xffff, float32(c[1]) / 0xffff, float32(c[2]) / 0xffff}
		}
		return out, nil
	case [][4]uint16:
		out := make([][3]float32, len(v))
		for i, c := range v {
			out[i] = [3]float32{float32(c[0]) / 0xffff, float32(c[1]) / 0xffff, float32(c[2]) / 0xffff}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported color accessor type %T", data)
	}
}

func readMaterial(doc *gltf.Document, i int, m *gltf.Material, names map[string]int) (SceneMaterial, error) {
	mat := SceneMaterial{
		Name:        uniqueName(names, fallback(m.Name, "material", i)),
		Textures:    make(map[string]int),
		Opacity:     1,
		DoubleSided: m.DoubleSided,
	}

	slot := func(name string, info *gltf.TextureInfo) error {
		if info == nil {
			return nil
		}
		if int(info.Index) >= len(doc.Textures) {
			return errors.Errorf("%s texture %d out of range", name, info.Index)
		}
		source := doc.Textures[info.Index].Source
		if source == nil {
			return nil
		}
		if int(*source) >= len(doc.Images) {
			return errors.Errorf("%s image %d out of range", name, *source)
		}
		mat.Textures[name] = int(*source)
		return nil
	}

	if pbr := m.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			mat.Opacity = pbr.BaseColorFactor[3]
		}
		if err := slot(formats.SlotBaseColor, pbr.BaseColorTexture); err != nil {
			return mat, err
		}
	}
	if err := slot(formats.SlotEmissive, m.EmissiveTexture); err != nil {
		return mat, err
	}

	mat.Transparency = transparencyOf(m.AlphaMode, mat.Opacity)
	return mat, nil
}

// transparencyOf classifies a material: alpha-tested materials are Masked,
// blended or partly opaque ones Transparent.
func transparencyOf(mode gltf.AlphaMode, opacity float32) formats.Transparency {
	switch {
	case mode == gltf.AlphaMask:
		return formats.Masked
	case mode == gltf.AlphaBlend || opacity < 1:
		return formats.Transparent
	default:
		return formats.Opaque
	}
}

func readImage(doc *gltf.Document, i int, im *gltf.Image, names map[string]int) (SceneImage, error) {
	img := SceneImage{
		Name:     uniqueName(names, fallback(im.Name, "image", i)),
		MimeType: im.MimeType,
	}
	switch {
	case im.BufferView != nil:
		data, err := bufferViewData(doc, int(*im.BufferView))
		if err != nil {
			return img, err
		}
		img.Data = data
	case strings.HasPrefix(im.URI, "data:"):
		mime, data, err := decodeDataURI(im.URI)
		if err != nil {
			return img, err
		}
		img.Data = data
		if img.MimeType == "" {
			img.MimeType = mime
		}
	case im.URI != "":
		uri, err := url.PathUnescape(im.URI)
		if err != nil {
			return img, errors.Wrapf(err, "image uri %q", im.URI)
		}
		img.URI = uri
	default:
		return img, errors.New("image has neither uri nor buffer view")
	}
	return img, nil
}

func bufferViewData(doc *gltf.Document, index int) ([]byte, error) {
	if index < 0 || index >= len(doc.BufferViews) {
		return nil, errors.Errorf("buffer view %d out of range", index)
	}
	view := doc.BufferViews[index]
	if int(view.Buffer) >= len(doc.Buffers) {
		return nil, errors.Errorf("buffer %d out of range", view.Buffer)
	}
	data := doc.Buffers[view.Buffer].Data
	start, end := int(view.ByteOffset), int(view.ByteOffset)+int(view.ByteLength)
	if end > len(data) {
		return nil, errors.Errorf("buffer view %d ends at %d past buffer of %d bytes", index, end, len(data))
	}
	return data[start:end], nil
}

// decodeDataURI decodes a base64 data URI and returns its media type.
func decodeDataURI(uri string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, errors.New("only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Wrap(err, "decoding data uri")
	}
	return strings.TrimSuffix(header, ";base64"), data, nil
}

func readNodes(doc *gltf.Document, primitives [][]int) ([]SceneNode, error) {
	if len(doc.Nodes) == 0 {
		// A scene without nodes still places every primitive at the origin.
		var nodes []SceneNode
		for mi, prims := range primitives {
			nodes = append(nodes, SceneNode{
				Name:   fallback(doc.Meshes[mi].Name, "mesh", mi),
				Parent: -1,
				Matrix: math.Identity(),
				Meshes: prims,
			})
		}
		return nodes, nil
	}

	nodes := make([]SceneNode, len(doc.Nodes))
	for i := range nodes {
		nodes[i].Parent = -1
	}
	for i, n := range doc.Nodes {
		for _, c := range n.Children {
			child := int(c)
			if child >= len(nodes) {
				return nil, errors.Errorf("node %d: child %d out of range", i, child)
			}
			if nodes[child].Parent != -1 {
				return nil, errors.Errorf("node %d has two parents", child)
			}
			nodes[child].Parent = i
		}
	}
	for i, n := range doc.Nodes {
		nodes[i].Name = fallback(n.Name, "node", i)
		nodes[i].Matrix = nodeMatrix(n)
		if n.Mesh != nil {
			if int(*n.Mesh) >= len(primitives) {
				return nil, errors.Errorf("node %d: mesh %d out of range", i, *n.Mesh)
			}
			nodes[i].Meshes = primitives[*n.Mesh]
		}
	}
	return nodes, nil
}

var (
	zeroMatrix     [16]float32
	identityMatrix = [16]float32(mgl32.Ident4())
)

// nodeMatrix returns the node's local transform: its matrix when one is
// given, otherwise T * R * S.
func nodeMatrix(n *gltf.Node) math.Mat4 {
	if n.Matrix != zeroMatrix && n.Matrix != identityMatrix {
		return math.Mat4(n.Matrix)
	}
	t, r, s := n.Translation, n.Rotation, n.Scale
	if r == [4]float32{} {
		r[3] = 1
	}
	if s == [3]float32{} {
		s = [3]float32{1, 1, 1}
	}
	q := mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}.Normalize()
	m := mgl32.Translate3D(t[0], t[1], t[2]).
		Mul4(q.Mat4()).
		Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
	return math.Mat4(m)
}

func fallback(name, prefix string, i int) string {
	name = fileSafe(name)
	if name == "" {
		return prefix + strconv.Itoa(i)
	}
	return name
}

// fileSafe strips characters that cannot appear in a file name.
func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < ' ' {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
}

// uniqueName appends a counter to names already handed out. Names are
// compared case-insensitively so the files do not collide on any
// filesystem.
func uniqueName(used map[string]int, name string) string {
	key := strings.ToLower(name)
	n, taken := used[key]
	used[key] = n + 1
	if !taken {
		return name
	}
	for {
		candidate := name + "_" + strconv.Itoa(n+1)
		if _, clash := used[strings.ToLower(candidate)]; !clash {
			used[strings.ToLower(candidate)] = 1
			return candidate
		}
		n++
	}
}
