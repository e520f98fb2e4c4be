package importer

import (
	"bytes"
	"errors"
	gomath "math"
	"path/filepath"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/math"
)

var triangle = [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}

// sceneDoc builds a document with one mesh of two primitives, a blended
// material with an embedded texture and a two node hierarchy.
func sceneDoc(t *testing.T) *gltf.Document {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, triangle)
	idx := modeler.WriteIndices(doc, []uint32{0, 1, 2})
	col := modeler.WriteColor(doc, [][4]uint8{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}})
	uv := modeler.WriteTextureCoord(doc, [][2]float32{{0, 0}, {1, 0}, {0, 1}})

	png := []byte{0x89, 'P', 'N', 'G'}
	img, err := modeler.WriteImage(doc, "wall", "image/png", bytes.NewReader(png))
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	doc.Textures = append(doc.Textures, &gltf.Texture{Source: gltf.Index(img)})
	doc.Materials = append(doc.Materials, &gltf.Material{
		Name:      "Glass",
		AlphaMode: gltf.AlphaBlend,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorTexture: &gltf.TextureInfo{Index: 0},
		},
	})

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "hull",
		Primitives: []*gltf.Primitive{
			{
				Mode:       gltf.PrimitiveTriangles,
				Indices:    gltf.Index(idx),
				Attributes: map[string]uint32{"POSITION": pos, "COLOR_0": col, "TEXCOORD_0": uv},
				Material:   gltf.Index(0),
			},
			{
				Mode:       gltf.PrimitiveTriangles,
				Attributes: map[string]uint32{"POSITION": pos},
			},
		},
	})
	doc.Nodes = append(doc.Nodes,
		&gltf.Node{Name: "root", Translation: [3]float32{1, 2, 3}, Children: []uint32{1}},
		&gltf.Node{Name: "child", Mesh: gltf.Index(0)},
	)
	return doc
}

func TestDecodeScene(t *testing.T) {
	s, err := DecodeScene(sceneDoc(t))
	if err != nil {
		t.Fatalf("DecodeScene() error: %v", err)
	}

	if len(s.Meshes) != 2 {
		t.Fatalf("len(Meshes) = %d, want 2", len(s.Meshes))
	}
	first, second := s.Meshes[0], s.Meshes[1]
	if first.Name != "hull_0" || second.Name != "hull_1" {
		t.Errorf("mesh names = %q, %q", first.Name, second.Name)
	}
	if first.Material != 0 || second.Material != -1 {
		t.Errorf("materials = %d, %d, want 0, -1", first.Material, second.Material)
	}
	if len(first.Source.Positions) != 3 || first.Source.Positions[1] != triangle[1] {
		t.Errorf("Positions = %v", first.Source.Positions)
	}
	if first.Source.Colors[0] != [3]float32{1, 0, 0} || first.Source.Colors[2] != [3]float32{0, 0, 1} {
		t.Errorf("Colors = %v", first.Source.Colors)
	}
	if first.Source.UVs[2] != [2]float32{0, 1} {
		t.Errorf("UVs = %v", first.Source.UVs)
	}
	if len(first.Source.Normals) != 0 {
		t.Errorf("Normals = %v, want none", first.Source.Normals)
	}
	// Non-indexed primitives get a sequential index list.
	if got := second.Source.Indices; len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("sequential Indices = %v", got)
	}

	if len(s.Materials) != 1 {
		t.Fatalf("len(Materials) = %d, want 1", len(s.Materials))
	}
	mat := s.Materials[0]
	if mat.Name != "Glass" || mat.Transparency != formats.Transparent || mat.Opacity != 1 {
		t.Errorf("material = %+v", mat)
	}
	if mat.Textures[formats.SlotBaseColor] != 0 {
		t.Errorf("Textures = %v", mat.Textures)
	}

	if len(s.Images) != 1 {
		t.Fatalf("len(Images) = %d, want 1", len(s.Images))
	}
	im := s.Images[0]
	if !im.Embedded() || im.Name != "wall" || im.Ext() != ".png" {
		t.Errorf("image = %+v", im)
	}
	if !bytes.Equal(im.Data, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("image Data = %v", im.Data)
	}

	if len(s.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(s.Nodes))
	}
	root, child := s.Nodes[0], s.Nodes[1]
	if root.Parent != -1 || child.Parent != 0 {
		t.Errorf("parents = %d, %d", root.Parent, child.Parent)
	}
	if got := root.Matrix.TransformPoint([3]float32{}); got != [3]float32{1, 2, 3} {
		t.Errorf("root origin = %v, want [1 2 3]", got)
	}
	if len(child.Meshes) != 2 || child.Meshes[0] != 0 || child.Meshes[1] != 1 {
		t.Errorf("child Meshes = %v", child.Meshes)
	}
}

func TestDecodeSceneWithoutNodes(t *testing.T) {
	doc := sceneDoc(t)
	doc.Nodes = nil

	s, err := DecodeScene(doc)
	if err != nil {
		t.Fatalf("DecodeScene() error: %v", err)
	}
	if len(s.Nodes) != 1 {
		t.Fatalf("len(Nodes) = %d, want 1", len(s.Nodes))
	}
	n := s.Nodes[0]
	if n.Name != "hull" || n.Parent != -1 || n.Matrix != math.Identity() || len(n.Meshes) != 2 {
		t.Errorf("node = %+v", n)
	}
}

func TestDecodeSceneErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *gltf.Document)
	}{
		{"no positions", func(doc *gltf.Document) {
			doc.Meshes[0].Primitives[1].Attributes = map[string]uint32{}
		}},
		{"accessor out of range", func(doc *gltf.Document) {
			doc.Meshes[0].Primitives[1].Attributes = map[string]uint32{"POSITION": 99}
		}},
		{"not triangles", func(doc *gltf.Document) {
			doc.Meshes[0].Primitives[1].Mode = gltf.PrimitiveLines
		}},
		{"material out of range", func(doc *gltf.Document) {
			doc.Meshes[0].Primitives[1].Material = gltf.Index(5)
		}},
		{"texture out of range", func(doc *gltf.Document) {
			doc.Materials[0].PBRMetallicRoughness.BaseColorTexture.Index = 3
		}},
		{"child out of range", func(doc *gltf.Document) {
			doc.Nodes[1].Children = []uint32{7}
		}},
		{"two parents", func(doc *gltf.Document) {
			doc.Nodes = append(doc.Nodes, &gltf.Node{Children: []uint32{1}})
		}},
		{"mesh out of range", func(doc *gltf.Document) {
			doc.Nodes[0].Mesh = gltf.Index(4)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sceneDoc(t)
			tt.mutate(doc)
			if _, err := DecodeScene(doc); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadScene(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ship.glb")
	if err := gltf.SaveBinary(sceneDoc(t), path); err != nil {
		t.Fatalf("SaveBinary() error: %v", err)
	}

	s, err := LoadScene(path)
	if err != nil {
		t.Fatalf("LoadScene() error: %v", err)
	}
	if len(s.Meshes) != 2 || len(s.Materials) != 1 || len(s.Nodes) != 2 {
		t.Errorf("scene = %d meshes, %d materials, %d nodes", len(s.Meshes), len(s.Materials), len(s.Nodes))
	}

	if _, err := LoadScene(filepath.Join(t.TempDir(), "missing.gltf")); !errors.Is(err, ErrImport) {
		t.Errorf("missing file: got %v, want ErrImport", err)
	}
}

func TestNodeMatrix(t *testing.T) {
	near := func(a, b [3]float32) bool {
		for i := range a {
			if gomath.Abs(float64(a[i]-b[i])) > 1e-5 {
				return false
			}
		}
		return true
	}
	s45 := float32(gomath.Sqrt2 / 2)

	tests := []struct {
		name string
		node *gltf.Node
		in   [3]float32
		want [3]float32
	}{
		{"defaults", &gltf.Node{}, [3]float32{1, 2, 3}, [3]float32{1, 2, 3}},
		{"rotate z", &gltf.Node{Rotation: [4]float32{0, 0, s45, s45}}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}},
		{"scale then translate", &gltf.Node{
			Translation: [3]float32{0, 0, 5},
			Scale:       [3]float32{2, 2, 2},
		}, [3]float32{1, 1, 1}, [3]float32{2, 2, 7}},
		{"explicit matrix", &gltf.Node{Matrix: [16]float32{
			3, 0, 0, 0,
			0, 3, 0, 0,
			0, 0, 3, 0,
			1, 0, 0, 1,
		}}, [3]float32{1, 1, 1}, [3]float32{4, 3, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nodeMatrix(tt.node).TransformPoint(tt.in)
			if !near(got, tt.want) {
				t.Errorf("TransformPoint(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeDataURI(t *testing.T) {
	mime, data, err := decodeDataURI("data:image/png;base64,AQID")
	if err != nil {
		t.Fatalf("decodeDataURI() error: %v", err)
	}
	if mime != "image/png" || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("got %q %v", mime, data)
	}

	for _, uri := range []string{"data:text/plain,hello", "data:image/png;base64,@@@"} {
		if _, _, err := decodeDataURI(uri); err == nil {
			t.Errorf("decodeDataURI(%q) expected error", uri)
		}
	}
}

func TestSceneImageExt(t *testing.T) {
	tests := []struct {
		img  SceneImage
		want string
	}{
		{SceneImage{MimeType: "image/jpeg"}, ".jpg"},
		{SceneImage{URI: "tex/Wood.TGA"}, ".tga"},
		{SceneImage{URI: "tex.v2/wood"}, ".png"},
		{SceneImage{}, ".png"},
	}
	for _, tt := range tests {
		if got := tt.img.Ext(); got != tt.want {
			t.Errorf("Ext(%+v) = %q, want %q", tt.img, got, tt.want)
		}
	}
}

func TestUniqueName(t *testing.T) {
	used := make(map[string]int)
	got := []string{
		uniqueName(used, "Door"),
		uniqueName(used, "door"),
		uniqueName(used, "door_2"),
		uniqueName(used, "Door"),
	}
	want := []string{"Door", "door_2", "door_2_2", "Door_3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("uniqueName #%d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFileSafe(t *testing.T) {
	if got := fileSafe(" a/b:c\x01 "); got != "a_b_c" {
		t.Errorf("fileSafe() = %q, want %q", got, "a_b_c")
	}
	if got := fallback("", "mesh", 3); got != "mesh3" {
		t.Errorf("fallback() = %q, want mesh3", got)
	}
}
