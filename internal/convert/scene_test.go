package convert

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// writeShip saves a binary glTF with one two-primitive mesh under a
// translated root, a blended material with an embedded texture and a
// material linking an external image.
func writeShip(t *testing.T, dir, name string, mutate func(doc *gltf.Document)) {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	idx := modeler.WriteIndices(doc, []uint32{0, 1, 2})
	img, err := modeler.WriteImage(doc, "wall", "image/png", bytes.NewReader(checkerPNG(t)))
	if err != nil {
		t.Fatalf("WriteImage() error: %v", err)
	}
	doc.Images = append(doc.Images, &gltf.Image{Name: "wood", URI: "tex/wood.png"})
	doc.Textures = append(doc.Textures,
		&gltf.Texture{Source: gltf.Index(img)},
		&gltf.Texture{Source: gltf.Index(1)},
	)
	doc.Materials = append(doc.Materials,
		&gltf.Material{
			Name:      "Glass",
			AlphaMode: gltf.AlphaBlend,
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				BaseColorTexture: &gltf.TextureInfo{Index: 0},
			},
		},
		&gltf.Material{
			Name:        "Deck",
			DoubleSided: true,
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				BaseColorTexture: &gltf.TextureInfo{Index: 1},
			},
		},
	)
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "hull",
		Primitives: []*gltf.Primitive{
			{
				Mode:       gltf.PrimitiveTriangles,
				Indices:    gltf.Index(idx),
				Attributes: map[string]uint32{"POSITION": pos},
				Material:   gltf.Index(0),
			},
			{
				Mode:       gltf.PrimitiveTriangles,
				Indices:    gltf.Index(idx),
				Attributes: map[string]uint32{"POSITION": pos},
			},
		},
	})
	doc.Nodes = append(doc.Nodes,
		&gltf.Node{Name: "root", Translation: [3]float32{1, 2, 3}, Children: []uint32{1}},
		&gltf.Node{Name: "body", Mesh: gltf.Index(0)},
	)
	if mutate != nil {
		mutate(doc)
	}
	if err := gltf.SaveBinary(doc, filepath.Join(dir, name)); err != nil {
		t.Fatalf("SaveBinary() error: %v", err)
	}
}

func TestConvertScene(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeShip(t, in, "ship.glb", nil)

	c := New(&DirSource{Root: in}, out, testOptions(), nil)
	r := c.ConvertFile(context.Background(), "ship.glb")
	if r.Err != nil {
		t.Fatalf("ConvertFile() error: %v", r.Err)
	}
	want := []string{"ship/wall.tx", "ship/hull_0.mesh", "ship/hull_1.mesh", "ship/Glass.mat", "ship/Deck.mat", "ship.mdl"}
	if !equalStrings(r.Outputs, want) {
		t.Errorf("Outputs = %v, want %v", r.Outputs, want)
	}

	tex, err := pack.UnpackTexture(loadOutput(t, out, "ship/wall.tx"))
	if err != nil {
		t.Fatalf("UnpackTexture() error: %v", err)
	}
	if !bytes.Equal(tex.Pixels, checkerPixels) || tex.Info.OriginalFile != "ship.glb" {
		t.Errorf("texture = %+v", tex.Info)
	}

	mesh, err := pack.UnpackMesh(loadOutput(t, out, "ship/hull_0.mesh"))
	if err != nil {
		t.Fatalf("UnpackMesh() error: %v", err)
	}
	for i, v := range mesh.Vertices {
		if v.Normal != [3]float32{0, 0, -1} {
			t.Errorf("vertex %d normal = %v, want [0 0 -1]", i, v.Normal)
		}
		if v.Color != pack.White {
			t.Errorf("vertex %d color = %v, want white", i, v.Color)
		}
	}

	glass, err := pack.UnpackMaterial(loadOutput(t, out, "ship/Glass.mat"))
	if err != nil {
		t.Fatalf("UnpackMaterial() error: %v", err)
	}
	if glass.Textures[formats.SlotBaseColor] != "wall.tx" || glass.Transparency != formats.Transparent {
		t.Errorf("Glass = %+v", glass)
	}
	if glass.BaseEffect != pack.DefaultEffect || glass.CustomProperties["opacity"] != "1" {
		t.Errorf("Glass = %+v", glass)
	}
	deck, err := pack.UnpackMaterial(loadOutput(t, out, "ship/Deck.mat"))
	if err != nil {
		t.Fatalf("UnpackMaterial() error: %v", err)
	}
	if deck.Textures[formats.SlotBaseColor] != "../tex/wood.tx" || deck.CustomProperties["doubleSided"] != "true" {
		t.Errorf("Deck = %+v", deck)
	}

	model, err := pack.UnpackModel(loadOutput(t, out, "ship.mdl"))
	if err != nil {
		t.Fatalf("UnpackModel() error: %v", err)
	}
	if len(model.Transforms) != 4 {
		t.Fatalf("len(Transforms) = %d, want 4", len(model.Transforms))
	}
	if model.Name[0] != "root" || model.Name[1] != "body" || model.Name[2] != "hull_0" || model.Name[3] != "hull_1" {
		t.Errorf("Name = %v", model.Name)
	}
	if model.Parent[1] != 0 || model.Parent[2] != 1 || model.Parent[3] != 1 {
		t.Errorf("Parent = %v", model.Parent)
	}
	if _, ok := model.Parent[0]; ok {
		t.Error("root has a parent")
	}
	if got := model.Mesh[2]; got != (formats.NodeMesh{MeshPath: "ship/hull_0.mesh", MaterialPath: "ship/Glass.mat"}) {
		t.Errorf("Mesh[2] = %+v", got)
	}
	if got := model.Mesh[3]; got != (formats.NodeMesh{MeshPath: "ship/hull_1.mesh"}) {
		t.Errorf("Mesh[3] = %+v", got)
	}
	world, err := model.WorldTransforms()
	if err != nil {
		t.Fatalf("WorldTransforms() error: %v", err)
	}
	if got := world[3].TransformPoint([3]float32{}); got != [3]float32{1, 2, 3} {
		t.Errorf("hull_1 origin = %v, want [1 2 3]", got)
	}

	// The model carries the source hash, so the next run skips the scene.
	r = c.ConvertFile(context.Background(), "ship.glb")
	if r.Err != nil || !r.Skipped {
		t.Errorf("second ConvertFile() = %+v, want skipped", r)
	}
}

func TestConvertSceneKeepNormals(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeShip(t, in, "ship.glb", func(doc *gltf.Document) {
		normals := modeler.WriteNormal(doc, [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}})
		doc.Meshes[0].Primitives[0].Attributes["NORMAL"] = normals
	})

	opts := testOptions()
	opts.RegenerateNormals = false
	if r := New(&DirSource{Root: in}, out, opts, nil).ConvertFile(context.Background(), "ship.glb"); r.Err != nil {
		t.Fatalf("ConvertFile() error: %v", r.Err)
	}

	kept, err := pack.UnpackMesh(loadOutput(t, out, "ship/hull_0.mesh"))
	if err != nil {
		t.Fatalf("UnpackMesh() error: %v", err)
	}
	if kept.Vertices[0].Normal != [3]float32{0, 0, 1} {
		t.Errorf("kept normal = %v, want [0 0 1]", kept.Vertices[0].Normal)
	}
	// Primitives without normals are always regenerated.
	regen, err := pack.UnpackMesh(loadOutput(t, out, "ship/hull_1.mesh"))
	if err != nil {
		t.Fatalf("UnpackMesh() error: %v", err)
	}
	if regen.Vertices[0].Normal != [3]float32{0, 0, -1} {
		t.Errorf("regenerated normal = %v, want [0 0 -1]", regen.Vertices[0].Normal)
	}
}

func TestConvertSceneCycle(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeShip(t, in, "loop.glb", func(doc *gltf.Document) {
		// root -> body -> root: every node has exactly one parent.
		doc.Nodes[1].Children = []uint32{0}
	})

	sum, err := New(&DirSource{Root: in}, out, testOptions(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sum.Failed != 1 || !errors.Is(sum.Failures[0].Err, formats.ErrCycle) {
		t.Fatalf("summary = %+v, want one ErrCycle failure", sum)
	}
	if _, err := os.Stat(filepath.Join(out, "loop.mdl")); !os.IsNotExist(err) {
		t.Errorf("model written despite cycle (stat error %v)", err)
	}
}
