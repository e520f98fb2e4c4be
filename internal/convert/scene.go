package convert

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Faultbox/midgard-assets/internal/importer"
	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/math"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// sceneLayout names the outputs of one scene. For a source a/ship.gltf the
// model is a/ship.mdl and everything else lives in a/ship/.
type sceneLayout struct {
	source    string
	model     string
	meshes    []string
	materials []string
	images    []string
}

func newSceneLayout(rel string, s *importer.Scene) *sceneLayout {
	model := outputPath(rel, ExtModel)
	dir := strings.TrimSuffix(model, ExtModel)

	l := &sceneLayout{source: rel, model: model}
	for _, m := range s.Meshes {
		l.meshes = append(l.meshes, dir+"/"+m.Name+ExtMesh)
	}
	for _, m := range s.Materials {
		l.materials = append(l.materials, dir+"/"+m.Name+ExtMaterial)
	}
	for _, im := range s.Images {
		if im.Embedded() {
			l.images = append(l.images, dir+"/"+im.Name+ExtTexture)
			continue
		}
		// External images are converted on their own; link to where that
		// conversion puts them.
		src := encoding.ResolveLink(rel, im.URI)
		if im.Rooted {
			src = encoding.NormalizePath(im.URI)
		}
		l.images = append(l.images, outputPath(src, ExtTexture))
	}
	return l
}

// convertScene writes one texture per embedded image, one mesh per
// primitive, one material per material and the model, in that order. The
// model is written last so an up-to-date model implies the rest is too.
func (c *Converter) convertScene(rel string, kind importer.SourceKind, data []byte, hash string) ([]string, bool, error) {
	modelOut := outputPath(rel, ExtModel)
	if c.upToDate(modelOut, hash) {
		return []string{modelOut}, true, nil
	}
	scene, err := c.loadScene(rel, kind, data)
	if err != nil {
		return nil, false, err
	}

	l := newSceneLayout(rel, scene)
	var outputs []string

	for i, im := range scene.Images {
		if !im.Embedded() {
			continue
		}
		pic, err := importer.DecodeImage(im.Name+im.Ext(), im.Data, importer.ImageOptions{MagentaKey: c.opts.MagentaKey})
		if err != nil {
			return outputs, false, fmt.Errorf("image %s: %w", im.Name, err)
		}
		cont, err := pack.PackTexture(pic.Pixels, pic.Width, pic.Height, pack.TextureOptions{
			Compression: c.opts.TextureCompression,
			Provenance:  c.provenance(rel, l.images[i], hash),
		})
		if err != nil {
			return outputs, false, fmt.Errorf("image %s: %w", im.Name, err)
		}
		if err := c.save(l.images[i], cont); err != nil {
			return outputs, false, err
		}
		outputs = append(outputs, l.images[i])
	}

	for i := range scene.Meshes {
		m := &scene.Meshes[i]
		cont, err := pack.PackMesh(&m.Source, pack.MeshOptions{
			RegenerateNormals: c.opts.RegenerateNormals,
			Compression:       c.opts.MeshCompression,
			Provenance:        c.provenance(rel, l.meshes[i], hash),
		})
		if err != nil {
			return outputs, false, fmt.Errorf("mesh %s: %w", m.Name, err)
		}
		if err := c.save(l.meshes[i], cont); err != nil {
			return outputs, false, err
		}
		outputs = append(outputs, l.meshes[i])
	}

	for i, m := range scene.Materials {
		cont, err := pack.PackMaterial(c.material(l, i, m))
		if err != nil {
			return outputs, false, fmt.Errorf("material %s: %w", m.Name, err)
		}
		if err := c.save(l.materials[i], cont); err != nil {
			return outputs, false, err
		}
		outputs = append(outputs, l.materials[i])
	}

	model := buildModel(scene, l)
	model.Provenance = c.provenance(rel, l.model, hash)
	if _, err := model.Graph(); err != nil {
		return outputs, false, err
	}
	cont, err := pack.PackModel(model)
	if err != nil {
		return outputs, false, err
	}
	if err := c.save(l.model, cont); err != nil {
		return outputs, false, err
	}
	return append(outputs, l.model), false, nil
}

// loadScene imports a scene source. glTF files are opened from disk so
// their external buffers resolve; RSM models decode from memory and so also
// convert out of archives.
func (c *Converter) loadScene(rel string, kind importer.SourceKind, data []byte) (*importer.Scene, error) {
	if kind == importer.SourceRSM {
		return importer.DecodeRSM(data)
	}
	local, ok := c.src.LocalPath(rel)
	if !ok {
		return nil, fmt.Errorf("%w: glTF scenes can only be read from a directory: %s", importer.ErrUnsupported, rel)
	}
	return importer.LoadScene(local)
}

func (c *Converter) material(l *sceneLayout, i int, m importer.SceneMaterial) *pack.Material {
	textures := make(map[string]string, len(m.Textures))
	for slot, img := range m.Textures {
		textures[slot] = encoding.RelativeLink(l.materials[i], l.images[img])
	}
	props := map[string]string{
		"opacity": strconv.FormatFloat(float64(m.Opacity), 'g', -1, 32),
	}
	if m.DoubleSided {
		props["doubleSided"] = "true"
	}
	return &pack.Material{
		BaseEffect:       c.opts.BaseEffect,
		Textures:         textures,
		Transparency:     m.Transparency,
		CustomProperties: props,
		OriginalFile:     l.source,
	}
}

// buildModel flattens the scene hierarchy. Scene node i becomes node i. A
// node carrying several primitives gets one identity-transform child per
// primitive, numbered after the scene nodes.
func buildModel(s *importer.Scene, l *sceneLayout) *pack.Model {
	m := &pack.Model{
		Parent: make(map[uint64]uint64),
		Name:   make(map[uint64]string),
		Mesh:   make(map[uint64]formats.NodeMesh),
	}
	link := func(mesh int) formats.NodeMesh {
		nm := formats.NodeMesh{MeshPath: encoding.RelativeLink(l.model, l.meshes[mesh])}
		if mat := s.Meshes[mesh].Material; mat >= 0 {
			nm.MaterialPath = encoding.RelativeLink(l.model, l.materials[mat])
		}
		return nm
	}

	var extra []pack.NodeTransform
	next := uint64(len(s.Nodes))
	for i, n := range s.Nodes {
		id := uint64(i)
		m.Name[id] = n.Name
		if n.Parent >= 0 {
			m.Parent[id] = uint64(n.Parent)
		}
		m.Transforms = append(m.Transforms, pack.NodeTransform{Node: id, Matrix: n.Matrix})

		switch len(n.Meshes) {
		case 0:
		case 1:
			m.Mesh[id] = link(n.Meshes[0])
		default:
			for _, mesh := range n.Meshes {
				child := next
				next++
				m.Name[child] = s.Meshes[mesh].Name
				m.Parent[child] = id
				m.Mesh[child] = link(mesh)
				extra = append(extra, pack.NodeTransform{Node: child, Matrix: math.Identity()})
			}
		}
	}
	m.Transforms = append(m.Transforms, extra...)
	return m
}

// spriteFrame names the output of frame i of a sprite sheet: frames of
// a/poring.spr go to a/poring/000.tx, a/poring/001.tx and so on.
func spriteFrame(rel string, i int) string {
	dir := strings.TrimSuffix(outputPath(rel, ExtTexture), ExtTexture)
	return fmt.Sprintf("%s/%03d%s", dir, i, ExtTexture)
}

// convertSprite writes one texture per frame. Frames are written in order,
// so the last frame being up to date means the whole sheet is.
func (c *Converter) convertSprite(rel string, data []byte, hash string) ([]string, bool, error) {
	frames, err := importer.DecodeSprite(data)
	if err != nil {
		return nil, false, err
	}
	outputs := make([]string, len(frames))
	for i := range frames {
		outputs[i] = spriteFrame(rel, i)
	}
	if c.upToDate(outputs[len(outputs)-1], hash) {
		return outputs, true, nil
	}

	for i, f := range frames {
		cont, err := pack.PackTexture(f.Pixels, f.Width, f.Height, pack.TextureOptions{
			Compression: c.opts.TextureCompression,
			Provenance:  c.provenance(rel, outputs[i], hash),
		})
		if err != nil {
			return outputs[:i], false, fmt.Errorf("frame %d: %w", i, err)
		}
		if err := c.save(outputs[i], cont); err != nil {
			return outputs[:i], false, err
		}
	}
	return outputs, false, nil
}
