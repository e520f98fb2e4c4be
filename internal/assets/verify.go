package assets

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

var (
	// ErrBrokenLink is reported for a metadata path that does not resolve.
	ErrBrokenLink = errors.New("broken asset link")
	// ErrWrongKind is reported for a link to a container of another kind.
	ErrWrongKind = errors.New("linked asset has wrong kind")
)

// Problem is one failed check.
type Problem struct {
	File string
	Err  error
}

// Report is the outcome of Verify.
type Report struct {
	Checked  int
	Kinds    map[string]int
	Problems []Problem
}

// OK reports whether every file passed.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

// Verify fully unpacks every file, decompressing payloads and validating
// schemas, and checks that material and model links resolve to containers
// of the right kind.
func (m *Manager) Verify(files []string) *Report {
	r := &Report{Kinds: make(map[string]int)}
	for _, file := range files {
		r.Checked++
		kind, errs := m.verifyFile(file)
		if kind != "" {
			r.Kinds[kind]++
		}
		for _, err := range errs {
			r.Problems = append(r.Problems, Problem{File: file, Err: err})
		}
	}
	sort.SliceStable(r.Problems, func(i, j int) bool {
		return r.Problems[i].File < r.Problems[j].File
	})
	return r
}

func (m *Manager) verifyFile(file string) (string, []error) {
	c, err := m.Load(file)
	if err != nil {
		return "", []error{err}
	}
	kind := formats.KindOf(c.Kind)

	switch c.Kind {
	case container.KindTexture:
		_, err = pack.UnpackTexture(c)
	case container.KindMesh:
		_, err = pack.UnpackMesh(c)
	case container.KindMaterial:
		var mat *pack.Material
		if mat, err = pack.UnpackMaterial(c); err == nil {
			return kind, m.checkMaterial(file, mat)
		}
	case container.KindModel:
		var model *pack.Model
		if model, err = pack.UnpackModel(c); err == nil {
			return kind, m.checkModel(file, model)
		}
	default:
		err = fmt.Errorf("no schema for kind %q", c.Kind)
	}
	if err != nil {
		return kind, []error{err}
	}
	return kind, nil
}

func (m *Manager) checkMaterial(file string, mat *pack.Material) []error {
	var errs []error
	slots := make([]string, 0, len(mat.Textures))
	for slot := range mat.Textures {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	for _, slot := range slots {
		if err := m.checkLink(file, mat.Textures[slot], container.KindTexture); err != nil {
			errs = append(errs, fmt.Errorf("texture slot %s: %w", slot, err))
		}
	}
	return errs
}

func (m *Manager) checkModel(file string, model *pack.Model) []error {
	if _, err := model.WorldTransforms(); err != nil {
		return []error{err}
	}
	var errs []error
	for _, id := range sortedNodes(model.Mesh) {
		nm := model.Mesh[id]
		if err := m.checkLink(file, nm.MeshPath, container.KindMesh); err != nil {
			errs = append(errs, fmt.Errorf("node %d mesh: %w", id, err))
		}
		if nm.MaterialPath == "" {
			continue
		}
		if err := m.checkLink(file, nm.MaterialPath, container.KindMaterial); err != nil {
			errs = append(errs, fmt.Errorf("node %d material: %w", id, err))
		}
	}
	return errs
}

// checkLink resolves a link stored in from and checks the target's kind.
func (m *Manager) checkLink(from, link string, want container.Kind) error {
	target := encoding.ResolveLink(from, link)
	c, err := m.Load(target)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s -> %s", ErrBrokenLink, link, target)
	}
	if err != nil {
		return err
	}
	if c.Kind != want {
		return fmt.Errorf("%w: %s is %s, want %s", ErrWrongKind, target, c.Kind, want)
	}
	return nil
}

func sortedNodes[V any](m map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
