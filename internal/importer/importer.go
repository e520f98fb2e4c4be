// Package importer decodes source art into the buffers the packers consume:
// images and sprite sheets into straight-alpha RGBA8 pixels, and glTF scenes
// and legacy RSM models into per-primitive vertex arrays, materials and a
// node hierarchy.
package importer

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrImport wraps every rejection of a source file by a decoder.
	ErrImport = errors.New("import failed")
	// ErrUnsupported is returned for file types no decoder handles.
	ErrUnsupported = errors.New("unsupported source format")
)

// SourceKind classifies a source file by extension.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceImage
	SourceScene
	SourceSprite
	SourceRSM
)

func (k SourceKind) String() string {
	switch k {
	case SourceImage:
		return "image"
	case SourceScene:
		return "scene"
	case SourceSprite:
		return "sprite"
	case SourceRSM:
		return "rsm"
	default:
		return "unknown"
	}
}

var sceneExts = map[string]bool{
	".gltf": true,
	".glb":  true,
}

// Classify returns the kind of source a file name refers to.
func Classify(name string) SourceKind {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageDecoders[ext] != nil:
		return SourceImage
	case sceneExts[ext]:
		return SourceScene
	case ext == ".spr":
		return SourceSprite
	case ext == ".rsm":
		return SourceRSM
	default:
		return SourceUnknown
	}
}
