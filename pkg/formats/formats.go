// Package formats defines the per-kind metadata schemas layered on top of the
// container envelope: Texture, Mesh, Material and Model.
//
// Metadata is a JSON object. Readers accept comments and trailing commas so
// hand-edited files still load, ignore unknown keys, and reject missing or
// mistyped required keys. Writers always emit the full required key set.
package formats

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-assets/pkg/container"
)

// Version is the only schema revision currently defined.
const Version = 1

// Schema errors.
var (
	ErrUnsupportedVersion = errors.New("unsupported schema version")
	ErrKindMismatch       = errors.New("container kind mismatch")
	ErrMalformedMetadata  = errors.New("malformed metadata")
	ErrMissingField       = errors.New("missing metadata field")
	ErrTypeMismatch       = errors.New("metadata field has wrong type")
	ErrInvalidValue       = errors.New("invalid metadata value")
	ErrPayloadSize        = errors.New("payload size does not match metadata")
	ErrMatrixIndex        = errors.New("matrix index out of range")
	ErrCycle              = errors.New("node hierarchy contains a cycle")
)

// Provenance is recorded by every schema. OriginalFile is the source path
// the asset was converted from and is required. SourceHash (hex BLAKE3 of
// the source file) and AssetID are optional.
type Provenance struct {
	OriginalFile string
	SourceHash   string
	AssetID      string
}

func (p *Provenance) read(o object) error {
	var err error
	if p.OriginalFile, err = o.str("originalFile"); err != nil {
		return err
	}
	if p.SourceHash, _, err = o.optStr("sourceHash"); err != nil {
		return err
	}
	if p.AssetID, _, err = o.optStr("assetId"); err != nil {
		return err
	}
	return nil
}

// ReadProvenance reads only the provenance fields of a container of any
// schema kind.
func ReadProvenance(c *container.Container) (Provenance, error) {
	var p Provenance
	if KindOf(c.Kind) == "" {
		return p, fmt.Errorf("%w: no schema for kind %q", ErrKindMismatch, c.Kind)
	}
	o, err := openMetadata(c, c.Kind)
	if err != nil {
		return p, err
	}
	err = p.read(o)
	return p, err
}

// KindOf returns the schema kind name for a container kind, or "" if the kind
// has no schema in this package.
func KindOf(k container.Kind) string {
	switch k {
	case container.KindTexture:
		return "texture"
	case container.KindMesh:
		return "mesh"
	case container.KindMaterial:
		return "material"
	case container.KindModel:
		return "model"
	default:
		return ""
	}
}
