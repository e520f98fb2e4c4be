package pack

import (
	"maps"

	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/formats"
)

// DefaultEffect is the shading technique used when none is named.
const DefaultEffect = "default"

// Material describes a material before packing.
type Material struct {
	BaseEffect string
	// Textures maps slot names such as formats.SlotBaseColor to texture
	// paths relative to the material file. Paths are not resolved.
	Textures map[string]string
	// Transparency is Opaque unless set otherwise.
	Transparency     formats.Transparency
	CustomProperties map[string]string
	OriginalFile     string
}

// PackMaterial stores a material. Materials have no payload.
func PackMaterial(m *Material) (*container.Container, error) {
	effect := m.BaseEffect
	if effect == "" {
		effect = DefaultEffect
	}
	textures := make(map[string]string, len(m.Textures))
	for slot, p := range m.Textures {
		textures[slot] = encoding.NormalizePath(p)
	}
	return formats.WriteMaterial(&formats.MaterialInfo{
		BaseEffect:       effect,
		Textures:         textures,
		Transparency:     m.Transparency,
		CustomProperties: maps.Clone(m.CustomProperties),
		OriginalFile:     m.OriginalFile,
	})
}

// UnpackMaterial reads a material container.
func UnpackMaterial(c *container.Container) (*Material, error) {
	info, err := formats.ReadMaterial(c)
	if err != nil {
		return nil, err
	}
	return &Material{
		BaseEffect:       info.BaseEffect,
		Textures:         info.Textures,
		Transparency:     info.Transparency,
		CustomProperties: info.CustomProperties,
		OriginalFile:     info.OriginalFile,
	}, nil
}
