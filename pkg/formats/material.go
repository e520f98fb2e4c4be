package formats

import (
	"fmt"
	"strings"

	"github.com/Faultbox/midgard-assets/pkg/container"
)

// Transparency selects how a material blends with what is behind it.
type Transparency uint8

const (
	Opaque Transparency = iota
	Transparent
	Masked
)

var transparencyNames = [...]string{
	Opaque:      "opaque",
	Transparent: "transparent",
	Masked:      "masked",
}

func (t Transparency) String() string {
	if int(t) < len(transparencyNames) {
		return transparencyNames[t]
	}
	return fmt.Sprintf("transparency(%d)", t)
}

// ParseTransparency accepts the names written by MarshalText, in any case.
func ParseTransparency(s string) (Transparency, error) {
	for i, name := range transparencyNames {
		if strings.EqualFold(s, name) {
			return Transparency(i), nil
		}
	}
	return Opaque, fmt.Errorf("unknown transparency %q", s)
}

func (t Transparency) MarshalText() ([]byte, error) {
	if int(t) >= len(transparencyNames) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidValue, t)
	}
	return []byte(t.String()), nil
}

func (t *Transparency) UnmarshalText(text []byte) error {
	v, err := ParseTransparency(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Common texture slot names.
const (
	SlotBaseColor = "baseColor"
	SlotNormal    = "normal"
	SlotEmissive  = "emissive"
)

// MaterialInfo is the metadata of a MATX container. Materials carry no
// payload. Texture paths are logical links relative to the material file and
// are not resolved here.
type MaterialInfo struct {
	BaseEffect       string
	Textures         map[string]string
	Transparency     Transparency
	CustomProperties map[string]string
	OriginalFile     string
}

type materialWire struct {
	BaseEffect       string            `json:"baseEffect"`
	Textures         map[string]string `json:"textures"`
	Transparency     Transparency      `json:"transparency"`
	CustomProperties map[string]string `json:"customProperties,omitempty"`
	OriginalFile     string            `json:"originalFile"`
}

// ReadMaterial parses and validates the metadata of a material container.
func ReadMaterial(c *container.Container) (*MaterialInfo, error) {
	o, err := openMetadata(c, container.KindMaterial)
	if err != nil {
		return nil, err
	}
	if len(c.Payload) != 0 {
		return nil, fmt.Errorf("%w: material has %d payload bytes, want none", ErrPayloadSize, len(c.Payload))
	}

	info := &MaterialInfo{}
	if info.BaseEffect, err = o.str("baseEffect"); err != nil {
		return nil, err
	}
	if err := o.require("textures", &info.Textures); err != nil {
		return nil, err
	}
	if info.Transparency, err = text(o, "transparency", ParseTransparency); err != nil {
		return nil, err
	}
	if _, err := o.decode("customProperties", &info.CustomProperties); err != nil {
		return nil, err
	}
	if info.OriginalFile, _, err = o.optStr("originalFile"); err != nil {
		return nil, err
	}
	if info.Textures == nil {
		info.Textures = map[string]string{}
	}
	return info, nil
}

// WriteMaterial builds a material container.
func WriteMaterial(info *MaterialInfo) (*container.Container, error) {
	textures := info.Textures
	if textures == nil {
		textures = map[string]string{}
	}
	return build(container.KindMaterial, materialWire{
		BaseEffect:       info.BaseEffect,
		Textures:         textures,
		Transparency:     info.Transparency,
		CustomProperties: info.CustomProperties,
		OriginalFile:     info.OriginalFile,
	}, nil)
}
