package formats

import (
	"fmt"
	"math/bits"

	"github.com/Faultbox/midgard-assets/pkg/compress"
	"github.com/Faultbox/midgard-assets/pkg/container"
)

// TextureFormat names the pixel layout of a texture payload.
type TextureFormat string

// FormatRGBA8 is four 8-bit channels per pixel, row-major, no padding.
const FormatRGBA8 TextureFormat = "RGBA8"

// BytesPerPixel returns the pixel size of f, or 0 for unknown formats.
func (f TextureFormat) BytesPerPixel() int {
	switch f {
	case FormatRGBA8:
		return 4
	default:
		return 0
	}
}

func parseTextureFormat(s string) (TextureFormat, error) {
	f := TextureFormat(s)
	if f.BytesPerPixel() == 0 {
		return "", fmt.Errorf("unknown texture format %q", s)
	}
	return f, nil
}

// Dimensions of a texture in pixels. Depth is 1 for 2D textures.
type Dimensions struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Depth  uint32 `json:"depth"`
}

// Pixels returns the total pixel count. ok is false when the count does not
// fit in 64 bits.
func (d Dimensions) Pixels() (n uint64, ok bool) {
	hi, n := bits.Mul64(uint64(d.Width)*uint64(d.Height), uint64(d.Depth))
	return n, hi == 0
}

// TextureInfo is the metadata of a TEXR container.
type TextureInfo struct {
	// Size is the uncompressed pixel data size in bytes.
	Size        uint64
	Format      TextureFormat
	Compression compress.Mode
	Dimensions  Dimensions
	Provenance
}

type textureWire struct {
	Size         uint64        `json:"size"`
	Format       TextureFormat `json:"format"`
	Compression  compress.Mode `json:"compression"`
	Dimensions   Dimensions    `json:"dimensions"`
	OriginalFile string        `json:"originalFile"`
	SourceHash   string        `json:"sourceHash,omitempty"`
	AssetID      string        `json:"assetId,omitempty"`
}

// ReadTexture parses and validates the metadata of a texture container.
// The payload is checked against the declared size when uncompressed.
func ReadTexture(c *container.Container) (*TextureInfo, error) {
	o, err := openMetadata(c, container.KindTexture)
	if err != nil {
		return nil, err
	}

	info := &TextureInfo{}
	if info.Size, err = o.u64("size"); err != nil {
		return nil, err
	}
	if info.Format, err = text(o, "format", parseTextureFormat); err != nil {
		return nil, err
	}
	if info.Compression, err = text(o, "compression", compress.ParseMode); err != nil {
		return nil, err
	}
	dims, err := o.child("dimensions")
	if err != nil {
		return nil, err
	}
	if info.Dimensions.Width, err = dims.u32("width"); err != nil {
		return nil, err
	}
	if info.Dimensions.Height, err = dims.u32("height"); err != nil {
		return nil, err
	}
	if info.Dimensions.Depth, err = dims.u32("depth"); err != nil {
		return nil, err
	}
	if err := info.Provenance.read(o); err != nil {
		return nil, err
	}

	if err := info.validate(); err != nil {
		return nil, err
	}
	if info.Compression == compress.None && uint64(len(c.Payload)) != info.Size {
		return nil, fmt.Errorf("%w: texture payload is %d bytes, metadata declares %d",
			ErrPayloadSize, len(c.Payload), info.Size)
	}
	return info, nil
}

func (info *TextureInfo) validate() error {
	d := info.Dimensions
	if d.Width == 0 || d.Height == 0 || d.Depth == 0 {
		return fmt.Errorf("%w: texture is %dx%dx%d", ErrInvalidValue, d.Width, d.Height, d.Depth)
	}
	pixels, ok := d.Pixels()
	hi, want := bits.Mul64(pixels, uint64(info.Format.BytesPerPixel()))
	if !ok || hi != 0 {
		return fmt.Errorf("%w: %dx%dx%d texture overflows", ErrInvalidValue, d.Width, d.Height, d.Depth)
	}
	if info.Size != want {
		return fmt.Errorf("%w: size %d does not match %dx%dx%d %s",
			ErrInvalidValue, info.Size, info.Dimensions.Width, info.Dimensions.Height,
			info.Dimensions.Depth, info.Format)
	}
	return nil
}

// WriteTexture builds a texture container. The payload must already be in
// the encoding named by info.Compression.
func WriteTexture(info *TextureInfo, payload []byte) (*container.Container, error) {
	if info.Format.BytesPerPixel() == 0 {
		return nil, fmt.Errorf("%w: texture format %q", ErrInvalidValue, info.Format)
	}
	if err := info.validate(); err != nil {
		return nil, err
	}
	return build(container.KindTexture, textureWire{
		Size:         info.Size,
		Format:       info.Format,
		Compression:  info.Compression,
		Dimensions:   info.Dimensions,
		OriginalFile: info.OriginalFile,
		SourceHash:   info.SourceHash,
		AssetID:      info.AssetID,
	}, payload)
}
