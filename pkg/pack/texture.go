package pack

import (
	"fmt"
	"image"

	"github.com/Faultbox/midgard-assets/pkg/compress"
	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/formats"
)

// TextureOptions control how a texture is stored.
type TextureOptions struct {
	// Compression defaults to None, which stores pixels verbatim.
	Compression compress.Mode
	formats.Provenance
}

// Texture is an unpacked RGBA8 texture. Pixels are straight alpha.
type Texture struct {
	Info   *formats.TextureInfo
	Pixels []byte
}

// PackTexture stores a decoded RGBA8 pixel buffer. Pixels are taken as is:
// no color conversion, resizing or mip generation happens here.
func PackTexture(pixels []byte, width, height uint32, opts TextureOptions) (*container.Container, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: texture is %dx%d", ErrEmpty, width, height)
	}
	want := uint64(width) * uint64(height) * 4
	if uint64(len(pixels)) != want {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d RGBA8, want %d",
			ErrPixelSize, len(pixels), width, height, want)
	}

	payload, err := compress.Compress(opts.Compression, pixels)
	if err != nil {
		return nil, err
	}
	return formats.WriteTexture(&formats.TextureInfo{
		Size:        want,
		Format:      formats.FormatRGBA8,
		Compression: opts.Compression,
		Dimensions:  formats.Dimensions{Width: width, Height: height, Depth: 1},
		Provenance:  opts.Provenance,
	}, payload)
}

// PackImage packs an image after converting it to straight-alpha RGBA8.
func PackImage(img image.Image, opts TextureOptions) (*container.Container, error) {
	rgba := ToNRGBA(img)
	b := rgba.Bounds()
	return PackTexture(rgba.Pix, uint32(b.Dx()), uint32(b.Dy()), opts)
}

// UnpackTexture reads a texture container and decompresses its pixels.
func UnpackTexture(c *container.Container) (*Texture, error) {
	info, err := formats.ReadTexture(c)
	if err != nil {
		return nil, err
	}
	size, err := payloadLen(info.Size)
	if err != nil {
		return nil, err
	}
	pixels, err := compress.Decompress(info.Compression, c.Payload, size)
	if err != nil {
		return nil, fmt.Errorf("texture %s: %w", info.OriginalFile, err)
	}
	return &Texture{Info: info, Pixels: pixels}, nil
}

// Image returns the texture as an image sharing the pixel buffer. Only the
// first depth slice is exposed.
func (t *Texture) Image() *image.NRGBA {
	w, h := int(t.Info.Dimensions.Width), int(t.Info.Dimensions.Height)
	return &image.NRGBA{
		Pix:    t.Pixels[:w*h*4],
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
}
