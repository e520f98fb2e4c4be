package importer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// ImageOptions control image decoding.
type ImageOptions struct {
	// MagentaKey makes magenta pixels transparent black, the color key
	// convention of legacy BMP and TGA textures.
	MagentaKey bool
}

// Picture is a decoded image. Pixels are straight-alpha RGBA8, row-major,
// with no padding.
type Picture struct {
	Pixels []byte
	Width  uint32
	Height uint32
	// Channels is the channel count of the source before expansion to RGBA.
	Channels int
}

// NRGBA returns the picture as an image sharing the pixel buffer.
func (p *Picture) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    p.Pixels,
		Stride: int(p.Width) * 4,
		Rect:   image.Rect(0, 0, int(p.Width), int(p.Height)),
	}
}

type decodeFunc func(r io.Reader) (image.Image, error)

var imageDecoders = map[string]decodeFunc{
	".png":  png.Decode,
	".jpg":  jpeg.Decode,
	".jpeg": jpeg.Decode,
	".gif":  gif.Decode,
	".bmp":  bmp.Decode,
	".tif":  tiff.Decode,
	".tiff": tiff.Decode,
	".webp": webp.Decode,
	".tga":  readTGA,
}

// LoadImage reads and decodes an image file.
func LoadImage(path string, opts ImageOptions) (*Picture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return DecodeImage(path, data, opts)
}

// DecodeImage decodes image data, choosing the decoder by the extension of
// name.
func DecodeImage(name string, data []byte, opts ImageOptions) (*Picture, error) {
	ext := strings.ToLower(filepath.Ext(name))
	decode, ok := imageDecoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}

	var (
		img      image.Image
		channels int
		err      error
	)
	if ext == ".tga" {
		img, channels, err = decodeTGA(data)
	} else {
		img, err = decode(bytes.NewReader(data))
		if err == nil {
			channels = channelCount(img)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrImport, name, err)
	}

	rgba := pack.ToNRGBA(img)
	b := rgba.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: %s: image is empty", ErrImport, name)
	}
	if opts.MagentaKey && applyMagentaKey(rgba) {
		channels = 4
	}
	return &Picture{
		Pixels:   rgba.Pix,
		Width:    uint32(b.Dx()),
		Height:   uint32(b.Dy()),
		Channels: channels,
	}, nil
}

// channelCount reports how many channels the source image carried.
func channelCount(img image.Image) int {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16, *image.Alpha, *image.Alpha16:
		return 1
	case *image.YCbCr:
		return 3
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return 4
			}
		}
		return 3
	}
	if img.ColorModel() == color.GrayModel || img.ColorModel() == color.Gray16Model {
		return 1
	}
	return 4
}

// isMagentaKey tolerates the small drift lossy tools introduce.
func isMagentaKey(r, g, b uint8) bool {
	return r >= 250 && g <= 10 && b >= 250
}

// applyMagentaKey clears magenta pixels to transparent black in place and
// reports whether any pixel matched.
func applyMagentaKey(img *image.NRGBA) bool {
	keyed := false
	for i := 0; i+3 < len(img.Pix); i += 4 {
		p := img.Pix[i : i+4 : i+4]
		if isMagentaKey(p[0], p[1], p[2]) {
			p[0], p[1], p[2], p[3] = 0, 0, 0, 0
			keyed = true
		}
	}
	return keyed
}
