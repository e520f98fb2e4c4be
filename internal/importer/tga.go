package importer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
)

// TGA image types.
const (
	tgaTrueColor    = 2
	tgaGray         = 3
	tgaTrueColorRLE = 10
	tgaGrayRLE      = 11
)

const tgaHeaderSize = 18

var errTGATruncated = errors.New("tga: pixel data truncated")

func readTGA(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	img, _, err := decodeTGA(data)
	return img, err
}

// decodeTGA decodes uncompressed and RLE true-color (24/32 bit) and
// grayscale (8 bit) TGA files. It returns the image and the source channel
// count.
func decodeTGA(data []byte) (*image.NRGBA, int, error) {
	if len(data) < tgaHeaderSize {
		return nil, 0, errors.New("tga: header truncated")
	}
	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(binary.LittleEndian.Uint16(data[12:14]))
	height := int(binary.LittleEndian.Uint16(data[14:16]))
	bpp := int(data[16])
	descriptor := data[17]

	if colorMapType != 0 {
		return nil, 0, errors.New("tga: color-mapped images are not supported")
	}
	gray := false
	switch imageType {
	case tgaTrueColor, tgaTrueColorRLE:
		if bpp != 24 && bpp != 32 {
			return nil, 0, fmt.Errorf("tga: unsupported true-color depth %d", bpp)
		}
	case tgaGray, tgaGrayRLE:
		if bpp != 8 {
			return nil, 0, fmt.Errorf("tga: unsupported grayscale depth %d", bpp)
		}
		gray = true
	default:
		return nil, 0, fmt.Errorf("tga: unsupported image type %d", imageType)
	}
	if width == 0 || height == 0 {
		return nil, 0, fmt.Errorf("tga: image is %dx%d", width, height)
	}

	offset := tgaHeaderSize + idLength
	if offset > len(data) {
		return nil, 0, errTGATruncated
	}
	size := bpp / 8
	count := width * height
	pixels := data[offset:]
	if imageType == tgaTrueColorRLE || imageType == tgaGrayRLE {
		var err error
		if pixels, err = expandTGARLE(pixels, count, size); err != nil {
			return nil, 0, err
		}
	}
	if len(pixels) < count*size {
		return nil, 0, errTGATruncated
	}

	// Low descriptor bits give the alpha depth; zero means the fourth byte
	// is padding.
	hasAlpha := size == 4 && descriptor&0x0f != 0
	topToBottom := descriptor&0x20 != 0

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < count; i++ {
		x, y := i%width, i/width
		if !topToBottom {
			y = height - 1 - y
		}
		src := pixels[i*size : (i+1)*size]
		dst := img.Pix[img.PixOffset(x, y):]
		if gray {
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], 0xff
			continue
		}
		// BGR(A) on disk.
		dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], 0xff
		if hasAlpha {
			dst[3] = src[3]
		}
	}

	channels := 3
	switch {
	case gray:
		channels = 1
	case hasAlpha:
		channels = 4
	}
	return img, channels, nil
}

// expandTGARLE unpacks run-length packets until count pixels of size bytes
// have been produced.
func expandTGARLE(data []byte, count, size int) ([]byte, error) {
	// A packet is at least two bytes and yields at most 128 pixels.
	if count > len(data)/2*128+128 {
		return nil, errTGATruncated
	}
	want := count * size
	out := make([]byte, 0, want)
	for len(out) < want {
		if len(data) == 0 {
			return nil, errTGATruncated
		}
		packet := data[0]
		data = data[1:]
		n := int(packet&0x7f) + 1

		if packet&0x80 != 0 {
			if len(data) < size {
				return nil, errTGATruncated
			}
			for i := 0; i < n; i++ {
				out = append(out, data[:size]...)
			}
			data = data[size:]
		} else {
			if len(data) < n*size {
				return nil, errTGATruncated
			}
			out = append(out, data[:n*size]...)
			data = data[n*size:]
		}
	}
	// A run may cross the end of the image.
	return out[:want], nil
}
