package importer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// SPR sprite sheets hold palette-indexed frames followed by optional
// true-color frames. The 256-entry RGBA palette is the last 1024 bytes of
// the file.
const sprPaletteSize = 256 * 4

// sprMaxFramePixels caps RLE frames, whose decoded size is not bounded by
// the bytes left in the file.
const sprMaxFramePixels = 4096 * 4096

var errSpriteTruncated = errors.New("truncated sprite data")

// DecodeSprite decodes every frame of an SPR sprite sheet into straight
// alpha RGBA8 pictures. Palette index 0 is transparent. Blank frames decode
// as a single transparent pixel so frame numbering is kept.
func DecodeSprite(data []byte) ([]Picture, error) {
	frames, err := decodeSprite(data)
	if err != nil {
		return nil, fmt.Errorf("%w: sprite: %w", ErrImport, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: sprite has no frames", ErrImport)
	}
	return frames, nil
}

func decodeSprite(data []byte) ([]Picture, error) {
	if len(data) < 4 {
		return nil, errSpriteTruncated
	}
	if data[0] != 'S' || data[1] != 'P' {
		return nil, errors.New("invalid magic, expected SP")
	}
	// The version is stored minor first.
	major, minor := data[3], data[2]
	if major < 1 || major > 2 || (major == 1 && minor < 1) {
		return nil, fmt.Errorf("unsupported version %d.%d", major, minor)
	}

	header := 6
	if major >= 2 {
		header = 8
	}
	if len(data) < header+sprPaletteSize {
		return nil, errSpriteTruncated
	}
	indexed := int(binary.LittleEndian.Uint16(data[4:]))
	trueColor := 0
	if major >= 2 {
		trueColor = int(binary.LittleEndian.Uint16(data[6:]))
	}
	palette := data[len(data)-sprPaletteSize:]
	r := bytes.NewReader(data[header : len(data)-sprPaletteSize])
	rle := major == 2 && minor >= 1

	frames := make([]Picture, 0, indexed+trueColor)
	for i := 0; i < indexed; i++ {
		pic, err := readIndexedFrame(r, palette, rle)
		if err != nil {
			return nil, fmt.Errorf("indexed frame %d: %w", i, err)
		}
		frames = append(frames, pic)
	}
	for i := 0; i < trueColor; i++ {
		// Some files declare more true-color frames than they store.
		if r.Len() == 0 {
			break
		}
		pic, err := readTrueColorFrame(r)
		if err != nil {
			return nil, fmt.Errorf("true-color frame %d: %w", i, err)
		}
		frames = append(frames, pic)
	}
	return frames, nil
}

func readFrameSize(r *bytes.Reader) (w, h uint16, err error) {
	var size [2]uint16
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, 0, errSpriteTruncated
	}
	return size[0], size[1], nil
}

func blankFrame(w, h uint16) bool {
	return w == 0 || h == 0 || w == 0xffff || h == 0xffff
}

func transparentPixel() Picture {
	return Picture{Pixels: make([]byte, 4), Width: 1, Height: 1, Channels: 4}
}

func readIndexedFrame(r *bytes.Reader, palette []byte, rle bool) (Picture, error) {
	w, h, err := readFrameSize(r)
	if err != nil {
		return Picture{}, err
	}
	if blankFrame(w, h) {
		return transparentPixel(), nil
	}

	n := int(w) * int(h)
	if n > sprMaxFramePixels {
		return Picture{}, fmt.Errorf("%dx%d frame is too large", w, h)
	}
	var indices []byte
	if rle {
		var size uint16
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return Picture{}, errSpriteTruncated
		}
		packed := make([]byte, size)
		if _, err := io.ReadFull(r, packed); err != nil {
			return Picture{}, errSpriteTruncated
		}
		indices = expandSpriteRLE(packed, n)
	} else {
		if r.Len() < n {
			return Picture{}, errSpriteTruncated
		}
		indices = make([]byte, n)
		if _, err := io.ReadFull(r, indices); err != nil {
			return Picture{}, errSpriteTruncated
		}
	}

	pixels := make([]byte, n*4)
	for i, idx := range indices {
		if idx == 0 {
			continue
		}
		c := palette[int(idx)*4:]
		copy(pixels[i*4:], c[:3])
		pixels[i*4+3] = 255
	}
	return Picture{Pixels: pixels, Width: uint32(w), Height: uint32(h), Channels: 4}, nil
}

// expandSpriteRLE undoes the zero-run encoding of indexed frames: a 0x00
// byte is followed by a run length, and a run length of zero still stands
// for one zero. The result is padded or cut to n bytes.
func expandSpriteRLE(packed []byte, n int) []byte {
	out := make([]byte, 0, n)
	for i := 0; i < len(packed) && len(out) < n; i++ {
		b := packed[i]
		if b != 0 {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(packed) {
			break
		}
		run := max(int(packed[i]), 1)
		for j := 0; j < run && len(out) < n; j++ {
			out = append(out, 0)
		}
	}
	// Past len the backing array is still zero.
	return out[:n]
}

func readTrueColorFrame(r *bytes.Reader) (Picture, error) {
	w, h, err := readFrameSize(r)
	if err != nil {
		return Picture{}, err
	}
	if blankFrame(w, h) {
		return transparentPixel(), nil
	}

	n := int(w) * int(h)
	if r.Len() < n*4 {
		return Picture{}, errSpriteTruncated
	}
	abgr := make([]byte, n*4)
	if _, err := io.ReadFull(r, abgr); err != nil {
		return Picture{}, errSpriteTruncated
	}
	pixels := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := abgr[i*4 : i*4+4]
		pixels[i*4+0] = s[3]
		pixels[i*4+1] = s[2]
		pixels[i*4+2] = s[1]
		pixels[i*4+3] = s[0]
	}
	return Picture{Pixels: pixels, Width: uint32(w), Height: uint32(h), Channels: 4}, nil
}
