package importer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func tgaHeader(imageType, bpp, descriptor byte, width, height int) []byte {
	h := make([]byte, tgaHeaderSize)
	h[2] = imageType
	h[12], h[13] = byte(width), byte(width>>8)
	h[14], h[15] = byte(height), byte(height>>8)
	h[16] = bpp
	h[17] = descriptor
	return h
}

func TestDecodeTGA(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		width    int
		height   int
		pixels   []byte
		channels int
	}{
		{
			name: "uncompressed bottom-up",
			data: append(tgaHeader(tgaTrueColor, 24, 0, 1, 2),
				0, 0, 255, // bottom row: red
				255, 0, 0, // top row: blue
			),
			width: 1, height: 2,
			pixels:   []byte{0, 0, 255, 255, 255, 0, 0, 255},
			channels: 3,
		},
		{
			name: "rle with alpha",
			data: append(tgaHeader(tgaTrueColorRLE, 32, 0x28, 3, 1),
				0x82, 10, 20, 30, 128,
			),
			width: 3, height: 1,
			pixels:   []byte{30, 20, 10, 128, 30, 20, 10, 128, 30, 20, 10, 128},
			channels: 4,
		},
		{
			name: "padding byte is not alpha",
			data: append(tgaHeader(tgaTrueColor, 32, 0x20, 1, 1),
				1, 2, 3, 0,
			),
			width: 1, height: 1,
			pixels:   []byte{3, 2, 1, 255},
			channels: 3,
		},
		{
			name: "grayscale rle raw packet",
			data: append(tgaHeader(tgaGrayRLE, 8, 0x20, 2, 1),
				0x01, 7, 9,
			),
			width: 2, height: 1,
			pixels:   []byte{7, 7, 7, 255, 9, 9, 9, 255},
			channels: 1,
		},
		{
			name: "image id is skipped",
			data: func() []byte {
				h := tgaHeader(tgaGray, 8, 0x20, 1, 1)
				h[0] = 3
				return append(h, 'a', 'b', 'c', 42)
			}(),
			width: 1, height: 1,
			pixels:   []byte{42, 42, 42, 255},
			channels: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, channels, err := decodeTGA(tt.data)
			if err != nil {
				t.Fatalf("decodeTGA() error: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.width || b.Dy() != tt.height {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.width, tt.height)
			}
			if !bytes.Equal(img.Pix, tt.pixels) {
				t.Errorf("Pix = %v, want %v", img.Pix, tt.pixels)
			}
			if channels != tt.channels {
				t.Errorf("channels = %d, want %d", channels, tt.channels)
			}
		})
	}
}

func TestDecodeTGAErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short header", make([]byte, 10)},
		{"color mapped", func() []byte {
			h := tgaHeader(1, 8, 0, 1, 1)
			h[1] = 1
			return h
		}()},
		{"bad depth", tgaHeader(tgaTrueColor, 16, 0, 1, 1)},
		{"bad gray depth", tgaHeader(tgaGray, 24, 0, 1, 1)},
		{"unknown type", tgaHeader(9, 24, 0, 1, 1)},
		{"zero size", tgaHeader(tgaTrueColor, 24, 0, 0, 1)},
		{"truncated pixels", append(tgaHeader(tgaTrueColor, 24, 0, 2, 1), 1, 2, 3)},
		{"truncated run", append(tgaHeader(tgaTrueColorRLE, 24, 0, 2, 1), 0x81, 1)},
		{"truncated raw packet", append(tgaHeader(tgaTrueColorRLE, 24, 0, 2, 1), 0x01, 1, 2, 3)},
		{"rle larger than data", append(tgaHeader(tgaTrueColorRLE, 32, 0, 65535, 65535), 0xff, 1, 2, 3, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decodeTGA(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeImagePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{G: 255, B: 10, A: 128})

	pic, err := DecodeImage("textures/wall.PNG", encodePNG(t, src), ImageOptions{})
	if err != nil {
		t.Fatalf("DecodeImage() error: %v", err)
	}
	if pic.Width != 2 || pic.Height != 1 {
		t.Errorf("size = %dx%d, want 2x1", pic.Width, pic.Height)
	}
	if !bytes.Equal(pic.Pixels, src.Pix) {
		t.Errorf("Pixels = %v, want %v", pic.Pixels, src.Pix)
	}
	if pic.Channels != 4 {
		t.Errorf("Channels = %d, want 4", pic.Channels)
	}
	if got := pic.NRGBA().NRGBAAt(1, 0); got != (color.NRGBA{G: 255, B: 10, A: 128}) {
		t.Errorf("NRGBA().At(1,0) = %v", got)
	}
}

func TestDecodeImageChannels(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.Pix = []byte{0, 50, 100, 150}

	opaque := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.RGBA{1, 2, 3, 255}})
	translucent := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.RGBA{0, 0, 0, 0}})

	tests := []struct {
		name string
		img  image.Image
		want int
	}{
		{"gray", gray, 1},
		{"opaque palette", opaque, 3},
		{"palette with alpha", translucent, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pic, err := DecodeImage("x.png", encodePNG(t, tt.img), ImageOptions{})
			if err != nil {
				t.Fatalf("DecodeImage() error: %v", err)
			}
			if pic.Channels != tt.want {
				t.Errorf("Channels = %d, want %d", pic.Channels, tt.want)
			}
			if len(pic.Pixels) != int(pic.Width*pic.Height*4) {
				t.Errorf("len(Pixels) = %d", len(pic.Pixels))
			}
		})
	}
}

func TestDecodeImageMagentaKey(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, B: 255, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, src); err != nil {
		t.Fatalf("bmp.Encode() error: %v", err)
	}

	plain, err := DecodeImage("sprite.bmp", buf.Bytes(), ImageOptions{})
	if err != nil {
		t.Fatalf("DecodeImage() error: %v", err)
	}
	if !bytes.Equal(plain.Pixels[:4], []byte{255, 0, 255, 255}) {
		t.Errorf("unkeyed pixel = %v", plain.Pixels[:4])
	}

	keyed, err := DecodeImage("sprite.bmp", buf.Bytes(), ImageOptions{MagentaKey: true})
	if err != nil {
		t.Fatalf("DecodeImage() error: %v", err)
	}
	want := []byte{0, 0, 0, 0, 1, 2, 3, 255}
	if !bytes.Equal(keyed.Pixels, want) {
		t.Errorf("keyed Pixels = %v, want %v", keyed.Pixels, want)
	}
	if keyed.Channels != 4 {
		t.Errorf("Channels = %d, want 4", keyed.Channels)
	}
}

func TestIsMagentaKey(t *testing.T) {
	tests := []struct {
		r, g, b uint8
		want    bool
	}{
		{255, 0, 255, true},
		{251, 9, 250, true},
		{249, 0, 255, false},
		{255, 11, 255, false},
		{255, 0, 0, false},
	}
	for _, tt := range tests {
		if got := isMagentaKey(tt.r, tt.g, tt.b); got != tt.want {
			t.Errorf("isMagentaKey(%d,%d,%d) = %v, want %v", tt.r, tt.g, tt.b, got, tt.want)
		}
	}
}

func TestDecodeImageErrors(t *testing.T) {
	if _, err := DecodeImage("model.psd", []byte{1, 2, 3}, ImageOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown extension: got %v, want ErrUnsupported", err)
	}
	if _, err := DecodeImage("broken.png", []byte("not a png"), ImageOptions{}); !errors.Is(err, ErrImport) {
		t.Errorf("corrupt png: got %v, want ErrImport", err)
	}
	if _, err := DecodeImage("broken.tga", []byte{1}, ImageOptions{}); !errors.Is(err, ErrImport) {
		t.Errorf("corrupt tga: got %v, want ErrImport", err)
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dot.tga")
	data := append(tgaHeader(tgaTrueColor, 24, 0x20, 1, 1), 3, 2, 1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	pic, err := LoadImage(path, ImageOptions{})
	if err != nil {
		t.Fatalf("LoadImage() error: %v", err)
	}
	if !bytes.Equal(pic.Pixels, []byte{1, 2, 3, 255}) {
		t.Errorf("Pixels = %v", pic.Pixels)
	}

	if _, err := LoadImage(filepath.Join(dir, "missing.png"), ImageOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v, want os.ErrNotExist", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want SourceKind
	}{
		{"a/b/wall.png", SourceImage},
		{"WALL.TGA", SourceImage},
		{"photo.jpeg", SourceImage},
		{"sky.webp", SourceImage},
		{"ship.gltf", SourceScene},
		{"ship.GLB", SourceScene},
		{"data/sprite/poring.spr", SourceSprite},
		{"data/model/house.RSM", SourceRSM},
		{"poring.act", SourceUnknown},
		{"notes.txt", SourceUnknown},
		{"Makefile", SourceUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
