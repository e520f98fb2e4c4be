// Package compress implements the optional block compression applied to
// container payloads. The mode a payload was written with is recorded by the
// caller in its own metadata; this package never stores it.
package compress

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression errors.
var (
	ErrSizeMismatch  = errors.New("decompressed size mismatch")
	ErrCorruptStream = errors.New("corrupt compressed stream")
	ErrUnknownMode   = errors.New("unknown compression mode")
)

// MaxDecodedSize is the largest zstd payload Decompress will produce.
const MaxDecodedSize = 1 << 30

// Mode identifies the algorithm applied to a payload.
type Mode uint8

const (
	// None stores the payload as-is.
	None Mode = iota
	// LZ4 is LZ4 block compression at the fast level.
	LZ4
	// LZ4HC produces the same LZ4 block format with the slower high
	// compression search. Decoding is identical to LZ4.
	LZ4HC
	// Zstd is a single zstd frame at the default level.
	Zstd
)

// String returns the name stored in metadata.
func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case LZ4HC:
		return "lz4hc"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMode parses a mode name. Matching is case-insensitive and the empty
// string means None.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "lz4hc":
		return LZ4HC, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if m > Zstd {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Bound returns the worst-case compressed size for n input bytes.
func Bound(m Mode, n int) int {
	switch m {
	case LZ4, LZ4HC:
		return lz4.CompressBlockBound(n)
	case Zstd:
		// zstd frame header plus one raw block header per 128 KiB.
		return n + n>>7 + 64
	default:
		return n
	}
}

// Compress compresses data with mode m. Unlike a size-optimizing store,
// incompressible input is never rejected: the output may be larger than the
// input but always fits within Bound(m, len(data)).
func Compress(m Mode, data []byte) ([]byte, error) {
	switch m {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data, false)
	case LZ4HC:
		return compressLZ4(data, true)
	case Zstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, Bound(Zstd, len(data)))), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, uint8(m))
	}
}

// Decompress reverses Compress. The caller supplies the exact decompressed
// size recovered from its metadata; any other outcome is an error.
func Decompress(m Mode, compressed []byte, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrSizeMismatch, size)
	}

	switch m {
	case None:
		if len(compressed) != size {
			return nil, fmt.Errorf("%w: stored %d bytes, expected %d", ErrSizeMismatch, len(compressed), size)
		}
		return compressed, nil
	case LZ4, LZ4HC:
		return decompressLZ4(compressed, size)
	case Zstd:
		return decompressZstd(compressed, size)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, uint8(m))
	}
}

func compressLZ4(data []byte, high bool) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	// A destination of CompressBlockBound bytes makes CompressBlock succeed
	// even for incompressible input.
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	var (
		n   int
		err error
	)
	if high {
		var c lz4.CompressorHC
		n, err = c.CompressBlock(data, dst)
	} else {
		var c lz4.Compressor
		n, err = c.CompressBlock(data, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("lz4 compress: no output for %d input bytes", len(data))
	}
	return dst[:n], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	if size == 0 {
		if len(compressed) != 0 {
			return nil, fmt.Errorf("%w: %d compressed bytes for empty payload", ErrSizeMismatch, len(compressed))
		}
		return []byte{}, nil
	}

	// Measure the block before allocating the destination.
	n, err := lz4BlockLen(compressed)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("%w: lz4 block holds %d bytes, expected %d", ErrSizeMismatch, n, size)
	}

	dst := make([]byte, size)
	n, err = lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %w", ErrCorruptStream, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrSizeMismatch, n, size)
	}
	return dst, nil
}

// lz4BlockLen walks the sequences of an LZ4 block and returns the number of
// bytes it decodes to, without decoding it.
func lz4BlockLen(src []byte) (int, error) {
	corrupt := func(msg string) (int, error) {
		return 0, fmt.Errorf("%w: lz4: %s", ErrCorruptStream, msg)
	}
	if len(src) == 0 {
		return corrupt("empty block")
	}

	si, n := 0, 0
	// extend reads the 255-continued length bytes that follow a nibble of 15.
	extend := func(l int) (int, bool) {
		for {
			if si >= len(src) {
				return 0, false
			}
			x := int(src[si])
			si++
			l += x
			if x != 0xff {
				return l, true
			}
		}
	}

	for si < len(src) {
		token := src[si]
		si++

		lits := int(token >> 4)
		if lits == 0xf {
			var ok bool
			if lits, ok = extend(lits); !ok {
				return corrupt("truncated literal length")
			}
		}
		if lits > len(src)-si {
			return corrupt("literals overrun block")
		}
		si += lits
		n += lits

		if si == len(src) {
			if token&0xf != 0 {
				return corrupt("block ends inside a match")
			}
			break
		}
		if len(src)-si < 2 {
			return corrupt("truncated match offset")
		}
		offset := int(src[si]) | int(src[si+1])<<8
		si += 2
		if offset == 0 || offset > n {
			return corrupt(fmt.Sprintf("match offset %d out of range", offset))
		}

		match := int(token & 0xf)
		if match == 0xf {
			var ok bool
			if match, ok = extend(match); !ok {
				return corrupt("truncated match length")
			}
		}
		n += match + 4
	}
	return n, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	if uint64(size) > MaxDecodedSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrSizeMismatch, size, uint64(MaxDecodedSize))
	}
	var h zstd.Header
	if err := h.Decode(compressed); err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCorruptStream, err)
	}
	if h.HasFCS && h.FrameContentSize != uint64(size) {
		return nil, fmt.Errorf("%w: zstd frame holds %d bytes, expected %d", ErrSizeMismatch, h.FrameContentSize, size)
	}

	// The decoder sizes its own buffer from the frame header.
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, fmt.Errorf("%w: zstd: %w", ErrSizeMismatch, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCorruptStream, err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: zstd produced %d bytes, expected %d", ErrSizeMismatch, len(out), size)
	}
	return out, nil
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll use,
// so one of each serves every packer.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}
