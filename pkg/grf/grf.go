// Package grf reads GRF 0x200 archives so textures stored inside them can be
// converted without unpacking the archive first.
package grf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zlib"

	"github.com/Faultbox/midgard-assets/pkg/encoding"
)

const (
	grfMagic   = "Master of Magic"
	headerSize = 46
	entrySize  = 17
	version200 = 0x200

	flagFile      = 0x01
	flagEncrypted = 0x02 | 0x04
)

// Archive errors.
var (
	ErrInvalidMagic       = errors.New("not a GRF archive")
	ErrUnsupportedVersion = errors.New("unsupported GRF version")
	ErrCorruptTable       = errors.New("corrupt GRF file table")
	ErrNotFound           = errors.New("file not found in archive")
	ErrEncrypted          = errors.New("encrypted GRF entries are not supported")
	ErrCorruptEntry       = errors.New("corrupt GRF entry")
)

// Header is the fixed archive header.
type Header struct {
	Magic         [15]byte
	EncryptionKey [15]byte
	TableOffset   uint32
	Seed          uint32
	FileCount     uint32
	Version       uint32
}

// Entry describes one file in the archive.
type Entry struct {
	// Name is the normalized UTF-8 path, original case preserved.
	Name             string
	CompressedSize   uint32
	AlignedSize      uint32
	UncompressedSize uint32
	Flags            uint8
	Offset           uint32
}

// Archive is an opened GRF archive. Reads are safe for concurrent use when
// the underlying ReaderAt is.
type Archive struct {
	r       io.ReaderAt
	size    int64
	closer  io.Closer
	header  Header
	entries map[string]*Entry
}

// Open opens the archive at path.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	a, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// NewReader reads the header and file table of an archive of the given size.
func NewReader(r io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{r: r, size: size, entries: make(map[string]*Entry)}
	if err := a.readHeader(); err != nil {
		return nil, err
	}
	if err := a.readFileTable(); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the file opened by Open.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func (a *Archive) readHeader() error {
	buf := make([]byte, headerSize)
	if _, err := a.r.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading header: %w", ErrInvalidMagic, err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &a.header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if string(a.header.Magic[:]) != grfMagic {
		return ErrInvalidMagic
	}
	if a.header.Version != version200 {
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedVersion, a.header.Version)
	}
	return nil
}

func (a *Archive) readFileTable() error {
	tableOffset := int64(a.header.TableOffset) + headerSize
	if tableOffset+8 > a.size {
		return fmt.Errorf("%w: table offset %d past end of archive", ErrCorruptTable, tableOffset)
	}

	var sizes [8]byte
	if _, err := a.r.ReadAt(sizes[:], tableOffset); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptTable, err)
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[0:])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])
	if tableOffset+8+int64(compressedSize) > a.size {
		return fmt.Errorf("%w: table of %d bytes overruns archive", ErrCorruptTable, compressedSize)
	}

	compressed := make([]byte, compressedSize)
	if _, err := a.r.ReadAt(compressed, tableOffset+8); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptTable, err)
	}
	table, err := inflate(compressed, uncompressedSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptTable, err)
	}

	count := int64(a.header.FileCount) - int64(a.header.Seed) - 7
	if count < 0 {
		return fmt.Errorf("%w: negative file count", ErrCorruptTable)
	}

	offset := 0
	for i := int64(0); i < count; i++ {
		nameEnd := bytes.IndexByte(table[offset:], 0)
		if nameEnd < 0 {
			return fmt.Errorf("%w: entry %d has no name terminator", ErrCorruptTable, i)
		}
		name := encoding.NormalizePath(encoding.LegacyName(table[offset : offset+nameEnd]))
		offset += nameEnd + 1

		if offset+entrySize > len(table) {
			return fmt.Errorf("%w: entry %d truncated", ErrCorruptTable, i)
		}
		e := &Entry{
			Name:             name,
			CompressedSize:   binary.LittleEndian.Uint32(table[offset:]),
			AlignedSize:      binary.LittleEndian.Uint32(table[offset+4:]),
			UncompressedSize: binary.LittleEndian.Uint32(table[offset+8:]),
			Flags:            table[offset+12],
			Offset:           binary.LittleEndian.Uint32(table[offset+13:]),
		}
		offset += entrySize

		// Directory entries carry no data.
		if e.Flags&flagFile != 0 {
			a.entries[encoding.FoldPath(name)] = e
		}
	}
	return nil
}

// Len returns the number of files in the archive.
func (a *Archive) Len() int {
	return len(a.entries)
}

// List returns the names of all files, sorted.
func (a *Archive) List() []string {
	names := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Stat returns the entry for name. Lookup ignores case and slash direction.
func (a *Archive) Stat(name string) (*Entry, bool) {
	e, ok := a.entries[encoding.FoldPath(name)]
	return e, ok
}

// Contains reports whether the archive holds name.
func (a *Archive) Contains(name string) bool {
	_, ok := a.Stat(name)
	return ok
}

// Read returns the uncompressed contents of name.
func (a *Archive) Read(name string) ([]byte, error) {
	e, ok := a.Stat(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %s", ErrEncrypted, e.Name)
	}
	if e.CompressedSize > e.AlignedSize {
		return nil, fmt.Errorf("%w: %s: compressed size %d exceeds aligned size %d",
			ErrCorruptEntry, e.Name, e.CompressedSize, e.AlignedSize)
	}

	start := int64(e.Offset) + headerSize
	if start+int64(e.CompressedSize) > a.size {
		return nil, fmt.Errorf("%w: %s: data overruns archive", ErrCorruptEntry, e.Name)
	}
	data := make([]byte, e.CompressedSize)
	if _, err := a.r.ReadAt(data, start); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptEntry, e.Name, err)
	}

	if e.CompressedSize == e.UncompressedSize {
		return data, nil
	}
	out, err := inflate(data, e.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptEntry, e.Name, err)
	}
	return out, nil
}

// maxDeflateRatio is the largest expansion a deflate stream can reach.
const maxDeflateRatio = 1032

// inflate decompresses a zlib stream that must yield exactly size bytes.
func inflate(data []byte, size uint32) ([]byte, error) {
	if uint64(size) > uint64(len(data))*maxDeflateRatio+64 {
		return nil, fmt.Errorf("%d compressed bytes cannot inflate to %d", len(data), size)
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("inflating %d bytes: %w", size, err)
	}
	return out, nil
}
