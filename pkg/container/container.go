// Package container implements the self-describing binary envelope shared by
// every converted asset: a 4-byte kind tag, a schema version, a metadata blob
// and an opaque payload.
//
// Byte layout (little-endian):
//
//	[4 kind][4 version][4 metadata length][4 payload length][metadata][payload]
package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the fixed size of the envelope header.
const HeaderSize = 16

// Container format errors.
var (
	ErrTruncatedHeader = errors.New("truncated container header")
	ErrTruncatedBody   = errors.New("truncated container body")
	ErrTrailingData    = errors.New("trailing data after container payload")
	ErrTooLarge        = errors.New("container section too large")
)

// Kind is the 4-byte tag identifying which schema applies to a container.
type Kind [4]byte

// Known asset kinds.
var (
	KindTexture  = Kind{'T', 'E', 'X', 'R'}
	KindMesh     = Kind{'M', 'E', 'S', 'H'}
	KindMaterial = Kind{'M', 'A', 'T', 'X'}
	KindModel    = Kind{'M', 'O', 'D', 'L'}
)

// String returns the tag as text.
func (k Kind) String() string {
	return string(k[:])
}

// Container is a decoded envelope. Metadata and Payload are not interpreted
// here; unknown kinds pass through untouched.
type Container struct {
	Kind     Kind
	Version  uint32
	Metadata []byte
	Payload  []byte
}

// Size returns the encoded size of the container in bytes.
func (c *Container) Size() int {
	return HeaderSize + len(c.Metadata) + len(c.Payload)
}

// Header is the fixed-size prefix of an encoded container.
type Header struct {
	Kind           Kind
	Version        uint32
	MetadataLength uint32
	PayloadLength  uint32
}

// Header returns the header that Encode would write for c.
func (c *Container) Header() (Header, error) {
	if uint64(len(c.Metadata)) > math.MaxUint32 {
		return Header{}, fmt.Errorf("%w: metadata is %d bytes", ErrTooLarge, len(c.Metadata))
	}
	if uint64(len(c.Payload)) > math.MaxUint32 {
		return Header{}, fmt.Errorf("%w: payload is %d bytes", ErrTooLarge, len(c.Payload))
	}
	return Header{
		Kind:           c.Kind,
		Version:        c.Version,
		MetadataLength: uint32(len(c.Metadata)),
		PayloadLength:  uint32(len(c.Payload)),
	}, nil
}

// BodyLength returns the number of bytes that follow the header.
func (h Header) BodyLength() uint64 {
	return uint64(h.MetadataLength) + uint64(h.PayloadLength)
}

func (h Header) appendTo(dst []byte) []byte {
	dst = append(dst, h.Kind[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, h.Version)
	dst = binary.LittleEndian.AppendUint32(dst, h.MetadataLength)
	dst = binary.LittleEndian.AppendUint32(dst, h.PayloadLength)
	return dst
}

// ParseHeader decodes the 16-byte header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncatedHeader, len(data), HeaderSize)
	}
	var h Header
	copy(h.Kind[:], data[0:4])
	h.Version = binary.LittleEndian.Uint32(data[4:])
	h.MetadataLength = binary.LittleEndian.Uint32(data[8:])
	h.PayloadLength = binary.LittleEndian.Uint32(data[12:])
	return h, nil
}

// Encode serializes a container. Metadata and payload are written verbatim
// with no padding.
func Encode(c *Container) ([]byte, error) {
	h, err := c.Header()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, c.Size())
	out = h.appendTo(out)
	out = append(out, c.Metadata...)
	out = append(out, c.Payload...)
	return out, nil
}

// Decode parses a complete encoded container. The declared section lengths
// must account for every byte of data.
func Decode(data []byte) (*Container, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	body := data[HeaderSize:]
	if h.BodyLength() > uint64(len(body)) {
		return nil, fmt.Errorf("%w: header declares %d metadata + %d payload bytes, %d available",
			ErrTruncatedBody, h.MetadataLength, h.PayloadLength, len(body))
	}
	if h.BodyLength() < uint64(len(body)) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, uint64(len(body))-h.BodyLength())
	}

	metaEnd := int(h.MetadataLength)
	c := &Container{
		Kind:     h.Kind,
		Version:  h.Version,
		Metadata: bytes.Clone(body[:metaEnd]),
		Payload:  bytes.Clone(body[metaEnd:]),
	}
	// Keep empty sections non-nil so a decoded container compares equal to
	// one built from empty literals.
	if c.Metadata == nil {
		c.Metadata = []byte{}
	}
	if c.Payload == nil {
		c.Payload = []byte{}
	}
	return c, nil
}

// WriteTo writes the encoded container to w.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	h, err := c.Header()
	if err != nil {
		return 0, err
	}

	var written int64
	for _, part := range [][]byte{h.appendTo(make([]byte, 0, HeaderSize)), c.Metadata, c.Payload} {
		n, err := w.Write(part)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadFrom reads exactly one container from r. Reading stops after the
// declared payload; bytes after it are left in r.
func ReadFrom(r io.Reader) (*Container, error) {
	var hdr [HeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncatedHeader, n, HeaderSize)
		}
		return nil, err
	}

	h, _ := ParseHeader(hdr[:])
	c := &Container{Kind: h.Kind, Version: h.Version}

	// Read sections through LimitReader so a lying header cannot force a
	// huge allocation up front.
	if c.Metadata, err = readSection(r, h.MetadataLength); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	if c.Payload, err = readSection(r, h.PayloadLength); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return c, nil
}

func readSection(r io.Reader, length uint32) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, int64(length)))
	if err != nil {
		return nil, err
	}
	if n != int64(length) {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrTruncatedBody, length, n)
	}
	if buf.Len() == 0 {
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}
