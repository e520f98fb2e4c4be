// Package pack converts in-memory asset data to and from containers:
// textures, meshes, materials and models.
package pack

import (
	"errors"
	"fmt"
	"math"

	"github.com/Faultbox/midgard-assets/pkg/formats"
)

// Packer errors.
var (
	ErrEmpty            = errors.New("empty input")
	ErrRagged           = errors.New("attribute arrays have different lengths")
	ErrIndexRange       = errors.New("index out of range")
	ErrPixelSize        = errors.New("pixel buffer does not match dimensions")
	ErrMissingTransform = errors.New("node has no transform")
	ErrDuplicateNode    = errors.New("node has more than one transform")
)

// payloadLen converts a size declared in metadata to an int, rejecting sizes
// this platform cannot address.
func payloadLen(n uint64) (int, error) {
	if n > math.MaxInt {
		return 0, fmt.Errorf("%w: declared size %d is too large", formats.ErrPayloadSize, n)
	}
	return int(n), nil
}
