// Package memory holds the chunked float rasters that flow between
// execution groups.
//
// A Proxy stands for one full-resolution intermediate image and owns the
// mapping from chunk numbers to Buffers. A Buffer owns the raster of one
// chunk (or of an arbitrary temporary area), tracks its lifecycle state and
// user count, and can be evicted to disk and read back on demand.
package memory

import (
	"errors"
	"fmt"
)

// Buffer and proxy errors
var (
	ErrEmptyRect    = errors.New("memory: empty buffer rectangle")
	ErrTypeMismatch = errors.New("memory: data type mismatch")
	ErrInUse        = errors.New("memory: buffer has active users")
	ErrNotAvailable = errors.New("memory: buffer is not available")
	ErrNotComputed  = errors.New("memory: buffer has not been computed")
	ErrFreed        = errors.New("memory: buffer has been freed")
	ErrTemporary    = errors.New("memory: temporary buffers cannot be spilled")
	ErrRefCount     = errors.New("memory: user count underflow")
	ErrSpill        = errors.New("memory: spill to disk failed")
	ErrReadBack     = errors.New("memory: read back from disk failed")
	ErrChunkRange   = errors.New("memory: chunk number out of range")
	ErrChunkExists  = errors.New("memory: chunk buffer already exists")
	ErrChunkMissing = errors.New("memory: chunk buffer does not exist")
	ErrInvalidProxy = errors.New("memory: invalid proxy options")
)

// DataType tags the channel layout of a raster.
type DataType uint8

const (
	// DataTypeValue is a single scalar channel.
	DataTypeValue DataType = iota + 1
	// DataTypeVector is three channels (x, y, z).
	DataTypeVector
	// DataTypeColor is four channels (r, g, b, a).
	DataTypeColor
)

// Channels returns the number of floats per pixel.
func (t DataType) Channels() int {
	switch t {
	case DataTypeValue:
		return 1
	case DataTypeVector:
		return 3
	case DataTypeColor:
		return 4
	default:
		return 0
	}
}

// String returns the data type name.
func (t DataType) String() string {
	switch t {
	case DataTypeValue:
		return "value"
	case DataTypeVector:
		return "vector"
	case DataTypeColor:
		return "color"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined data types.
func (t DataType) Valid() bool {
	return t.Channels() > 0
}

// State is the lifecycle state of a Buffer.
type State uint8

const (
	// StateAllocated: memory is allocated, the producing operation has not run.
	StateAllocated State = iota + 1
	// StateCreated: the producing operation has written the raster.
	StateCreated
	// StateAvailable: the raster is complete and may be read.
	StateAvailable
	// StateStored: the raster lives on disk only.
	StateStored
	// StateFree: the buffer is no longer usable.
	StateFree
	// StateTemporary: the buffer covers an ad-hoc area, e.g. consolidated
	// from several chunks. Temporary buffers are never spilled.
	StateTemporary
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateCreated:
		return "created"
	case StateAvailable:
		return "available"
	case StateStored:
		return "stored"
	case StateFree:
		return "free"
	case StateTemporary:
		return "temporary"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
