// Package xdr encodes the little-endian fields of chunk spill files.
//
// Decoder keeps the first error it hits and returns zero values after it,
// so a header can be read field by field and checked once at the end.
package xdr

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrShortBuffer is returned when a field extends past the end of the data.
	ErrShortBuffer = errors.New("xdr: buffer too short")

	// ErrNegativeSize is returned for a negative byte count.
	ErrNegativeSize = errors.New("xdr: negative size")
)

// ByteOrder is the byte order of every spill file field.
var ByteOrder = binary.LittleEndian

// Decoder reads fields from a byte slice.
type Decoder struct {
	data []byte
	pos  int
	err  error
}

// NewDecoder returns a Decoder positioned at the start of data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first error encountered.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// take returns the next n bytes, or nil once an error has occurred.
func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 {
		d.err = ErrNegativeSize
		return nil
	}
	if n > len(d.data)-d.pos {
		d.err = ErrShortBuffer
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

// Bytes returns the next n bytes. The slice aliases the decoder's data.
func (d *Decoder) Bytes(n int) []byte { return d.take(n) }

// Uint8 reads one byte.
func (d *Decoder) Uint8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

// Uint32 reads an unsigned 32-bit field.
func (d *Decoder) Uint32() uint32 {
	if b := d.take(4); b != nil {
		return ByteOrder.Uint32(b)
	}
	return 0
}

// Int32 reads a signed 32-bit field.
func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }

// Uint64 reads an unsigned 64-bit field.
func (d *Decoder) Uint64() uint64 {
	if b := d.take(8); b != nil {
		return ByteOrder.Uint64(b)
	}
	return 0
}

// Encoder appends fields to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with room for size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, 0, size)}
}

// Data returns the encoded bytes.
func (e *Encoder) Data() []byte { return e.buf }

// Bytes appends b unchanged.
func (e *Encoder) Bytes(b []byte) { e.buf = append(e.buf, b...) }

// Uint8 appends one byte.
func (e *Encoder) Uint8(v uint8) { e.buf = append(e.buf, v) }

// Uint32 appends an unsigned 32-bit field.
func (e *Encoder) Uint32(v uint32) { e.buf = ByteOrder.AppendUint32(e.buf, v) }

// Int32 appends a signed 32-bit field.
func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }

// Uint64 appends an unsigned 64-bit field.
func (e *Encoder) Uint64(v uint64) { e.buf = ByteOrder.AppendUint64(e.buf, v) }

// PutFloat32s stores src in dst as IEEE 754 bit patterns. dst must hold
// 4*len(src) bytes.
func PutFloat32s(dst []byte, src []float32) {
	for i, v := range src {
		ByteOrder.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// Float32s loads len(dst) IEEE 754 values from src.
func Float32s(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(ByteOrder.Uint32(src[i*4:]))
	}
}
