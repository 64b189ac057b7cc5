// Package spill implements the on-disk format used to evict chunk buffers
// from memory.
//
// A spill file holds the channel-interleaved float raster of exactly one
// chunk, preceded by a small header that identifies the chunk and the codec
// used for the payload. Files are written once and read back at most once;
// the owning buffer deletes them.
package spill

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/x448/float16"

	"github.com/mrjoshuak/go-compositor/internal/xdr"
)

// Codec errors
var (
	ErrUnknownCodec = errors.New("spill: unknown codec")
	ErrCorrupt      = errors.New("spill: corrupted chunk file")
)

// Codec selects how the float payload of a spill file is encoded.
type Codec uint8

const (
	// CodecNone stores raw little-endian float32 values. Byte exact.
	CodecNone Codec = iota

	// CodecZip groups the bytes of each float, applies a byte-delta
	// predictor and deflates the result with zlib. Byte exact.
	CodecZip

	// CodecHalf stores IEEE 754 half floats. Lossy: values outside the
	// half range or with more than 11 bits of mantissa are rounded.
	CodecHalf
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZip:
		return "zip"
	case CodecHalf:
		return "half"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// Lossless reports whether a spill/read-back cycle reproduces every value
// bit for bit.
func (c Codec) Lossless() bool {
	return c == CodecNone || c == CodecZip
}

// ParseCodec converts a codec name into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "raw":
		return CodecNone, nil
	case "zip", "zlib":
		return CodecZip, nil
	case "half":
		return CodecHalf, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// encodePayload encodes values with the given codec.
func encodePayload(c Codec, values []float32) ([]byte, error) {
	switch c {
	case CodecNone:
		out := make([]byte, len(values)*4)
		xdr.PutFloat32s(out, values)
		return out, nil
	case CodecZip:
		raw := make([]byte, len(values)*4)
		xdr.PutFloat32s(raw, values)
		grouped := interleave(raw, 4)
		predict(grouped)
		return deflate(grouped)
	case CodecHalf:
		out := make([]byte, len(values)*2)
		for i, v := range values {
			xdr.ByteOrder.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	default:
		return nil, ErrUnknownCodec
	}
}

// decodePayload decodes payload into dst, which must have exactly the
// number of values that were encoded.
func decodePayload(c Codec, payload []byte, dst []float32) error {
	switch c {
	case CodecNone:
		if len(payload) != len(dst)*4 {
			return ErrCorrupt
		}
		xdr.Float32s(dst, payload)
		return nil
	case CodecZip:
		grouped := make([]byte, len(dst)*4)
		if err := inflateTo(grouped, payload); err != nil {
			return err
		}
		unpredict(grouped)
		xdr.Float32s(dst, deinterleave(grouped, 4))
		return nil
	case CodecHalf:
		if len(payload) != len(dst)*2 {
			return ErrCorrupt
		}
		for i := range dst {
			dst[i] = float16.Frombits(xdr.ByteOrder.Uint16(payload[i*2:])).Float32()
		}
		return nil
	default:
		return ErrUnknownCodec
	}
}

// interleave groups byte k of every stride-sized element together:
//
//	[a0,a1,a2,a3, b0,b1,b2,b3] -> [a0,b0, a1,b1, a2,b2, a3,b3]
func interleave(data []byte, stride int) []byte {
	out := make([]byte, len(data))
	n := len(data) / stride
	for offset := 0; offset < stride; offset++ {
		base := offset * n
		for elem := 0; elem < n; elem++ {
			out[base+elem] = data[elem*stride+offset]
		}
	}
	copy(out[stride*n:], data[stride*n:])
	return out
}

// deinterleave reverses interleave.
func deinterleave(data []byte, stride int) []byte {
	out := make([]byte, len(data))
	n := len(data) / stride
	for offset := 0; offset < stride; offset++ {
		base := offset * n
		for elem := 0; elem < n; elem++ {
			out[elem*stride+offset] = data[base+elem]
		}
	}
	copy(out[stride*n:], data[stride*n:])
	return out
}

// predict replaces every byte with its difference from its predecessor.
func predict(data []byte) {
	for i := len(data) - 1; i >= 1; i-- {
		data[i] -= data[i-1]
	}
}

// unpredict reverses predict.
func unpredict(data []byte) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}

// Pool for zlib writers. Each item carries its destination buffer.
type zlibWriterPoolItem struct {
	writer *zlib.Writer
	buf    *bytes.Buffer
}

var zlibWriterPool = sync.Pool{
	New: func() any {
		buf := new(bytes.Buffer)
		w, _ := zlib.NewWriterLevel(buf, zlib.BestSpeed)
		return &zlibWriterPoolItem{writer: w, buf: buf}
	},
}

// deflate compresses src with zlib at best-speed level. Spill files are
// short-lived, so throughput matters more than ratio.
func deflate(src []byte) ([]byte, error) {
	item := zlibWriterPool.Get().(*zlibWriterPoolItem)
	defer zlibWriterPool.Put(item)
	item.buf.Reset()
	item.writer.Reset(item.buf)

	if _, err := item.writer.Write(src); err != nil {
		item.writer.Close()
		return nil, err
	}
	if err := item.writer.Close(); err != nil {
		return nil, err
	}

	result := make([]byte, item.buf.Len())
	copy(result, item.buf.Bytes())
	return result, nil
}

// inflateTo decompresses src into dst, which must be exactly the size of
// the decompressed data.
func inflateTo(dst, src []byte) error {
	if len(src) == 0 {
		if len(dst) != 0 {
			return ErrCorrupt
		}
		return nil
	}
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return ErrCorrupt
	}
	defer r.Close()

	n, err := io.ReadFull(r, dst)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return ErrCorrupt
	}
	if n != len(dst) {
		return ErrCorrupt
	}
	return nil
}
