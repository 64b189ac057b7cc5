package spill

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mrjoshuak/go-compositor/internal/xdr"
)

// ErrHeaderMismatch is returned when a spill file does not describe the
// chunk it is being read back into.
var ErrHeaderMismatch = errors.New("spill: chunk file does not match buffer")

const (
	magic      = "CMPC"
	version    = 1
	headerSize = 4 + 4 + 4 + 16 + 8
)

// Header identifies the chunk stored in a spill file.
type Header struct {
	Codec       Codec
	Channels    int
	ChunkNumber int
	Rect        image.Rectangle
}

// values returns the number of floats described by the header.
func (h Header) values() int {
	return h.Rect.Dx() * h.Rect.Dy() * h.Channels
}

// matches reports whether h describes the same chunk as want.
// The codec is taken from the file and is not compared.
func (h Header) matches(want Header) bool {
	return h.Channels == want.Channels &&
		h.ChunkNumber == want.ChunkNumber &&
		h.Rect == want.Rect
}

// Encode serializes a chunk raster into spill file bytes.
func Encode(h Header, data []float32) ([]byte, error) {
	if len(data) != h.values() {
		return nil, fmt.Errorf("spill: raster has %d values, header describes %d", len(data), h.values())
	}
	payload, err := encodePayload(h.Codec, data)
	if err != nil {
		return nil, err
	}

	e := xdr.NewEncoder(headerSize + len(payload))
	e.Bytes([]byte(magic))
	e.Uint8(version)
	e.Uint8(uint8(h.Codec))
	e.Uint8(uint8(h.Channels))
	e.Uint8(0)
	e.Uint32(uint32(h.ChunkNumber))
	e.Int32(int32(h.Rect.Min.X))
	e.Int32(int32(h.Rect.Min.Y))
	e.Int32(int32(h.Rect.Max.X))
	e.Int32(int32(h.Rect.Max.Y))
	e.Uint64(uint64(len(payload)))
	e.Bytes(payload)
	return e.Data(), nil
}

// ReadHeader parses the header of spill file bytes.
func ReadHeader(file []byte) (Header, []byte, error) {
	d := xdr.NewDecoder(file)
	if string(d.Bytes(len(magic))) != magic {
		return Header{}, nil, ErrCorrupt
	}
	if v := d.Uint8(); v != version {
		return Header{}, nil, fmt.Errorf("%w: version %d", ErrCorrupt, v)
	}
	codec := d.Uint8()
	channels := d.Uint8()
	d.Uint8()
	chunk := d.Uint32()
	x0, y0, x1, y1 := d.Int32(), d.Int32(), d.Int32(), d.Int32()
	size := d.Uint64()
	if d.Err() != nil || size > uint64(d.Remaining()) {
		return Header{}, nil, ErrCorrupt
	}
	payload := d.Bytes(int(size))
	h := Header{
		Codec:       Codec(codec),
		Channels:    int(channels),
		ChunkNumber: int(chunk),
		Rect:        image.Rect(int(x0), int(y0), int(x1), int(y1)),
	}
	return h, payload, nil
}

// Decode restores the raster stored in file into dst after checking that
// the file describes the chunk in want.
func Decode(file []byte, want Header, dst []float32) error {
	h, payload, err := ReadHeader(file)
	if err != nil {
		return err
	}
	if !h.matches(want) {
		return fmt.Errorf("%w: file has chunk %d %v, want chunk %d %v",
			ErrHeaderMismatch, h.ChunkNumber, h.Rect, want.ChunkNumber, want.Rect)
	}
	if len(dst) != h.values() {
		return fmt.Errorf("%w: destination holds %d values, file has %d", ErrHeaderMismatch, len(dst), h.values())
	}
	return decodePayload(h.Codec, payload, dst)
}

// WriteFile writes a chunk raster to path. The file appears atomically: a
// failed write never leaves a partial file under path.
func WriteFile(path string, h Header, data []float32) error {
	buf, err := Encode(h, data)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadFile reads the chunk raster stored at path into dst.
func ReadFile(path string, want Header, dst []float32) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(buf, want, dst)
}

// FileName returns the spill file path for a chunk. Names are derived from
// the proxy identity and chunk number; generation distinguishes successive
// spills of the same chunk.
func FileName(dir string, proxy uuid.UUID, chunkNumber, generation int) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("compositor-%s-%d-%d.chunk", proxy, chunkNumber, generation))
}
