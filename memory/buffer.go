package memory

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/mrjoshuak/go-compositor/internal/logging"
	"github.com/mrjoshuak/go-compositor/spill"
)

// Buffer holds the float raster of one chunk of a Proxy, or of a temporary
// area assembled from several chunks.
//
// The raster is row-major and channel-interleaved: channel c of pixel
// (x, y) lives at ((y-Rect.Min.Y)*width + (x-Rect.Min.X))*channels + c.
//
// State transitions and the user count are serialized by the buffer's own
// mutex. Sampling does not lock: a reader must hold a user reference
// (MakeAvailable(true) or AddUser) for as long as it samples, which keeps
// the raster from being spilled or freed underneath it.
type Buffer struct {
	proxy       *Proxy
	allocator   *Allocator
	dataType    DataType
	channels    int
	rect        image.Rectangle
	chunkNumber int
	chunkWidth  int
	temporary   bool

	mu         sync.Mutex
	state      State
	data       []float32
	filename   string
	generation int
	users      int
}

// newChunkBuffer constructs an ALLOCATED buffer for chunk n of p.
func newChunkBuffer(p *Proxy, n int, rect image.Rectangle) (*Buffer, error) {
	b, err := newBuffer(p.allocator, p.dataType, rect)
	if err != nil {
		return nil, err
	}
	b.proxy = p
	b.chunkNumber = n
	b.state = StateAllocated
	return b, nil
}

// NewTemporaryBuffer constructs a TEMPORARY buffer over an arbitrary area
// of p. Temporary buffers do not belong to a chunk and are never spilled.
func NewTemporaryBuffer(p *Proxy, rect image.Rectangle) (*Buffer, error) {
	b, err := newBuffer(p.allocator, p.dataType, rect)
	if err != nil {
		return nil, err
	}
	b.proxy = p
	b.temporary = true
	b.chunkNumber = -1
	b.state = StateTemporary
	return b, nil
}

// NewRaster constructs a standalone TEMPORARY buffer that belongs to no
// proxy. Hosts use it to hand image data to the compositor.
func NewRaster(dataType DataType, rect image.Rectangle) (*Buffer, error) {
	b, err := newBuffer(DefaultAllocator, dataType, rect)
	if err != nil {
		return nil, err
	}
	b.temporary = true
	b.chunkNumber = -1
	b.state = StateTemporary
	return b, nil
}

func newBuffer(a *Allocator, dataType DataType, rect image.Rectangle) (*Buffer, error) {
	if rect.Empty() {
		return nil, ErrEmptyRect
	}
	if !dataType.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, dataType)
	}
	if a == nil {
		a = DefaultAllocator
	}
	channels := dataType.Channels()
	data, err := a.Alloc(rect.Dx() * rect.Dy() * channels)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		allocator:  a,
		dataType:   dataType,
		channels:   channels,
		rect:       rect,
		chunkWidth: rect.Dx(),
		data:       data,
	}, nil
}

// Proxy returns the proxy the buffer belongs to, or nil for a standalone
// raster.
func (b *Buffer) Proxy() *Proxy { return b.proxy }

// DataType returns the buffer's data type.
func (b *Buffer) DataType() DataType { return b.dataType }

// Channels returns the number of floats per pixel.
func (b *Buffer) Channels() int { return b.channels }

// Rect returns the area covered by the buffer in proxy coordinates.
func (b *Buffer) Rect() image.Rectangle { return b.rect }

// Width returns the width of the buffer in pixels.
func (b *Buffer) Width() int { return b.rect.Dx() }

// Height returns the height of the buffer in pixels.
func (b *Buffer) Height() int { return b.rect.Dy() }

// ChunkNumber returns the chunk the buffer holds, or -1 for temporary buffers.
func (b *Buffer) ChunkNumber() int { return b.chunkNumber }

// IsTemporary reports whether the buffer covers an ad-hoc area rather than
// a chunk.
func (b *Buffer) IsTemporary() bool { return b.temporary }

// Data returns the raw raster. The slice is only valid while the buffer is
// resident; callers must hold a user reference or be the producer.
func (b *Buffer) Data() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// State returns the lifecycle state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Users returns the number of registered users.
func (b *Buffer) Users() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.users
}

// Filename returns the path of the most recent spill file, or "" if the
// buffer has never been spilled.
func (b *Buffer) Filename() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filename
}

// SetCreated records that the producing operation has written the raster.
func (b *Buffer) SetCreated() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateAllocated {
		return fmt.Errorf("%w: set created in state %v", ErrNotAvailable, b.state)
	}
	b.state = StateCreated
	return nil
}

// SetAvailable records that post-processing of the raster is finished and
// it may be read by consumers.
func (b *Buffer) SetAvailable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateCreated {
		return fmt.Errorf("%w: set available in state %v", ErrNotAvailable, b.state)
	}
	b.state = StateAvailable
	return nil
}

// MakeAvailable ensures the raster is resident, reading it back from disk
// if the buffer is STORED. When addUser is true the user count is raised
// inside the same critical section, so the buffer cannot be spilled
// between the availability check and its use.
func (b *Buffer) MakeAvailable(addUser bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateStored:
		if err := b.readFromDisk(); err != nil {
			return err
		}
	case StateFree:
		return ErrFreed
	case StateAllocated:
		return ErrNotComputed
	}
	if addUser {
		b.users++
	}
	return nil
}

// readFromDisk restores a STORED raster. Called with b.mu held.
func (b *Buffer) readFromDisk() error {
	data, err := b.allocator.Alloc(b.rect.Dx() * b.rect.Dy() * b.channels)
	if err != nil {
		return err
	}
	if err := spill.ReadFile(b.filename, b.spillHeader(), data); err != nil {
		b.allocator.Free(data)
		return fmt.Errorf("%w: chunk %d: %w", ErrReadBack, b.chunkNumber, err)
	}
	if err := os.Remove(b.filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Logger().Warn("remove spill file", "file", b.filename, "error", err)
	}
	b.data = data
	b.state = StateAvailable
	logging.Logger().Debug("chunk read back", "proxy", b.proxyName(), "chunk", b.chunkNumber)
	return nil
}

// SaveToDisk writes the raster to a chunk-private file, frees the memory
// and moves the buffer to STORED.
//
// Only AVAILABLE chunk buffers without users can be spilled. If writing
// fails the buffer stays resident and AVAILABLE and the returned error
// wraps ErrSpill.
func (b *Buffer) SaveToDisk() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.temporary {
		return ErrTemporary
	}
	if b.state != StateAvailable {
		return fmt.Errorf("%w: state %v", ErrNotAvailable, b.state)
	}
	if b.users > 0 {
		return fmt.Errorf("%w: %d users", ErrInUse, b.users)
	}

	name := b.determineFilename()
	if err := spill.WriteFile(name, b.spillHeader(), b.data); err != nil {
		logging.Logger().Warn("chunk spill failed", "proxy", b.proxyName(), "chunk", b.chunkNumber, "error", err)
		return fmt.Errorf("%w: chunk %d: %w", ErrSpill, b.chunkNumber, err)
	}

	b.filename = name
	b.generation++
	b.allocator.Free(b.data)
	b.data = nil
	b.state = StateStored
	logging.Logger().Debug("chunk spilled", "proxy", b.proxyName(), "chunk", b.chunkNumber, "file", name)
	return nil
}

// determineFilename returns the name for the next spill of this chunk.
func (b *Buffer) determineFilename() string {
	return spill.FileName(b.proxy.spillDir, b.proxy.id, b.chunkNumber, b.generation)
}

func (b *Buffer) spillHeader() spill.Header {
	h := spill.Header{
		Channels:    b.channels,
		ChunkNumber: b.chunkNumber,
		Rect:        b.rect,
	}
	if b.proxy != nil {
		h.Codec = b.proxy.spillCodec
	}
	return h
}

func (b *Buffer) proxyName() string {
	if b.proxy == nil {
		return ""
	}
	return b.proxy.name
}

// AddUser registers a user of the buffer.
func (b *Buffer) AddUser() {
	b.mu.Lock()
	b.users++
	b.mu.Unlock()
}

// RemoveUser releases a user registered with AddUser or MakeAvailable.
// Releasing more users than were added is a scheduling bug and returns
// ErrRefCount.
func (b *Buffer) RemoveUser() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.users == 0 {
		return fmt.Errorf("%w: chunk %d", ErrRefCount, b.chunkNumber)
	}
	b.users--
	return nil
}

// AllocatedMemorySize returns the number of bytes resident in memory.
func (b *Buffer) AllocatedMemorySize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data)) * 4
}

// Free releases the raster and deletes the spill file, if any. The buffer
// is unusable afterwards.
func (b *Buffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateFree {
		return nil
	}
	if b.users > 0 {
		return fmt.Errorf("%w: %d users", ErrInUse, b.users)
	}
	if b.data != nil {
		b.allocator.Free(b.data)
		b.data = nil
	}
	if b.state == StateStored {
		if err := os.Remove(b.filename); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	b.state = StateFree
	return nil
}

// CopyContentFrom overlays other's raster onto b where their rectangles
// intersect. Pixels outside the intersection are left untouched.
func (b *Buffer) CopyContentFrom(other *Buffer) error {
	if other.dataType != b.dataType {
		return fmt.Errorf("%w: %v into %v", ErrTypeMismatch, other.dataType, b.dataType)
	}
	overlap := b.rect.Intersect(other.rect)
	if overlap.Empty() {
		return nil
	}

	src := other.data
	if src == nil {
		return fmt.Errorf("%w: source chunk %d is not resident", ErrNotAvailable, other.chunkNumber)
	}
	ch := b.channels
	rowLen := overlap.Dx() * ch
	for y := overlap.Min.Y; y < overlap.Max.Y; y++ {
		dst := ((y-b.rect.Min.Y)*b.chunkWidth + (overlap.Min.X - b.rect.Min.X)) * ch
		off := ((y-other.rect.Min.Y)*other.chunkWidth + (overlap.Min.X - other.rect.Min.X)) * ch
		copy(b.data[dst:dst+rowLen], src[off:off+rowLen])
	}
	return nil
}

// Write stores one pixel. (x, y) must lie inside the buffer rectangle.
func (b *Buffer) Write(x, y int, value []float32) {
	off := ((y-b.rect.Min.Y)*b.chunkWidth + (x - b.rect.Min.X)) * b.channels
	copy(b.data[off:off+b.channels], value)
}
