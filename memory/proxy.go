package memory

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mrjoshuak/go-compositor/spill"
)

// DefaultChunkSize is the edge length of a chunk in pixels.
const DefaultChunkSize = 256

// ProxyOptions configures a Proxy.
type ProxyOptions struct {
	// Name is used in log output only.
	Name string

	// DataType of every chunk buffer.
	DataType DataType

	// Width and Height are the full resolution of the image.
	Width, Height int

	// ChunkSize is the chunk edge length. 0 means DefaultChunkSize.
	ChunkSize int

	// SpillDir receives spill files. "" means os.TempDir().
	SpillDir string

	// SpillCodec encodes spill payloads.
	SpillCodec spill.Codec

	// Allocator provides chunk rasters. nil means DefaultAllocator.
	Allocator *Allocator
}

// Proxy is the logical identity of one full-resolution image. It owns the
// store that maps chunk numbers to Buffers; all access to chunk buffers
// goes through it.
//
// Chunks are numbered row-major: chunk n covers column n%ChunksX() and row
// n/ChunksX() of the chunk grid.
type Proxy struct {
	id         uuid.UUID
	name       string
	dataType   DataType
	width      int
	height     int
	chunkSize  int
	chunksX    int
	chunksY    int
	spillDir   string
	spillCodec spill.Codec
	allocator  *Allocator

	mu        sync.RWMutex
	chunks    map[int]*Buffer
	consumers int
	retained  bool
	released  bool
}

// NewProxy creates a proxy with an empty chunk store.
func NewProxy(opts ProxyOptions) (*Proxy, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrInvalidProxy, opts.Width, opts.Height)
	}
	if !opts.DataType.Valid() {
		return nil, fmt.Errorf("%w: data type %v", ErrInvalidProxy, opts.DataType)
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrInvalidProxy, opts.ChunkSize)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Allocator == nil {
		opts.Allocator = DefaultAllocator
	}
	return &Proxy{
		id:         uuid.New(),
		name:       opts.Name,
		dataType:   opts.DataType,
		width:      opts.Width,
		height:     opts.Height,
		chunkSize:  opts.ChunkSize,
		chunksX:    (opts.Width + opts.ChunkSize - 1) / opts.ChunkSize,
		chunksY:    (opts.Height + opts.ChunkSize - 1) / opts.ChunkSize,
		spillDir:   opts.SpillDir,
		spillCodec: opts.SpillCodec,
		allocator:  opts.Allocator,
		chunks:     make(map[int]*Buffer),
	}, nil
}

// ID returns the proxy identity.
func (p *Proxy) ID() uuid.UUID { return p.id }

// Name returns the proxy name.
func (p *Proxy) Name() string { return p.name }

// DataType returns the data type of the proxy's chunks.
func (p *Proxy) DataType() DataType { return p.dataType }

// Bounds returns the full-resolution rectangle of the image.
func (p *Proxy) Bounds() image.Rectangle { return image.Rect(0, 0, p.width, p.height) }

// ChunkSize returns the chunk edge length.
func (p *Proxy) ChunkSize() int { return p.chunkSize }

// ChunksX returns the number of chunk columns.
func (p *Proxy) ChunksX() int { return p.chunksX }

// ChunksY returns the number of chunk rows.
func (p *Proxy) ChunksY() int { return p.chunksY }

// NumChunks returns the number of chunks covering the image.
func (p *Proxy) NumChunks() int { return p.chunksX * p.chunksY }

// Allocator returns the allocator used for chunk rasters.
func (p *Proxy) Allocator() *Allocator { return p.allocator }

// ChunkNumber returns the number of the chunk at grid position (cx, cy).
func (p *Proxy) ChunkNumber(cx, cy int) int { return cy*p.chunksX + cx }

// ChunkRect returns the area covered by chunk n. Edge chunks are clipped
// to the image bounds.
func (p *Proxy) ChunkRect(n int) image.Rectangle {
	cx := n % p.chunksX
	cy := n / p.chunksX
	r := image.Rect(cx*p.chunkSize, cy*p.chunkSize, (cx+1)*p.chunkSize, (cy+1)*p.chunkSize)
	return r.Intersect(p.Bounds())
}

// ChunksIn returns the numbers of every chunk intersecting rect in
// ascending order.
func (p *Proxy) ChunksIn(rect image.Rectangle) []int {
	rect = rect.Intersect(p.Bounds())
	if rect.Empty() {
		return nil
	}
	minCX := rect.Min.X / p.chunkSize
	maxCX := (rect.Max.X - 1) / p.chunkSize
	minCY := rect.Min.Y / p.chunkSize
	maxCY := (rect.Max.Y - 1) / p.chunkSize

	chunks := make([]int, 0, (maxCX-minCX+1)*(maxCY-minCY+1))
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			chunks = append(chunks, p.ChunkNumber(cx, cy))
		}
	}
	return chunks
}

// Chunk returns the buffer of chunk n, or nil if it has not been created.
func (p *Proxy) Chunk(n int) *Buffer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chunks[n]
}

// NewChunkBuffer allocates an ALLOCATED buffer for chunk n and registers
// it in the store. Allocation failures are returned unchanged.
func (p *Proxy) NewChunkBuffer(n int) (*Buffer, error) {
	if n < 0 || n >= p.NumChunks() {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkRange, n, p.NumChunks())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.chunks[n]; ok {
		return nil, fmt.Errorf("%w: chunk %d of %s", ErrChunkExists, n, p.name)
	}
	b, err := newChunkBuffer(p, n, p.ChunkRect(n))
	if err != nil {
		return nil, err
	}
	p.chunks[n] = b
	return b, nil
}

// DiscardChunk frees chunk n and removes it from the store. It is used to
// drop the partial result of a failed chunk.
func (p *Proxy) DiscardChunk(n int) error {
	p.mu.Lock()
	b, ok := p.chunks[n]
	delete(p.chunks, n)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Free()
}

// Consolidate assembles a TEMPORARY buffer covering rect (clipped to the
// image bounds) from every chunk that intersects it. Chunks are made
// available, and read back from disk if necessary, for the duration of the
// copy.
func (p *Proxy) Consolidate(rect image.Rectangle) (*Buffer, error) {
	area := rect.Intersect(p.Bounds())
	if area.Empty() {
		return nil, fmt.Errorf("%w: %v outside %v", ErrEmptyRect, rect, p.Bounds())
	}
	tmp, err := NewTemporaryBuffer(p, area)
	if err != nil {
		return nil, err
	}

	for _, n := range p.ChunksIn(area) {
		c := p.Chunk(n)
		if c == nil {
			tmp.Free()
			return nil, fmt.Errorf("%w: chunk %d of %s", ErrChunkMissing, n, p.name)
		}
		if err := c.MakeAvailable(true); err != nil {
			tmp.Free()
			return nil, err
		}
		err := tmp.CopyContentFrom(c)
		if rerr := c.RemoveUser(); rerr != nil && err == nil {
			err = rerr
		}
		if err != nil {
			tmp.Free()
			return nil, err
		}
	}
	return tmp, nil
}

// Buffers returns the chunk buffers currently in the store, ordered by
// chunk number.
func (p *Proxy) Buffers() []*Buffer {
	p.mu.RLock()
	keys := make([]int, 0, len(p.chunks))
	for n := range p.chunks {
		keys = append(keys, n)
	}
	p.mu.RUnlock()
	sort.Ints(keys)

	bufs := make([]*Buffer, 0, len(keys))
	for _, n := range keys {
		if b := p.Chunk(n); b != nil {
			bufs = append(bufs, b)
		}
	}
	return bufs
}

// SpillAll writes every AVAILABLE chunk without users to disk, using at
// most concurrency goroutines. Chunks that are in use or not available are
// skipped. It returns the number of chunks spilled; a failed spill leaves
// that chunk resident and is reported as the error.
func (p *Proxy) SpillAll(ctx context.Context, concurrency int) (int, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var spilled atomic.Int64
	for _, b := range p.Buffers() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := b.SaveToDisk()
			switch {
			case err == nil:
				spilled.Add(1)
				return nil
			case errors.Is(err, ErrInUse), errors.Is(err, ErrNotAvailable):
				return nil
			default:
				return err
			}
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return int(spilled.Load()), err
}

// AllocatedMemorySize returns the bytes resident across all chunks.
func (p *Proxy) AllocatedMemorySize() int64 {
	var total int64
	for _, b := range p.Buffers() {
		total += b.AllocatedMemorySize()
	}
	return total
}

// Retain keeps the proxy's chunks alive after its last consumer finishes.
// Output images are retained so the host can read them.
func (p *Proxy) Retain() {
	p.mu.Lock()
	p.retained = true
	p.mu.Unlock()
}

// AddConsumers registers n consumers that will read the proxy's chunks.
func (p *Proxy) AddConsumers(n int) {
	p.mu.Lock()
	p.consumers += n
	p.mu.Unlock()
}

// Consumers returns the number of consumers that have not finished.
func (p *Proxy) Consumers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consumers
}

// ConsumerDone records that one consumer no longer needs the proxy. When
// the last consumer finishes and the proxy is not retained, every chunk is
// freed and its spill file deleted.
func (p *Proxy) ConsumerDone() error {
	p.mu.Lock()
	if p.consumers == 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: consumer count of %s", ErrRefCount, p.name)
	}
	p.consumers--
	release := p.consumers == 0 && !p.retained
	p.mu.Unlock()

	if release {
		return p.Close()
	}
	return nil
}

// Close frees every chunk buffer and empties the store. Chunks that still
// have users are reported as an error and left in place.
func (p *Proxy) Close() error {
	var errs []error
	for _, b := range p.Buffers() {
		if err := b.Free(); err != nil {
			errs = append(errs, err)
			continue
		}
		p.mu.Lock()
		delete(p.chunks, b.chunkNumber)
		p.mu.Unlock()
	}
	p.mu.Lock()
	p.released = len(p.chunks) == 0
	p.mu.Unlock()
	return errors.Join(errs...)
}

// Released reports whether Close has freed every chunk.
func (p *Proxy) Released() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.released
}
