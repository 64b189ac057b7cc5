package execution

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/mrjoshuak/go-compositor/graph"
	"github.com/mrjoshuak/go-compositor/internal/logging"
	"github.com/mrjoshuak/go-compositor/memory"
	"github.com/mrjoshuak/go-compositor/operation"
)

// ErrChunkPanic wraps a panic raised while computing a chunk.
var ErrChunkPanic = errors.New("execution: operation panicked")

// ChunkState is the scheduling state of one chunk.
type ChunkState uint8

const (
	// ChunkPending chunks have not been dispatched yet.
	ChunkPending ChunkState = iota
	// ChunkRunning chunks are being computed by a worker.
	ChunkRunning
	// ChunkCompleted chunks are AVAILABLE in the group's image.
	ChunkCompleted
	// ChunkError chunks failed; their buffer was discarded.
	ChunkError
)

// String returns the state name.
func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkRunning:
		return "running"
	case ChunkCompleted:
		return "completed"
	case ChunkError:
		return "error"
	default:
		return fmt.Sprintf("ChunkState(%d)", uint8(s))
	}
}

// Group computes every chunk of one proxy by running its operation tree.
type Group struct {
	index        int
	root         *operation.WriteBuffer
	proxy        *memory.Proxy
	readers      []*operation.ReadBuffer
	dependencies []int

	mu        sync.Mutex
	states    []ChunkState
	completed int
	failed    bool
}

// NewGroup creates the runtime state of a compiled group. Every chunk
// starts pending.
func NewGroup(gp *graph.GroupPlan) *Group {
	p := gp.Proxy()
	return &Group{
		index:        gp.Index,
		root:         gp.Root,
		proxy:        p,
		readers:      gp.Readers,
		dependencies: gp.Dependencies,
		states:       make([]ChunkState, p.NumChunks()),
	}
}

// Index returns the group's position in the plan.
func (g *Group) Index() int { return g.index }

// Proxy returns the image the group computes.
func (g *Group) Proxy() *memory.Proxy { return g.proxy }

// Dependencies returns the plan indices of the groups g reads from.
func (g *Group) Dependencies() []int { return g.dependencies }

// NumChunks returns the number of chunks the group computes.
func (g *Group) NumChunks() int { return len(g.states) }

// ChunkState returns the state of chunk n.
func (g *Group) ChunkState(n int) ChunkState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[n]
}

// Completed reports whether every chunk has completed.
func (g *Group) Completed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed == len(g.states)
}

// Failed reports whether a chunk of the group has failed.
func (g *Group) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// setState moves chunk n to s. Completed and failed chunks never change
// state again.
func (g *Group) setState(n int, s ChunkState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.states[n] {
	case ChunkCompleted, ChunkError:
		return
	}
	g.states[n] = s
	switch s {
	case ChunkCompleted:
		g.completed++
	case ChunkError:
		g.failed = true
	}
}

// ExecuteChunk computes chunk n into a new buffer of the group's proxy.
// The input areas the chunk reads are consolidated first; on success the
// buffer is AVAILABLE. A failed chunk leaves no buffer behind.
func (g *Group) ExecuteChunk(n int) (err error) {
	rect := g.proxy.ChunkRect(n)
	log := logging.Logger().With("group", g.index, "chunk", n)
	log.Debug("chunk started", "rect", rect)

	buf, err := g.proxy.NewChunkBuffer(n)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", n, err)
	}

	inputs := make([]*memory.Buffer, len(g.readers))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: chunk %d: %v", ErrChunkPanic, n, r)
		}
		for _, in := range inputs {
			if in != nil {
				if ferr := in.Free(); ferr != nil && err == nil {
					err = ferr
				}
			}
		}
		if err != nil {
			if derr := g.proxy.DiscardChunk(n); derr != nil {
				log.Warn("discard failed chunk", "error", derr)
			}
		}
	}()

	for i, area := range g.inputAreas(rect) {
		rb := g.readers[i]
		in, err := rb.Proxy().Consolidate(clampArea(area, rb.Proxy().Bounds()))
		if err != nil {
			return fmt.Errorf("chunk %d: input %s: %w", n, rb.Proxy().Name(), err)
		}
		inputs[i] = in
		if err := rb.Check(inputs); err != nil {
			return fmt.Errorf("chunk %d: %w", n, err)
		}
	}

	var px [4]float32
	out := px[:buf.Channels()]
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			g.root.ExecutePixel(out, float32(x), float32(y), operation.SamplerNearest, inputs)
			buf.Write(x, y, out)
		}
	}

	if err := buf.SetCreated(); err != nil {
		return fmt.Errorf("chunk %d: %w", n, err)
	}
	if err := buf.SetAvailable(); err != nil {
		return fmt.Errorf("chunk %d: %w", n, err)
	}
	log.Debug("chunk completed")
	return nil
}

// inputAreas returns, per reader slot, the area of the reader's proxy that
// computing rect reads. It follows AreaOfInterest from the root down to
// every ReadBuffer.
func (g *Group) inputAreas(rect image.Rectangle) []image.Rectangle {
	areas := make([]image.Rectangle, len(g.readers))
	var visit func(op operation.Operation, area image.Rectangle)
	visit = func(op operation.Operation, area image.Rectangle) {
		if rb, ok := op.(*operation.ReadBuffer); ok {
			areas[rb.Slot()] = areas[rb.Slot()].Union(area)
			return
		}
		for i := range op.InputTypes() {
			if in := op.Input(i); in != nil {
				visit(in, op.AreaOfInterest(i, area))
			}
		}
	}
	visit(g.root, rect)
	return areas
}

// clampArea clips area to bounds. An area entirely outside bounds becomes
// the strip of bounds nearest to it, which is what clamped sampling reads.
func clampArea(area, bounds image.Rectangle) image.Rectangle {
	if c := area.Intersect(bounds); !c.Empty() {
		return c
	}
	x0 := clamp(area.Min.X, bounds.Min.X, bounds.Max.X-1)
	y0 := clamp(area.Min.Y, bounds.Min.Y, bounds.Max.Y-1)
	x1 := max(clamp(area.Max.X-1, bounds.Min.X, bounds.Max.X-1), x0) + 1
	y1 := max(clamp(area.Max.Y-1, bounds.Min.Y, bounds.Max.Y-1), y0) + 1
	return image.Rect(x0, y0, x1, y1)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
