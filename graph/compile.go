package graph

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/mrjoshuak/go-compositor/internal/logging"
	"github.com/mrjoshuak/go-compositor/memory"
	"github.com/mrjoshuak/go-compositor/operation"
	"github.com/mrjoshuak/go-compositor/spill"
)

// CompileOptions configures the proxies created for buffer boundaries.
type CompileOptions struct {
	// Width and Height are the resolution given to operations without an
	// intrinsic size, such as constants.
	Width, Height int

	// ChunkSize is the chunk edge length. 0 means memory.DefaultChunkSize.
	ChunkSize int

	SpillDir   string
	SpillCodec spill.Codec

	// Allocator provides chunk rasters. nil means memory.DefaultAllocator.
	Allocator *memory.Allocator
}

// GroupPlan describes one execution group: the WriteBuffer that computes
// its proxy, the readers of other groups' proxies inside its operation
// tree, and the groups it depends on.
type GroupPlan struct {
	Index int
	Root  *operation.WriteBuffer

	// Readers are indexed by their buffer slot.
	Readers []*operation.ReadBuffer

	// Dependencies are indices into Plan.Groups, ascending.
	Dependencies []int
}

// Proxy returns the image computed by the group.
func (gp *GroupPlan) Proxy() *memory.Proxy { return gp.Root.Proxy() }

// Plan is a compiled graph.
type Plan struct {
	// Groups are ordered so that every group follows its dependencies.
	Groups []*GroupPlan

	// Output is the group computing the graph's output.
	Output *GroupPlan

	// Operations holds every operation of every group, each once.
	Operations []operation.Operation

	started atomic.Bool
}

// Start marks the plan as executing. Proxies are consumed by a run, so a
// plan runs at most once; later calls return ErrExecuted.
func (p *Plan) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrExecuted
	}
	return nil
}

// OutputProxy returns the image holding the graph's result.
func (p *Plan) OutputProxy() *memory.Proxy { return p.Output.Proxy() }

// Compile validates the graph, fixes every operation's resolution and
// rewires buffer boundaries through proxies. Compile rewires the graph's
// operations in place, so a graph can be compiled once.
func (g *Graph) Compile(opts CompileOptions) (*Plan, error) {
	if g.compiled {
		return nil, ErrCompiled
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.output.DetermineResolution(opts.Width, opts.Height)

	ops := g.reachable(g.output)
	boundaries := []operation.Operation{g.output}
	isBoundary := map[operation.Operation]bool{g.output: true}
	for _, op := range ops {
		if !op.IsComplex() {
			continue
		}
		for i := range op.InputTypes() {
			in := op.Input(i)
			if !isBoundary[in] {
				isBoundary[in] = true
				boundaries = append(boundaries, in)
			}
		}
	}

	roots := make(map[operation.Operation]*operation.WriteBuffer, len(boundaries))
	for i, b := range boundaries {
		w, h := b.Resolution()
		p, err := memory.NewProxy(memory.ProxyOptions{
			Name:       fmt.Sprintf("%s#%d", b.Name(), i),
			DataType:   b.OutputType(),
			Width:      w,
			Height:     h,
			ChunkSize:  opts.ChunkSize,
			SpillDir:   opts.SpillDir,
			SpillCodec: opts.SpillCodec,
			Allocator:  opts.Allocator,
		})
		if err != nil {
			return nil, fmt.Errorf("graph: buffer for %s: %w", b.Name(), err)
		}
		wb := operation.NewWriteBuffer(p, b)
		wb.SetResolution(w, h)
		roots[b] = wb
	}

	// Every consumer of a boundary reads it through its own ReadBuffer.
	for _, op := range ops {
		for i := range op.InputTypes() {
			in := op.Input(i)
			if !isBoundary[in] {
				continue
			}
			rb := operation.NewReadBuffer(roots[in].Proxy())
			rb.DetermineResolution(0, 0)
			if err := op.SetInput(i, rb); err != nil {
				return nil, err
			}
		}
	}

	groups := make([]*GroupPlan, len(boundaries))
	groupOf := make(map[*memory.Proxy]int, len(boundaries))
	for i, b := range boundaries {
		groups[i] = &GroupPlan{Index: i, Root: roots[b]}
		groupOf[roots[b].Proxy()] = i
	}
	for _, gp := range groups {
		for _, op := range g.reachable(gp.Root) {
			rb, ok := op.(*operation.ReadBuffer)
			if !ok {
				continue
			}
			rb.SetSlot(len(gp.Readers))
			gp.Readers = append(gp.Readers, rb)
			dep := groupOf[rb.Proxy()]
			if !slices.Contains(gp.Dependencies, dep) {
				gp.Dependencies = append(gp.Dependencies, dep)
			}
		}
		slices.Sort(gp.Dependencies)
	}

	order, err := topoSort(groups)
	if err != nil {
		return nil, err
	}
	position := make([]int, len(groups))
	for i, gp := range order {
		position[gp.Index] = i
	}
	for i, gp := range order {
		gp.Index = i
		for j, d := range gp.Dependencies {
			gp.Dependencies[j] = position[d]
		}
		slices.Sort(gp.Dependencies)
	}
	for _, gp := range order {
		for _, d := range gp.Dependencies {
			order[d].Proxy().AddConsumers(1)
		}
	}

	plan := &Plan{Groups: order, Output: groups[0]}
	plan.OutputProxy().Retain()
	groupRoots := make([]operation.Operation, len(order))
	for i, gp := range order {
		groupRoots[i] = gp.Root
	}
	plan.Operations = g.reachable(groupRoots...)

	g.compiled = true
	logging.Logger().Debug("graph compiled", "groups", len(order), "operations", len(plan.Operations))
	return plan, nil
}

// topoSort orders groups so that every group follows its dependencies.
// Ties are broken by descending boundary index, which puts the most
// upstream groups first.
func topoSort(groups []*GroupPlan) ([]*GroupPlan, error) {
	pending := make([]int, len(groups))
	dependents := make([][]int, len(groups))
	for _, gp := range groups {
		pending[gp.Index] = len(gp.Dependencies)
		for _, d := range gp.Dependencies {
			dependents[d] = appendUnique(dependents[d], gp.Index)
		}
	}

	var ready []int
	for i := len(groups) - 1; i >= 0; i-- {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]*GroupPlan, 0, len(groups))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, groups[next])
		for _, c := range dependents[next] {
			pending[c]--
			if pending[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(order) != len(groups) {
		return nil, fmt.Errorf("%w: between execution groups", ErrCycle)
	}
	return order, nil
}

func appendUnique(s []int, v int) []int {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
