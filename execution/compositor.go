package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrjoshuak/go-compositor/graph"
	"github.com/mrjoshuak/go-compositor/internal/logging"
	"github.com/mrjoshuak/go-compositor/internal/parallel"
	"github.com/mrjoshuak/go-compositor/memory"
	"github.com/mrjoshuak/go-compositor/operation"
)

// Compositor compiles and executes graphs with one configuration. Every
// image it computes draws on one memory.Allocator, so Config.MemoryLimit
// bounds all of them together.
type Compositor struct {
	cfg       Config
	allocator *memory.Allocator
}

// New creates a compositor.
func New(cfg Config) *Compositor {
	return &Compositor{cfg: cfg, allocator: memory.NewAllocator(cfg.MemoryLimit)}
}

// Config returns the compositor's configuration.
func (c *Compositor) Config() Config { return c.cfg }

// Allocator returns the allocator shared by the compositor's images.
func (c *Compositor) Allocator() *memory.Allocator { return c.allocator }

// Compile compiles g with the compositor's chunk and spill settings.
func (c *Compositor) Compile(g *graph.Graph) (*graph.Plan, error) {
	return g.Compile(graph.CompileOptions{
		Width:      c.cfg.Width,
		Height:     c.cfg.Height,
		ChunkSize:  c.cfg.ChunkSize,
		SpillDir:   c.cfg.SpillDir,
		SpillCodec: c.cfg.SpillCodec,
		Allocator:  c.allocator,
	})
}

// Stats summarizes one execution.
type Stats struct {
	Groups     int
	Chunks     int
	Workers    int
	Spilled    int
	PeakMemory int64
	Duration   time.Duration
}

// Result is the output of a successful execution.
type Result struct {
	proxy *memory.Proxy
	Stats Stats
}

// Proxy returns the output image.
func (r *Result) Proxy() *memory.Proxy { return r.proxy }

// Raster copies the output image into a standalone raster. Spilled chunks
// are read back.
func (r *Result) Raster() (*memory.Buffer, error) {
	dst, err := memory.NewRaster(r.proxy.DataType(), r.proxy.Bounds())
	if err != nil {
		return nil, err
	}
	err = parallel.ForWithError(parallel.DefaultConfig(), r.proxy.NumChunks(), func(n int) error {
		c := r.proxy.Chunk(n)
		if c == nil {
			return fmt.Errorf("%w: output chunk %d", memory.ErrChunkMissing, n)
		}
		if err := c.MakeAvailable(true); err != nil {
			return err
		}
		err := dst.CopyContentFrom(c)
		if rerr := c.RemoveUser(); err == nil {
			err = rerr
		}
		return err
	})
	if err != nil {
		dst.Free()
		return nil, err
	}
	return dst, nil
}

// Close frees the output image.
func (r *Result) Close() error {
	return r.proxy.Close()
}

// Execute runs plan to completion. On failure every image of the plan,
// including the output, is freed and no result is returned. A plan can be
// executed once; a second call returns graph.ErrExecuted and leaves the
// first result untouched.
func (c *Compositor) Execute(ctx context.Context, plan *graph.Plan) (*Result, error) {
	if err := plan.Start(); err != nil {
		return nil, err
	}
	log := logging.Logger()
	start := time.Now()

	if err := initOperations(plan.Operations); err != nil {
		closeAll(plan)
		return nil, err
	}
	defer func() {
		for _, op := range plan.Operations {
			op.DeinitExecution()
		}
	}()

	groups := make([]*Group, len(plan.Groups))
	chunks := 0
	for i, gp := range plan.Groups {
		groups[i] = NewGroup(gp)
		chunks += groups[i].NumChunks()
	}

	sched := NewScheduler(groups, c.cfg.Workers)
	spilled := 0
	if c.cfg.SpillIntermediates {
		output := plan.OutputProxy()
		sched.OnGroupComplete = func(ctx context.Context, g *Group) {
			if g.Proxy() == output || g.Proxy().Released() {
				return
			}
			n, err := g.Proxy().SpillAll(ctx, sched.Workers())
			spilled += n
			if err != nil {
				log.Warn("spill failed", "proxy", g.Proxy().Name(), "error", err)
			}
		}
	}

	log.Debug("execution started", "groups", len(groups), "chunks", chunks, "workers", sched.Workers())
	if err := sched.Run(ctx); err != nil {
		closeAll(plan)
		return nil, err
	}

	res := &Result{
		proxy: plan.OutputProxy(),
		Stats: Stats{
			Groups:     len(groups),
			Chunks:     chunks,
			Workers:    sched.Workers(),
			Spilled:    spilled,
			PeakMemory: c.allocator.Peak(),
			Duration:   time.Since(start),
		},
	}
	log.Info("execution completed", "groups", res.Stats.Groups, "chunks", res.Stats.Chunks,
		"spilled", res.Stats.Spilled, "duration", res.Stats.Duration)
	return res, nil
}

// initOperations calls InitExecution on every operation. If one fails, the
// operations initialized so far are deinitialized.
func initOperations(ops []operation.Operation) error {
	for i, op := range ops {
		if err := op.InitExecution(); err != nil {
			for _, done := range ops[:i] {
				done.DeinitExecution()
			}
			return fmt.Errorf("execution: init %s: %w", op.Name(), err)
		}
	}
	return nil
}

func closeAll(plan *graph.Plan) {
	var errs []error
	for _, gp := range plan.Groups {
		if err := gp.Proxy().Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Logger().Warn("free images of failed execution", "error", err)
	}
}
