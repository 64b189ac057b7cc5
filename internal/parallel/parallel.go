// Package parallel provides the worker pool that executes chunks and
// helpers for data-parallel loops.
package parallel

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Config configures parallel loops.
type Config struct {
	// NumWorkers is the number of goroutines. 0 means runtime.GOMAXPROCS(0).
	NumWorkers int

	// GrainSize is the minimum number of items per worker. Loops with fewer
	// than GrainSize*NumWorkers items run sequentially.
	GrainSize int
}

// DefaultConfig uses every CPU and parallelizes any loop with more items
// than workers.
func DefaultConfig() Config {
	return Config{NumWorkers: 0, GrainSize: 1}
}

// Workers returns the effective worker count for n.
func Workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// WorkerPool is the set of goroutines that compute chunks. The scheduler
// keeps at most Size chunks in flight, so Submit rarely blocks.
type WorkerPool struct {
	size    int
	pending sync.WaitGroup
	tasks   chan func()
	closed  sync.Once
}

// NewWorkerPool starts size workers. 0 means one per CPU.
func NewWorkerPool(size int) *WorkerPool {
	p := &WorkerPool{size: Workers(size)}
	p.tasks = make(chan func(), p.size*4)
	for range p.size {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	for task := range p.tasks {
		task()
		p.pending.Done()
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Submit hands task to a worker. It must not be called after Close.
func (p *WorkerPool) Submit(task func()) {
	p.pending.Add(1)
	p.tasks <- task
}

// Wait blocks until every submitted task has returned.
func (p *WorkerPool) Wait() { p.pending.Wait() }

// Close lets the workers exit once queued tasks are done.
func (p *WorkerPool) Close() {
	p.closed.Do(func() { close(p.tasks) })
}

// For runs fn(i) for i in [0, n), splitting the range into one contiguous
// block per worker.
func For(cfg Config, n int, fn func(i int)) {
	_ = ForWithError(cfg, n, func(i int) error {
		fn(i)
		return nil
	})
}

// ForWithError runs fn(i) for i in [0, n) and returns the first error. A
// block stops at its first error; other blocks run to completion.
func ForWithError(cfg Config, n int, fn func(i int) error) error {
	numWorkers := Workers(cfg.NumWorkers)
	if n <= cfg.GrainSize*numWorkers || numWorkers == 1 {
		for i := range n {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	blockSize := (n + numWorkers - 1) / numWorkers
	for start := 0; start < n; start += blockSize {
		end := min(start+blockSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
