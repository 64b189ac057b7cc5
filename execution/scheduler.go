package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/eapache/queue"

	"github.com/mrjoshuak/go-compositor/internal/logging"
	"github.com/mrjoshuak/go-compositor/internal/parallel"
)

// GroupError reports the first chunk failure of a run. No group that
// depends on the failed group has been started.
type GroupError struct {
	Group int
	Chunk int
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("execution: group %d failed at chunk %d: %v", e.Group, e.Chunk, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Scheduler executes groups in dependency order on a fixed worker pool.
type Scheduler struct {
	groups  []*Group
	workers int

	// OnGroupComplete is called on the scheduling goroutine after every
	// chunk of g has completed and the proxies g read have been released.
	// It is the place to spill proxies that are kept for later groups.
	OnGroupComplete func(ctx context.Context, g *Group)
}

// NewScheduler creates a scheduler for groups, which must be ordered so
// that every group follows its dependencies. workers <= 0 means
// runtime.GOMAXPROCS(0).
func NewScheduler(groups []*Group, workers int) *Scheduler {
	return &Scheduler{groups: groups, workers: parallel.Workers(workers)}
}

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int { return s.workers }

// Groups returns the scheduled groups.
func (s *Scheduler) Groups() []*Group { return s.groups }

type chunkTask struct {
	group *Group
	chunk int
}

type chunkResult struct {
	chunkTask
	err error
}

// Run executes every chunk of every group. A group becomes ready once all
// of its dependencies have completed; its chunks then run in any order.
//
// The first failed chunk stops dispatch: chunks already running finish,
// nothing else starts, and Run returns a *GroupError. Canceling ctx also
// stops dispatch; Run then returns ctx.Err() once running chunks finish.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logging.Logger()
	pool := parallel.NewWorkerPool(s.workers)
	defer pool.Close()

	results := make(chan chunkResult, pool.Size())
	ready := queue.New()
	waiting := make([]int, len(s.groups))
	dependents := make([][]int, len(s.groups))
	for i, g := range s.groups {
		waiting[i] = len(g.dependencies)
		for _, d := range g.dependencies {
			dependents[d] = append(dependents[d], i)
		}
	}

	started := make([]time.Time, len(s.groups))
	enqueue := func(g *Group) {
		started[g.index] = time.Now()
		log.Debug("group ready", "group", g.index, "proxy", g.proxy.Name(), "chunks", g.NumChunks())
		for n := 0; n < g.NumChunks(); n++ {
			ready.Add(chunkTask{group: g, chunk: n})
		}
	}
	for i, g := range s.groups {
		if waiting[i] == 0 {
			enqueue(g)
		}
	}

	var failure error
	inFlight, done := 0, 0
	for {
		for failure == nil && ctx.Err() == nil && inFlight < pool.Size() && ready.Length() > 0 {
			task := ready.Remove().(chunkTask)
			task.group.setState(task.chunk, ChunkRunning)
			inFlight++
			pool.Submit(func() {
				results <- chunkResult{chunkTask: task, err: task.group.ExecuteChunk(task.chunk)}
			})
		}
		if inFlight == 0 {
			break
		}

		r := <-results
		inFlight--
		g := r.group
		if r.err != nil {
			g.setState(r.chunk, ChunkError)
			log.Debug("chunk failed", "group", g.index, "chunk", r.chunk, "error", r.err)
			if failure == nil {
				failure = &GroupError{Group: g.index, Chunk: r.chunk, Err: r.err}
			}
			continue
		}
		g.setState(r.chunk, ChunkCompleted)
		if !g.Completed() {
			continue
		}
		done++

		log.Info("group completed", "group", g.index, "proxy", g.proxy.Name(),
			"chunks", g.NumChunks(), "duration", time.Since(started[g.index]))
		if err := s.release(g); err != nil && failure == nil {
			failure = err
		}
		if failure == nil && s.OnGroupComplete != nil {
			s.OnGroupComplete(ctx, g)
		}
		for _, d := range dependents[g.index] {
			waiting[d]--
			if waiting[d] == 0 {
				enqueue(s.groups[d])
			}
		}
	}

	if failure != nil {
		return failure
	}
	if done == len(s.groups) {
		return nil
	}
	return ctx.Err()
}

// release drops g's interest in the proxies it read. A proxy whose last
// consumer finishes is freed.
func (s *Scheduler) release(g *Group) error {
	for _, d := range g.dependencies {
		p := s.groups[d].proxy
		if err := p.ConsumerDone(); err != nil {
			return fmt.Errorf("execution: group %d releasing %s: %w", g.index, p.Name(), err)
		}
		if p.Released() {
			logging.Logger().Debug("proxy released", "proxy", p.Name())
		}
	}
	return nil
}
