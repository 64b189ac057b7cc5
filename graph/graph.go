// Package graph connects operations into a compositing graph and compiles
// it into execution groups.
//
// Compilation cuts the graph at buffer boundaries: the output operation
// and every input of a complex operation. Each boundary becomes a group
// whose root is a WriteBuffer into a memory.Proxy; consumers read it back
// through a ReadBuffer. Groups are ordered so that every group follows the
// groups whose proxies it reads.
package graph

import (
	"errors"
	"fmt"

	"github.com/mrjoshuak/go-compositor/operation"
)

// Graph errors
var (
	ErrTypeMismatch = errors.New("graph: socket type mismatch")
	ErrUnconnected  = errors.New("graph: input not connected")
	ErrCycle        = errors.New("graph: cycle detected")
	ErrNoOutput     = errors.New("graph: no output operation")
	ErrCompiled     = errors.New("graph: already compiled")
	ErrExecuted     = errors.New("graph: plan already executed")
)

// Link is a connection from an operation's output to an input socket.
type Link struct {
	From  operation.Operation
	To    operation.Operation
	Input int
}

// Graph is a set of operations and the links between them.
type Graph struct {
	nodes    []operation.Operation
	index    map[operation.Operation]int
	links    []Link
	output   operation.Operation
	compiled bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[operation.Operation]int)}
}

// Add adds operations to the graph. Adding an operation twice is a no-op.
func (g *Graph) Add(ops ...operation.Operation) {
	for _, op := range ops {
		if op == nil {
			continue
		}
		if _, ok := g.index[op]; ok {
			continue
		}
		g.index[op] = len(g.nodes)
		g.nodes = append(g.nodes, op)
	}
}

// Nodes returns the operations in the order they were added.
func (g *Graph) Nodes() []operation.Operation { return g.nodes }

// Links returns the connections made with Connect.
func (g *Graph) Links() []Link { return g.links }

// Connect links from's output to input socket input of to, adding both
// operations to the graph. An existing link into the same socket is
// replaced.
func (g *Graph) Connect(from, to operation.Operation, input int) error {
	if g.compiled {
		return ErrCompiled
	}
	types := to.InputTypes()
	if input < 0 || input >= len(types) {
		return fmt.Errorf("%w: %s has %d inputs, got %d", operation.ErrInputIndex, to.Name(), len(types), input)
	}
	if from.OutputType() != types[input] {
		return fmt.Errorf("%w: %s (%v) into %s input %d (%v)",
			ErrTypeMismatch, from.Name(), from.OutputType(), to.Name(), input, types[input])
	}
	if err := to.SetInput(input, from); err != nil {
		return err
	}
	g.Add(from, to)

	l := Link{From: from, To: to, Input: input}
	for i, existing := range g.links {
		if existing.To == to && existing.Input == input {
			g.links[i] = l
			return nil
		}
	}
	g.links = append(g.links, l)
	return nil
}

// SetOutput marks op as the graph's result, adding it to the graph.
func (g *Graph) SetOutput(op operation.Operation) {
	g.Add(op)
	g.output = op
}

// Output returns the output operation.
func (g *Graph) Output() operation.Operation { return g.output }

// Validate checks that an output is set, that every input of every
// operation is connected with a matching type and that the graph is acyclic.
func (g *Graph) Validate() error {
	if g.output == nil {
		return ErrNoOutput
	}

	// Operations wired directly with SetInput are checked too.
	all := g.reachable(g.nodes...)

	for _, op := range all {
		for i, want := range op.InputTypes() {
			in := op.Input(i)
			if in == nil {
				return fmt.Errorf("%w: %s input %d", ErrUnconnected, op.Name(), i)
			}
			if in.OutputType() != want {
				return fmt.Errorf("%w: %s (%v) into %s input %d (%v)",
					ErrTypeMismatch, in.Name(), in.OutputType(), op.Name(), i, want)
			}
		}
	}
	return checkAcyclic(all)
}

// reachable returns roots and every operation reachable through their
// inputs, each once, in depth-first preorder.
func (g *Graph) reachable(roots ...operation.Operation) []operation.Operation {
	seen := make(map[operation.Operation]bool)
	var all []operation.Operation
	for _, root := range roots {
		operation.Walk(root, func(o operation.Operation) error {
			if !seen[o] {
				seen[o] = true
				all = append(all, o)
			}
			return nil
		})
	}
	return all
}

// checkAcyclic runs a depth-first search over input edges.
func checkAcyclic(ops []operation.Operation) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[operation.Operation]int, len(ops))
	var visit func(op operation.Operation) error
	visit = func(op operation.Operation) error {
		switch state[op] {
		case visiting:
			return fmt.Errorf("%w: through %s", ErrCycle, op.Name())
		case done:
			return nil
		}
		state[op] = visiting
		for i := range op.InputTypes() {
			if in := op.Input(i); in != nil {
				if err := visit(in); err != nil {
					return err
				}
			}
		}
		state[op] = done
		return nil
	}
	for _, op := range ops {
		if err := visit(op); err != nil {
			return err
		}
	}
	return nil
}
