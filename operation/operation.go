// Package operation defines the nodes of a compositing graph.
//
// Every operation computes one output pixel at a time by pulling samples
// from its inputs: ExecutePixel on a consumer calls ExecutePixel on its
// inputs at whatever coordinates it needs. Operations that need a wide
// neighbourhood of their input (blurs) are complex; the graph compiler cuts
// their inputs into buffered execution groups so that the neighbourhood can
// be read from a consolidated memory.Buffer instead of being recomputed.
package operation

import (
	"errors"
	"fmt"
	"image"

	"github.com/mrjoshuak/go-compositor/memory"
)

// Operation errors
var (
	ErrInputIndex       = errors.New("operation: input index out of range")
	ErrInputMissing     = errors.New("operation: input not connected")
	ErrInvalidParameter = errors.New("operation: invalid parameter")
	ErrBufferSlot       = errors.New("operation: buffer slot out of range")
)

// Sampler selects how an input is sampled at a continuous coordinate.
type Sampler uint8

const (
	// SamplerNearest returns the pixel containing the coordinate.
	SamplerNearest Sampler = iota
	// SamplerBilinear interpolates the 2x2 neighbourhood.
	SamplerBilinear
	// SamplerBicubic interpolates the 4x4 neighbourhood.
	SamplerBicubic
)

// String returns the sampler name.
func (s Sampler) String() string {
	switch s {
	case SamplerNearest:
		return "nearest"
	case SamplerBilinear:
		return "bilinear"
	case SamplerBicubic:
		return "bicubic"
	default:
		return fmt.Sprintf("Sampler(%d)", uint8(s))
	}
}

// Operation is a node of the compositing graph.
type Operation interface {
	// Name identifies the operation in logs and errors.
	Name() string

	// InputTypes returns the data type of each input socket.
	InputTypes() []memory.DataType

	// OutputType returns the data type of the output socket.
	OutputType() memory.DataType

	// SetInput connects op to input socket i.
	SetInput(i int, op Operation) error

	// Input returns the operation connected to socket i, or nil.
	Input(i int) Operation

	// DetermineResolution fixes the operation's resolution, asking its
	// inputs first, and returns it. preferred is used by operations that
	// have no intrinsic size.
	DetermineResolution(preferredWidth, preferredHeight int) (int, int)

	// Resolution returns the resolution fixed by DetermineResolution.
	Resolution() (int, int)

	// IsComplex reports whether the operation reads a neighbourhood of its
	// inputs that must be buffered.
	IsComplex() bool

	// AreaOfInterest returns the area of input that is read to compute
	// output. Valid after InitExecution.
	AreaOfInterest(input int, output image.Rectangle) image.Rectangle

	// InitExecution prepares per-resolution parameters.
	InitExecution() error

	// ExecutePixel computes the output at (x, y) into out. in holds the
	// consolidated input buffers of the execution group, indexed by
	// ReadBuffer slot. Implementations must be safe for concurrent use.
	ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer)

	// DeinitExecution releases what InitExecution prepared.
	DeinitExecution()
}

// Base implements the socket and resolution bookkeeping shared by all
// operations. Concrete operations embed it and override what they need.
type Base struct {
	name       string
	inputTypes []memory.DataType
	outputType memory.DataType
	inputs     []Operation
	width      int
	height     int
	complex    bool
}

// NewBase returns a Base with one input socket per entry of inputs. It is
// used by operations defined outside this package too.
func NewBase(name string, output memory.DataType, inputs ...memory.DataType) Base {
	return Base{
		name:       name,
		inputTypes: inputs,
		outputType: output,
		inputs:     make([]Operation, len(inputs)),
	}
}

// Name returns the operation name.
func (b *Base) Name() string { return b.name }

// SetName renames the operation.
func (b *Base) SetName(name string) { b.name = name }

// InputTypes returns the input socket types.
func (b *Base) InputTypes() []memory.DataType { return b.inputTypes }

// OutputType returns the output socket type.
func (b *Base) OutputType() memory.DataType { return b.outputType }

// SetInput connects op to socket i.
func (b *Base) SetInput(i int, op Operation) error {
	if i < 0 || i >= len(b.inputs) {
		return fmt.Errorf("%w: %s has %d inputs, got %d", ErrInputIndex, b.name, len(b.inputs), i)
	}
	b.inputs[i] = op
	return nil
}

// Input returns the operation connected to socket i.
func (b *Base) Input(i int) Operation {
	if i < 0 || i >= len(b.inputs) {
		return nil
	}
	return b.inputs[i]
}

// DetermineResolution takes the resolution of the first input, or the
// preferred resolution when there are no inputs.
func (b *Base) DetermineResolution(preferredWidth, preferredHeight int) (int, int) {
	w, h := preferredWidth, preferredHeight
	if len(b.inputs) > 0 && b.inputs[0] != nil {
		w, h = b.inputs[0].DetermineResolution(preferredWidth, preferredHeight)
	}
	b.SetResolution(w, h)
	return w, h
}

// SetResolution fixes the operation's resolution.
func (b *Base) SetResolution(width, height int) {
	b.width = width
	b.height = height
}

// Resolution returns the operation's resolution.
func (b *Base) Resolution() (int, int) { return b.width, b.height }

// IsComplex reports whether the operation's inputs must be buffered.
func (b *Base) IsComplex() bool { return b.complex }

// SetComplex marks the operation's inputs as buffer boundaries.
func (b *Base) SetComplex(isComplex bool) { b.complex = isComplex }

// AreaOfInterest returns output unchanged: a simple operation reads its
// inputs at the pixel it computes.
func (b *Base) AreaOfInterest(input int, output image.Rectangle) image.Rectangle {
	return output
}

// InitExecution checks that every input is connected.
func (b *Base) InitExecution() error {
	for i, in := range b.inputs {
		if in == nil {
			return fmt.Errorf("%w: %s input %d", ErrInputMissing, b.name, i)
		}
	}
	return nil
}

// DeinitExecution does nothing.
func (b *Base) DeinitExecution() {}

// ReadInput samples input i at (x, y).
func (b *Base) ReadInput(i int, out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	b.inputs[i].ExecutePixel(out, x, y, s, in)
}

// sample reads buf at (x, y) with sampler s.
func sample(buf *memory.Buffer, out []float32, x, y float32, s Sampler) {
	switch s {
	case SamplerBilinear:
		buf.ReadBilinear(out, x, y)
	case SamplerBicubic:
		buf.ReadCubic(out, x, y)
	default:
		buf.ReadNearest(out, x, y)
	}
}

// Walk calls fn for op and every operation reachable through its inputs,
// visiting each operation once.
func Walk(op Operation, fn func(Operation) error) error {
	seen := make(map[Operation]bool)
	var visit func(Operation) error
	visit = func(o Operation) error {
		if o == nil || seen[o] {
			return nil
		}
		seen[o] = true
		if err := fn(o); err != nil {
			return err
		}
		for i := range o.InputTypes() {
			if err := visit(o.Input(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(op)
}
