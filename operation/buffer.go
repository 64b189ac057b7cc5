package operation

import (
	"fmt"

	"github.com/mrjoshuak/go-compositor/memory"
)

// Image feeds a host raster into the graph. The raster's top-left pixel is
// addressed as (0, 0).
type Image struct {
	Base
	raster *memory.Buffer
}

// NewImage creates an input operation over raster. The raster must stay
// resident while the graph executes.
func NewImage(raster *memory.Buffer) *Image {
	return &Image{Base: NewBase("Image", raster.DataType()), raster: raster}
}

// Raster returns the host raster.
func (o *Image) Raster() *memory.Buffer { return o.raster }

// DetermineResolution returns the raster size.
func (o *Image) DetermineResolution(_, _ int) (int, int) {
	o.SetResolution(o.raster.Width(), o.raster.Height())
	return o.Resolution()
}

func (o *Image) ExecutePixel(out []float32, x, y float32, s Sampler, _ []*memory.Buffer) {
	origin := o.raster.Rect().Min
	sample(o.raster, out, x+float32(origin.X), y+float32(origin.Y), s)
}

// ReadBuffer samples the consolidated buffer of another execution group's
// output. The compiler assigns each ReadBuffer of a group a slot in the
// buffer list passed to ExecutePixel.
type ReadBuffer struct {
	Base
	proxy *memory.Proxy
	slot  int
}

// NewReadBuffer creates a reader of p's chunks.
func NewReadBuffer(p *memory.Proxy) *ReadBuffer {
	o := &ReadBuffer{Base: NewBase("ReadBuffer", p.DataType()), proxy: p}
	o.SetName("ReadBuffer(" + p.Name() + ")")
	return o
}

// Proxy returns the image being read.
func (o *ReadBuffer) Proxy() *memory.Proxy { return o.proxy }

// Slot returns the index of the reader's buffer in ExecutePixel's buffer list.
func (o *ReadBuffer) Slot() int { return o.slot }

// SetSlot assigns the reader's buffer slot.
func (o *ReadBuffer) SetSlot(slot int) { o.slot = slot }

// DetermineResolution returns the proxy size.
func (o *ReadBuffer) DetermineResolution(_, _ int) (int, int) {
	b := o.proxy.Bounds()
	o.SetResolution(b.Dx(), b.Dy())
	return o.Resolution()
}

func (o *ReadBuffer) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	sample(in[o.slot], out, x, y, s)
}

// Check verifies that in holds a buffer of the right type in the reader's slot.
func (o *ReadBuffer) Check(in []*memory.Buffer) error {
	if o.slot < 0 || o.slot >= len(in) || in[o.slot] == nil {
		return fmt.Errorf("%w: %s slot %d of %d", ErrBufferSlot, o.Name(), o.slot, len(in))
	}
	if in[o.slot].DataType() != o.proxy.DataType() {
		return fmt.Errorf("%w: %s slot %d holds %v", memory.ErrTypeMismatch, o.Name(), o.slot, in[o.slot].DataType())
	}
	return nil
}

// WriteBuffer is the root of an execution group: it computes its input
// into the chunks of its proxy.
type WriteBuffer struct {
	Base
	proxy *memory.Proxy
}

// NewWriteBuffer creates the group root that writes input into p.
func NewWriteBuffer(p *memory.Proxy, input Operation) *WriteBuffer {
	o := &WriteBuffer{Base: NewBase("WriteBuffer", p.DataType(), p.DataType()), proxy: p}
	o.SetName("WriteBuffer(" + p.Name() + ")")
	o.inputs[0] = input
	return o
}

// Proxy returns the image being written.
func (o *WriteBuffer) Proxy() *memory.Proxy { return o.proxy }

// DetermineResolution resolves the input and returns the proxy size.
func (o *WriteBuffer) DetermineResolution(preferredWidth, preferredHeight int) (int, int) {
	if in := o.Input(0); in != nil {
		in.DetermineResolution(preferredWidth, preferredHeight)
	}
	b := o.proxy.Bounds()
	o.SetResolution(b.Dx(), b.Dy())
	return o.Resolution()
}

func (o *WriteBuffer) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	o.ReadInput(0, out, x, y, s, in)
}
