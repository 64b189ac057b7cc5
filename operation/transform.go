package operation

import (
	"fmt"
	"image"
	"math"

	"github.com/mrjoshuak/go-compositor/memory"
)

// sampleMargin covers the extra taps of the widest sampler (bicubic).
const sampleMargin = 2

// sampledArea returns the pixel area read when sampling the continuous
// coordinate range [x0, x1] x [y0, y1].
func sampledArea(x0, y0, x1, y1 float64) image.Rectangle {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return image.Rect(
		int(math.Floor(x0))-sampleMargin,
		int(math.Floor(y0))-sampleMargin,
		int(math.Ceil(x1))+sampleMargin+1,
		int(math.Ceil(y1))+sampleMargin+1,
	)
}

// Scale resizes its input about the image centre without changing the
// resolution.
type Scale struct {
	Base
	X, Y    float32
	Sampler Sampler

	centerX, centerY float32
}

// NewScale creates a scale operation with bicubic sampling.
func NewScale(x, y float32) *Scale {
	return &Scale{
		Base:    NewBase("Scale", memory.DataTypeColor, memory.DataTypeColor),
		X:       x,
		Y:       y,
		Sampler: SamplerBicubic,
	}
}

func (o *Scale) InitExecution() error {
	if err := o.Base.InitExecution(); err != nil {
		return err
	}
	if o.X == 0 || o.Y == 0 {
		return fmt.Errorf("%w: scale %vx%v", ErrInvalidParameter, o.X, o.Y)
	}
	w, h := o.Resolution()
	o.centerX = float32(w) / 2
	o.centerY = float32(h) / 2
	return nil
}

func (o *Scale) source(x, y float32) (float32, float32) {
	return o.centerX + (x-o.centerX)/o.X, o.centerY + (y-o.centerY)/o.Y
}

func (o *Scale) AreaOfInterest(_ int, output image.Rectangle) image.Rectangle {
	x0, y0 := o.source(float32(output.Min.X), float32(output.Min.Y))
	x1, y1 := o.source(float32(output.Max.X-1), float32(output.Max.Y-1))
	return sampledArea(float64(x0), float64(y0), float64(x1), float64(y1))
}

func (o *Scale) ExecutePixel(out []float32, x, y float32, _ Sampler, in []*memory.Buffer) {
	nx, ny := o.source(x, y)
	o.ReadInput(0, out, nx, ny, o.Sampler, in)
}

// Translate moves its input by (DX, DY) pixels.
type Translate struct {
	Base
	DX, DY  float32
	Sampler Sampler
}

// NewTranslate creates a translate operation with bilinear sampling.
func NewTranslate(dx, dy float32) *Translate {
	return &Translate{
		Base:    NewBase("Translate", memory.DataTypeColor, memory.DataTypeColor),
		DX:      dx,
		DY:      dy,
		Sampler: SamplerBilinear,
	}
}

func (o *Translate) AreaOfInterest(_ int, output image.Rectangle) image.Rectangle {
	return sampledArea(
		float64(float32(output.Min.X)-o.DX), float64(float32(output.Min.Y)-o.DY),
		float64(float32(output.Max.X-1)-o.DX), float64(float32(output.Max.Y-1)-o.DY),
	)
}

func (o *Translate) ExecutePixel(out []float32, x, y float32, _ Sampler, in []*memory.Buffer) {
	o.ReadInput(0, out, x-o.DX, y-o.DY, o.Sampler, in)
}
