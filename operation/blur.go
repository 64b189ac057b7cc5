package operation

import (
	"fmt"
	"image"
	"math"

	"github.com/mrjoshuak/go-compositor/filter"
	"github.com/mrjoshuak/go-compositor/memory"
)

// Aspect selects how relative blur sizes are converted to pixels.
type Aspect uint8

const (
	// AspectNone scales the x size by the width and the y size by the height.
	AspectNone Aspect = iota
	// AspectY scales both sizes by the width.
	AspectY
	// AspectX scales both sizes by the height.
	AspectX
)

// Quality trades blur accuracy for speed by skipping taps.
type Quality uint8

const (
	QualityHigh Quality = iota
	QualityMedium
	QualityLow
)

// Step returns the tap stride for the quality level.
func (q Quality) Step() int {
	switch q {
	case QualityMedium:
		return 2
	case QualityLow:
		return 3
	default:
		return 1
	}
}

// BlurData holds the user-facing blur parameters.
type BlurData struct {
	Filter filter.Type

	// SizeX and SizeY are the blur radii in pixels when Relative is false.
	SizeX, SizeY int

	// PercentX and PercentY are the radii in percent of the image when
	// Relative is true.
	PercentX, PercentY float32
	Relative           bool
	Aspect             Aspect

	Quality Quality
}

// Sizes returns the pixel radii for an image of the given resolution.
func (d BlurData) Sizes(width, height int) (sizeX, sizeY int) {
	if !d.Relative {
		return d.SizeX, d.SizeY
	}
	switch d.Aspect {
	case AspectY:
		return relativeSize(d.PercentX, width), relativeSize(d.PercentY, width)
	case AspectX:
		return relativeSize(d.PercentX, height), relativeSize(d.PercentY, height)
	default:
		return relativeSize(d.PercentX, width), relativeSize(d.PercentY, height)
	}
}

// relativeSize returns percent of dim, truncated. The small bias keeps exact
// products such as 29% of 100 from landing one below after rounding.
func relativeSize(percent float32, dim int) int {
	return int(math.Floor(float64(percent)*float64(dim)/100 + 1e-6))
}

// blurBase is shared by the separable Gaussian passes.
type blurBase struct {
	Base
	Data BlurData

	// Size multiplies the radii.
	Size float32

	sizeX, sizeY int
	step         int
}

func newBlurBase(name string, data BlurData) blurBase {
	b := blurBase{
		Base: NewBase(name, memory.DataTypeColor, memory.DataTypeColor),
		Data: data,
		Size: 1,
	}
	b.SetComplex(true)
	return b
}

func (o *blurBase) initBlur() error {
	if err := o.Base.InitExecution(); err != nil {
		return err
	}
	if o.Size < 0 || math.IsNaN(float64(o.Size)) {
		return fmt.Errorf("%w: %s size %v", ErrInvalidParameter, o.Name(), o.Size)
	}
	o.sizeX, o.sizeY = o.Data.Sizes(o.Resolution())
	o.step = o.Data.Quality.Step()
	return nil
}

// Sizes returns the pixel radii computed by InitExecution.
func (o *blurBase) Sizes() (int, int) { return o.sizeX, o.sizeY }

func radius(size float32, pixels int) int {
	rad := size * float32(pixels)
	if rad < 1 {
		rad = 1
	}
	return int(rad)
}

// convolve accumulates the taps lo..hi of a 1-D kernel centred on c.
// Taps outside the image are skipped and the result is renormalized.
func convolve(out []float32, table []float32, rad, c, lo, hi, step int, read func(tap []float32, pos int)) {
	var acc, tap [4]float32
	var total float32
	for p := lo; p <= hi; p += step {
		w := table[p-c+rad]
		read(tap[:], p)
		for i := range acc {
			acc[i] += tap[i] * w
		}
		total += w
	}
	if total == 0 {
		read(tap[:], c)
		copy(out[:4], tap[:])
		return
	}
	inv := 1 / total
	for i := range acc {
		out[i] = acc[i] * inv
	}
}

// GaussianXBlur is the horizontal pass of a separable blur.
type GaussianXBlur struct {
	blurBase
	rad   int
	table []float32
}

// NewGaussianXBlur creates a horizontal blur pass.
func NewGaussianXBlur(data BlurData) *GaussianXBlur {
	return &GaussianXBlur{blurBase: newBlurBase("GaussianXBlur", data)}
}

func (o *GaussianXBlur) InitExecution() error {
	if err := o.initBlur(); err != nil {
		return err
	}
	o.rad = radius(o.Size, o.sizeX)
	o.table = filter.GaussianTable(o.Data.Filter, o.rad)
	return nil
}

func (o *GaussianXBlur) DeinitExecution() { o.table = nil }

// Radius returns the kernel radius in pixels.
func (o *GaussianXBlur) Radius() int { return o.rad }

func (o *GaussianXBlur) AreaOfInterest(_ int, output image.Rectangle) image.Rectangle {
	return image.Rect(output.Min.X-o.rad, output.Min.Y, output.Max.X+o.rad, output.Max.Y)
}

func (o *GaussianXBlur) ExecutePixel(out []float32, x, y float32, _ Sampler, in []*memory.Buffer) {
	w, _ := o.Resolution()
	cx := int(math.Floor(float64(x)))
	lo := max(cx-o.rad, 0)
	hi := min(cx+o.rad, w-1)
	convolve(out, o.table, o.rad, cx, lo, hi, o.step, func(tap []float32, px int) {
		o.ReadInput(0, tap, float32(px), y, SamplerNearest, in)
	})
}

// GaussianYBlur is the vertical pass of a separable blur.
type GaussianYBlur struct {
	blurBase
	rad   int
	table []float32
}

// NewGaussianYBlur creates a vertical blur pass.
func NewGaussianYBlur(data BlurData) *GaussianYBlur {
	return &GaussianYBlur{blurBase: newBlurBase("GaussianYBlur", data)}
}

func (o *GaussianYBlur) InitExecution() error {
	if err := o.initBlur(); err != nil {
		return err
	}
	o.rad = radius(o.Size, o.sizeY)
	o.table = filter.GaussianTable(o.Data.Filter, o.rad)
	return nil
}

func (o *GaussianYBlur) DeinitExecution() { o.table = nil }

// Radius returns the kernel radius in pixels.
func (o *GaussianYBlur) Radius() int { return o.rad }

func (o *GaussianYBlur) AreaOfInterest(_ int, output image.Rectangle) image.Rectangle {
	return image.Rect(output.Min.X, output.Min.Y-o.rad, output.Max.X, output.Max.Y+o.rad)
}

func (o *GaussianYBlur) ExecutePixel(out []float32, x, y float32, _ Sampler, in []*memory.Buffer) {
	_, h := o.Resolution()
	cy := int(math.Floor(float64(y)))
	lo := max(cy-o.rad, 0)
	hi := min(cy+o.rad, h-1)
	convolve(out, o.table, o.rad, cy, lo, hi, o.step, func(tap []float32, py int) {
		o.ReadInput(0, tap, x, float32(py), SamplerNearest, in)
	})
}
