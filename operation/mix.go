package operation

import (
	"fmt"
	"math"
	"strings"

	"github.com/mrjoshuak/go-compositor/memory"
)

// MixMode selects how Mix combines its two colors.
type MixMode uint8

const (
	MixBlend MixMode = iota
	MixAdd
	MixSubtract
	MixMultiply
	MixDifference
	MixDarken
	MixLighten
)

var mixModeNames = [...]string{
	MixBlend:      "blend",
	MixAdd:        "add",
	MixSubtract:   "subtract",
	MixMultiply:   "multiply",
	MixDifference: "difference",
	MixDarken:     "darken",
	MixLighten:    "lighten",
}

func (m MixMode) String() string {
	if int(m) < len(mixModeNames) {
		return mixModeNames[m]
	}
	return fmt.Sprintf("MixMode(%d)", uint8(m))
}

// ParseMixMode parses a mode name as returned by String.
func ParseMixMode(s string) (MixMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range mixModeNames {
		if s == name {
			return MixMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: mix mode %q", ErrInvalidParameter, s)
}

// Mix socket indices.
const (
	MixInputFactor = iota
	MixInputColor1
	MixInputColor2
)

// Mix combines Color1 and Color2 weighted by Factor. The output alpha is
// always Color1's alpha.
type Mix struct {
	Base
	Mode MixMode

	// UseValueAlphaMultiply scales the factor by Color2's alpha.
	UseValueAlphaMultiply bool
}

// NewMix creates a mix operation.
func NewMix(mode MixMode) *Mix {
	return &Mix{
		Base: NewBase("Mix", memory.DataTypeColor,
			memory.DataTypeValue, memory.DataTypeColor, memory.DataTypeColor),
		Mode: mode,
	}
}

// DetermineResolution resolves every input and takes the size of the
// first connected one of Color1, Color2 and Factor.
func (o *Mix) DetermineResolution(preferredWidth, preferredHeight int) (int, int) {
	w, h := preferredWidth, preferredHeight
	found := false
	for _, i := range []int{MixInputColor1, MixInputColor2, MixInputFactor} {
		in := o.Input(i)
		if in == nil {
			continue
		}
		iw, ih := in.DetermineResolution(preferredWidth, preferredHeight)
		if !found {
			w, h, found = iw, ih, true
		}
	}
	o.SetResolution(w, h)
	return w, h
}

func (o *Mix) InitExecution() error {
	if int(o.Mode) >= len(mixModeNames) {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, o.Mode)
	}
	return o.Base.InitExecution()
}

func (o *Mix) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	var fac [1]float32
	var c1, c2 [4]float32
	o.ReadInput(MixInputFactor, fac[:], x, y, s, in)
	o.ReadInput(MixInputColor1, c1[:], x, y, s, in)
	o.ReadInput(MixInputColor2, c2[:], x, y, s, in)

	value := fac[0]
	if o.UseValueAlphaMultiply {
		value *= c2[3]
	}
	valuem := 1 - value

	for i := 0; i < 3; i++ {
		a, b := c1[i], c2[i]
		switch o.Mode {
		case MixBlend:
			out[i] = valuem*a + value*b
		case MixAdd:
			out[i] = a + value*b
		case MixSubtract:
			out[i] = a - value*b
		case MixMultiply:
			out[i] = a * (valuem + value*b)
		case MixDifference:
			out[i] = valuem*a + value*float32(math.Abs(float64(a-b)))
		case MixDarken:
			out[i] = valuem*a + value*min(a, b)
		case MixLighten:
			out[i] = valuem*a + value*max(a, b)
		}
	}
	out[3] = c1[3]
}
