package operation

import "github.com/mrjoshuak/go-compositor/memory"

// ConvertColorToValue converts a color to its alpha-weighted channel mean.
type ConvertColorToValue struct{ Base }

// NewConvertColorToValue returns a color to value converter.
func NewConvertColorToValue() *ConvertColorToValue {
	return &ConvertColorToValue{NewBase("ConvertColorToValue", memory.DataTypeValue, memory.DataTypeColor)}
}

func (o *ConvertColorToValue) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	var c [4]float32
	o.ReadInput(0, c[:], x, y, s, in)
	out[0] = ((c[0] + c[1] + c[2]) / 3) * c[3]
}

// ConvertColorToBW converts a color to luminance.
type ConvertColorToBW struct{ Base }

// NewConvertColorToBW returns a color to luminance converter.
func NewConvertColorToBW() *ConvertColorToBW {
	return &ConvertColorToBW{NewBase("ConvertColorToBW", memory.DataTypeValue, memory.DataTypeColor)}
}

func (o *ConvertColorToBW) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	var c [4]float32
	o.ReadInput(0, c[:], x, y, s, in)
	out[0] = c[0]*0.35 + c[1]*0.45 + c[2]*0.2
}

// ConvertValueToColor converts a scalar to an opaque gray.
type ConvertValueToColor struct{ Base }

// NewConvertValueToColor returns a value to gray color converter.
func NewConvertValueToColor() *ConvertValueToColor {
	return &ConvertValueToColor{NewBase("ConvertValueToColor", memory.DataTypeColor, memory.DataTypeValue)}
}

func (o *ConvertValueToColor) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	var v [1]float32
	o.ReadInput(0, v[:], x, y, s, in)
	out[0], out[1], out[2], out[3] = v[0], v[0], v[0], 1
}

// ConvertColorToVector drops the alpha channel.
type ConvertColorToVector struct{ Base }

// NewConvertColorToVector returns a converter that keeps the RGB channels.
func NewConvertColorToVector() *ConvertColorToVector {
	return &ConvertColorToVector{NewBase("ConvertColorToVector", memory.DataTypeVector, memory.DataTypeColor)}
}

func (o *ConvertColorToVector) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	var c [4]float32
	o.ReadInput(0, c[:], x, y, s, in)
	copy(out[:3], c[:3])
}

// ConvertVectorToColor adds an opaque alpha channel.
type ConvertVectorToColor struct{ Base }

// NewConvertVectorToColor returns a converter that adds alpha 1.
func NewConvertVectorToColor() *ConvertVectorToColor {
	return &ConvertVectorToColor{NewBase("ConvertVectorToColor", memory.DataTypeColor, memory.DataTypeVector)}
}

func (o *ConvertVectorToColor) ExecutePixel(out []float32, x, y float32, s Sampler, in []*memory.Buffer) {
	var v [4]float32
	o.ReadInput(0, v[:], x, y, s, in)
	out[0], out[1], out[2], out[3] = v[0], v[1], v[2], 1
}
