package operation

import "github.com/mrjoshuak/go-compositor/memory"

// SetValue outputs a constant scalar.
type SetValue struct {
	Base
	Value float32
}

// NewSetValue creates a constant scalar operation.
func NewSetValue(v float32) *SetValue {
	return &SetValue{Base: NewBase("SetValue", memory.DataTypeValue), Value: v}
}

func (o *SetValue) ExecutePixel(out []float32, _, _ float32, _ Sampler, _ []*memory.Buffer) {
	out[0] = o.Value
}

// SetColor outputs a constant RGBA color.
type SetColor struct {
	Base
	Color [4]float32
}

// NewSetColor creates a constant color operation.
func NewSetColor(r, g, b, a float32) *SetColor {
	return &SetColor{Base: NewBase("SetColor", memory.DataTypeColor), Color: [4]float32{r, g, b, a}}
}

func (o *SetColor) ExecutePixel(out []float32, _, _ float32, _ Sampler, _ []*memory.Buffer) {
	copy(out[:4], o.Color[:])
}

// SetVector outputs a constant vector.
type SetVector struct {
	Base
	Vector [3]float32
}

// NewSetVector creates a constant vector operation.
func NewSetVector(x, y, z float32) *SetVector {
	return &SetVector{Base: NewBase("SetVector", memory.DataTypeVector), Vector: [3]float32{x, y, z}}
}

func (o *SetVector) ExecutePixel(out []float32, _, _ float32, _ Sampler, _ []*memory.Buffer) {
	copy(out[:3], o.Vector[:])
}
