package memory

import "math"

// Read copies the pixel at (x, y) into out. Coordinates outside the buffer
// rectangle are clamped to the nearest edge pixel. out must hold at least
// Channels() floats.
func (b *Buffer) Read(out []float32, x, y int) {
	x = clampInt(x, b.rect.Min.X, b.rect.Max.X-1)
	y = clampInt(y, b.rect.Min.Y, b.rect.Max.Y-1)
	off := ((y-b.rect.Min.Y)*b.chunkWidth + (x - b.rect.Min.X)) * b.channels
	copy(out[:b.channels], b.data[off:off+b.channels])
}

// ReadNearest samples the pixel containing the continuous coordinate
// (x, y). Integer coordinates address pixels exactly.
func (b *Buffer) ReadNearest(out []float32, x, y float32) {
	b.Read(out, int(math.Floor(float64(x))), int(math.Floor(float64(y))))
}

// ReadBilinear interpolates linearly between the 2x2 neighbourhood of
// (x, y). The coordinate is clamped to the buffer rectangle first, so
// out-of-range samples return edge values.
func (b *Buffer) ReadBilinear(out []float32, x, y float32) {
	fx, fy := b.clampCoord(x, y)
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	tx := float32(fx - float64(x0))
	ty := float32(fy - float64(y0))

	var c00, c10, c01, c11 [4]float32
	b.Read(c00[:], x0, y0)
	b.Read(c10[:], x0+1, y0)
	b.Read(c01[:], x0, y0+1)
	b.Read(c11[:], x0+1, y0+1)

	mx := 1 - tx
	my := 1 - ty
	for c := 0; c < b.channels; c++ {
		top := c00[c]*mx + c10[c]*tx
		bottom := c01[c]*mx + c11[c]*tx
		out[c] = top*my + bottom*ty
	}
}

// ReadCubic interpolates (x, y) from its 4x4 neighbourhood with
// Catmull-Rom weights. Taps outside the rectangle are clamped like Read,
// and integer coordinates return the stored value exactly.
func (b *Buffer) ReadCubic(out []float32, x, y float32) {
	fx, fy := b.clampCoord(x, y)
	ix := int(math.Floor(fx))
	iy := int(math.Floor(fy))
	tx := fx - float64(ix)
	ty := fy - float64(iy)

	wx := cubicWeights(tx)
	wy := cubicWeights(ty)

	var acc [4]float64
	var tap [4]float32
	for j := 0; j < 4; j++ {
		if wy[j] == 0 {
			continue
		}
		for i := 0; i < 4; i++ {
			w := wx[i] * wy[j]
			if w == 0 {
				continue
			}
			b.Read(tap[:], ix+i-1, iy+j-1)
			for c := 0; c < b.channels; c++ {
				acc[c] += float64(tap[c]) * w
			}
		}
	}
	for c := 0; c < b.channels; c++ {
		out[c] = float32(acc[c])
	}
}

// clampCoord clamps a continuous coordinate to the pixel centres covered
// by the buffer.
func (b *Buffer) clampCoord(x, y float32) (float64, float64) {
	fx := math.Max(float64(b.rect.Min.X), math.Min(float64(x), float64(b.rect.Max.X-1)))
	fy := math.Max(float64(b.rect.Min.Y), math.Min(float64(y), float64(b.rect.Max.Y-1)))
	return fx, fy
}

// cubicWeights returns the Catmull-Rom weights of the four taps at offsets
// -1, 0, 1 and 2 for fractional position t.
func cubicWeights(t float64) [4]float64 {
	return [4]float64{
		catmullRom(t + 1),
		catmullRom(t),
		catmullRom(t - 1),
		catmullRom(t - 2),
	}
}

// catmullRom is the Catmull-Rom cubic kernel (Mitchell-Netravali B=0, C=0.5).
func catmullRom(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
