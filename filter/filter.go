// Package filter provides the reconstruction filters used to build
// one-dimensional blur kernels.
//
// Value evaluates a filter at a normalized offset in [-1, 1]; GaussianTable
// samples a filter into a normalized weight table of 2*rad+1 taps.
package filter

import (
	"fmt"
	"math"
	"strings"
)

// Type selects a filter shape. The numeric values match the render
// pipeline's filter enumeration.
type Type int

const (
	Box Type = iota
	Tent
	Quad
	Cubic
	Catrom
	Gauss
	Mitch
)

// gaussFactor widens every filter except box and tent so that the kernel
// support at |x| = 1 covers the useful part of the curve.
const gaussFactor = 1.6

var typeNames = [...]string{
	Box:    "box",
	Tent:   "tent",
	Quad:   "quad",
	Cubic:  "cubic",
	Catrom: "catrom",
	Gauss:  "gauss",
	Mitch:  "mitch",
}

// String returns the filter name.
func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses a filter name as returned by String.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range typeNames {
		if s == name {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("filter: unknown type %q", s)
}

// Value evaluates filter t at normalized offset x, where |x| <= 1 spans
// the kernel radius. Unknown types evaluate to 0.
func Value(t Type, x float32) float32 {
	if x < 0 {
		x = -x
	}
	switch t {
	case Box:
		if x > 1 {
			return 0
		}
		return 1
	case Tent:
		if x > 1 {
			return 0
		}
		return 1 - x
	case Gauss:
		x *= gaussFactor
		return float32(1/math.Exp(float64(x*x)) - 1/math.Exp(gaussFactor*gaussFactor*2.25))
	case Mitch:
		return mitchell(x * gaussFactor)
	case Quad:
		return quadratic(x * gaussFactor)
	case Cubic:
		return cubic(x * gaussFactor)
	case Catrom:
		return catrom(x * gaussFactor)
	}
	return 0
}

func quadratic(x float32) float32 {
	if x < 0 {
		x = -x
	}
	switch {
	case x < 0.5:
		return 0.75 - x*x
	case x < 1.5:
		return 0.5 * (x - 1.5) * (x - 1.5)
	}
	return 0
}

// cubic is the uniform cubic B-spline.
func cubic(x float32) float32 {
	if x < 0 {
		x = -x
	}
	x2 := x * x
	switch {
	case x < 1:
		return 0.5*x*x2 - x2 + 2.0/3.0
	case x < 2:
		return (2 - x) * (2 - x) * (2 - x) / 6
	}
	return 0
}

func catrom(x float32) float32 {
	if x < 0 {
		x = -x
	}
	x2 := x * x
	switch {
	case x < 1:
		return 1.5*x2*x - 2.5*x2 + 1
	case x < 2:
		return -0.5*x2*x + 2.5*x2 - 4*x + 2
	}
	return 0
}

// mitchell is the Mitchell-Netravali cubic with B = C = 1/3.
func mitchell(x float32) float32 {
	const (
		b  = 1.0 / 3.0
		c  = 1.0 / 3.0
		p0 = (6 - 2*b) / 6
		p2 = (-18 + 12*b + 6*c) / 6
		p3 = (12 - 9*b - 6*c) / 6
		q0 = (8*b + 24*c) / 6
		q1 = (-12*b - 48*c) / 6
		q2 = (6*b + 30*c) / 6
		q3 = (-b - 6*c) / 6
	)
	switch {
	case x < -2:
		return 0
	case x < -1:
		return q0 - x*(q1-x*(q2-x*q3))
	case x < 0:
		return p0 + x*x*(p2-x*p3)
	case x < 1:
		return p0 + x*x*(p2+x*p3)
	case x < 2:
		return q0 + x*(q1+x*(q2+x*q3))
	}
	return 0
}

// GaussianTable samples filter t at 2*rad+1 evenly spaced offsets across
// [-1, 1] and normalizes the weights to sum to 1. A radius below 1 yields
// the identity kernel.
func GaussianTable(t Type, rad int) []float32 {
	if rad < 1 {
		return []float32{1}
	}
	n := 2*rad + 1
	tab := make([]float32, n)
	var sum float32
	for i := -rad; i <= rad; i++ {
		v := Value(t, float32(i)/float32(rad))
		sum += v
		tab[i+rad] = v
	}
	if sum == 0 {
		clear(tab)
		tab[rad] = 1
		return tab
	}
	inv := 1 / sum
	for i := range tab {
		tab[i] *= inv
	}
	return tab
}
