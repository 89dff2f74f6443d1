// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import "math"

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)

// DefaultStep is the base relative step used when a spec leaves Step unset.
var DefaultStep = sqrtEps

// Bound represents the box constraint of one variable.
// A NaN on either side is read as the matching infinity.
type Bound struct {
	Lower, Upper float64
}

func (b Bound) normalize() Bound {
	if math.IsNaN(b.Lower) {
		b.Lower = math.Inf(-1)
	}
	if math.IsNaN(b.Upper) {
		b.Upper = math.Inf(1)
	}
	return b
}

// Fixed reports whether the variable has a zero-width feasible interval.
func (b Bound) Fixed() bool {
	return b.Lower == b.Upper
}

// Clip projects v onto the interval.
func (b Bound) Clip(v float64) float64 {
	b = b.normalize()
	return math.Max(b.Lower, math.Min(b.Upper, v))
}

// Stencil is a finite difference formula for one variable.
type Stencil int

const (
	// Central uses (f(x+h) - f(x-h)) / 2h.
	Central Stencil = iota
	// Forward uses (f(x+h) - f(x)) / h, chosen near the lower bound.
	Forward
	// Backward uses (f(x) - f(x-h)) / h, chosen near the upper bound.
	Backward
)

func (s Stencil) String() string {
	switch s {
	case Central:
		return "central"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

// Offsets returns the displacements of the plus and minus sample points.
// A zero displacement means the sample is the unperturbed point.
// The derivative estimate is always (f(x+plus) - f(x-minus)) / (plus+minus).
func (s Stencil) Offsets(h float64) (plus, minus float64) {
	switch s {
	case Forward:
		return h, 0
	case Backward:
		return 0, h
	default:
		return h, h
	}
}

// Step returns the absolute step for a variable of value xs.
//
//	h = base × (1 + |xs|)
//
// A non-positive base selects DefaultStep.
func Step(xs, base float64) float64 {
	if !(base > 0) {
		base = DefaultStep
	}
	return base * (1 + math.Abs(xs))
}

// Select chooses the stencil for a variable of value xs with bound b and step h.
//
// Central is used when both xs-h and xs+h stay strictly inside the bounds.
// A fixed variable (Lower == Upper) also gets Central even though both samples
// leave the zero-width interval.
func Select(xs float64, b Bound, h float64) Stencil {
	b = b.normalize()
	lo, hi := b.Lower, b.Upper
	switch {
	case (xs < hi-h && xs > lo+h) || lo == hi:
		return Central
	case xs >= hi-h:
		return Backward
	default:
		return Forward
	}
}
