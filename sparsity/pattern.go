// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparsity

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

var eps = math.Nextafter(1, 2) - 1

// Class is the classification of one Jacobian entry.
type Class int

const (
	// Zero entries are structurally absent from the pattern.
	Zero Class = iota
	// Constant entries keep the value observed during detection.
	Constant
	// NonConstant entries must be re-evaluated at every new point.
	NonConstant
)

func (c Class) String() string {
	switch c {
	case Zero:
		return "zero"
	case Constant:
		return "constant"
	case NonConstant:
		return "non-constant"
	default:
		return "unknown"
	}
}

// Index locates a Jacobian entry, both indices are 0-based.
type Index struct {
	Row, Col int
}

// Entry is a constant Jacobian entry with its value.
type Entry struct {
	Row, Col int
	Value    float64
}

// Pattern is the sparsity structure of an m×n Jacobian split into
// constant entries (values pre-filled) and non-constant entries.
// Both lists are ordered by ascending column, then ascending row.
type Pattern struct {
	Rows, Cols  int
	Constant    []Entry
	NonConstant []Index
}

// NNZ returns the number of structurally nonzero entries.
func (p *Pattern) NNZ() int {
	return len(p.Constant) + len(p.NonConstant)
}

// ConstantIndex returns the positions of the constant entries.
func (p *Pattern) ConstantIndex() []Index {
	idx := make([]Index, len(p.Constant))
	for k, e := range p.Constant {
		idx[k] = Index{Row: e.Row, Col: e.Col}
	}
	return idx
}

// Tolerance returns the classification threshold for probes around x.
//
//	tol = 1e-16 × eps^0.8 × max(1, ‖x‖₂)
func Tolerance(x []float64) float64 {
	return 1e-16 * math.Pow(eps, 0.8) * math.Max(1, floats.Norm(x, 2))
}

// Classify decides the class of an entry from three independent estimates.
func Classify(a, b, c, tol float64) Class {
	switch {
	case math.Abs(a)+math.Abs(b)+math.Abs(c) < tol:
		return Zero
	case math.Abs(a-b) <= tol && math.Abs(a-c) <= tol:
		return Constant
	default:
		return NonConstant
	}
}

// AppendColumn classifies column j from the three probe columns c1, c2, c3
// and appends its entries. Columns must be appended in ascending order.
func (p *Pattern) AppendColumn(j int, c1, c2, c3 []float64, tol float64) {
	if len(c1) != p.Rows || len(c2) != p.Rows || len(c3) != p.Rows {
		panic("bound check error")
	}
	for i, a := range c1 {
		switch Classify(a, c2[i], c3[i], tol) {
		case Constant:
			p.Constant = append(p.Constant, Entry{Row: i, Col: j, Value: a})
		case NonConstant:
			p.NonConstant = append(p.NonConstant, Index{Row: i, Col: j})
		}
	}
}
