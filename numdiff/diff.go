// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"errors"
	"fmt"
)

var (
	// ErrDimension is returned when a vector length disagrees with N or M.
	ErrDimension = errors.New("numdiff: dimension mismatch")
	// ErrBounds is returned when a lower bound exceeds its upper bound.
	ErrBounds = errors.New("numdiff: infeasible bounds")
)

// Func evaluates a vector function at x and stores the m outputs in y.
// It must not retain x or y after returning.
//
// The output length cannot be checked from outside: a function producing more
// than len(y) values panics on the write, which Guard turns into ErrDimension.
type Func func(x, y []float64) error

// Guard runs fn and returns a panic raised inside it as an error wrapping
// ErrDimension. Worker goroutines evaluating a Func run under Guard.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: object function panicked: %v", ErrDimension, r)
		}
	}()
	return fn()
}

// ScalarFunc evaluates a scalar function at x.
type ScalarFunc func(x []float64) (float64, error)

// Spec describes a box-constrained vector function 𝒇 : ℝⁿ → ℝᵐ whose
// derivatives are estimated by bound-aware finite differences.
//
// # Reference:
//
//   - V. M. Becerra, "PSOPT Optimal Control Solver User Manual", numerical derivatives.
//   - https://en.wikipedia.org/wiki/Finite_difference
type Spec struct {
	N, M int
	// Function of which to estimate the derivatives.
	Object Func
	// Lower and upper bounds on independent variables, nil means unbounded.
	Bounds []Bound
	// Relative base step, the absolute step is Step × (1 + |xⱼ|).
	// Zero selects DefaultStep.
	Step float64
}

// Bound returns the normalized bound of variable j.
func (s *Spec) Bound(j int) Bound {
	if s.Bounds == nil {
		return Bound{Lower: -inf, Upper: inf}
	}
	return s.Bounds[j].normalize()
}

// Check validates the dimensions, the object and the bounds length against x.
func (s *Spec) Check(x []float64) error {
	switch {
	case s.N <= 0 || s.M <= 0:
		return fmt.Errorf("%w: n=%d m=%d must be positive", ErrDimension, s.N, s.M)
	case s.Object == nil:
		return errors.New("numdiff: object function is required")
	case len(x) != s.N:
		return fmt.Errorf("%w: x has %d elements, want %d", ErrDimension, len(x), s.N)
	case s.Bounds != nil && len(s.Bounds) != s.N:
		return fmt.Errorf("%w: %d bounds for %d variables", ErrDimension, len(s.Bounds), s.N)
	}
	return nil
}

// CheckBounds reports the first variable whose lower bound exceeds its upper bound.
func CheckBounds(bounds []Bound) error {
	for i, b := range bounds {
		b = b.normalize()
		if b.Lower > b.Upper {
			return fmt.Errorf("%w: variable %d has lower %g > upper %g", ErrBounds, i, b.Lower, b.Upper)
		}
	}
	return nil
}

// Clip projects x onto the box in place.
func Clip(x []float64, bounds []Bound) {
	if bounds == nil {
		return
	}
	if len(x) != len(bounds) {
		panic("bound check error")
	}
	for i, b := range bounds {
		x[i] = b.Clip(x[i])
	}
}

// Column estimates column j of the Jacobian at x and stores the m partials in col.
func (s *Spec) Column(w *Workspace, x []float64, j int, col []float64) error {
	if err := s.Check(x); err != nil {
		return err
	}
	switch {
	case j < 0 || j >= s.N:
		return fmt.Errorf("%w: column %d out of %d", ErrDimension, j, s.N)
	case len(col) != s.M:
		return fmt.Errorf("%w: column buffer has %d elements, want %d", ErrDimension, len(col), s.M)
	}
	w.reset(x, s.M)
	return s.column(w, j, col)
}

// Row estimates row i of the Jacobian at x and stores the n partials in row.
// Every variable costs at least one full evaluation of the vector function.
func (s *Spec) Row(w *Workspace, x []float64, i int, row []float64) error {
	if err := s.Check(x); err != nil {
		return err
	}
	switch {
	case i < 0 || i >= s.M:
		return fmt.Errorf("%w: row %d out of %d", ErrDimension, i, s.M)
	case len(row) != s.N:
		return fmt.Errorf("%w: row buffer has %d elements, want %d", ErrDimension, len(row), s.N)
	}
	w.reset(x, s.M)
	for j := range row {
		if err := s.column(w, j, w.col); err != nil {
			return err
		}
		row[j] = w.col[i]
	}
	return nil
}

// Jacobian estimates the dense m×n Jacobian at x, stored row-major in jac.
// The unperturbed point is evaluated at most once for the whole pass.
func (s *Spec) Jacobian(w *Workspace, x, jac []float64) error {
	if err := s.Check(x); err != nil {
		return err
	}
	if len(jac) != s.N*s.M {
		return fmt.Errorf("%w: jacobian buffer has %d elements, want %d×%d", ErrDimension, len(jac), s.M, s.N)
	}
	w.reset(x, s.M)
	n := s.N
	for j := 0; j < n; j++ {
		if err := s.column(w, j, w.col); err != nil {
			return err
		}
		for i, v := range w.col {
			jac[i*n+j] = v
		}
	}
	return nil
}

// column assumes w.xp holds the unperturbed point and restores it on return.
func (s *Spec) column(w *Workspace, j int, col []float64) error {
	xs := w.xp[j]
	h := Step(xs, s.Step)
	plus, minus := Select(xs, s.Bound(j), h).Offsets(h)

	if plus == 0 || minus == 0 {
		if err := w.evalBase(s.Object); err != nil {
			return err
		}
	}

	fp, fm := w.f0, w.f0
	if plus > 0 {
		fp = w.fp
		w.xp[j] = xs + plus
		err := w.eval(s.Object, fp)
		w.xp[j] = xs
		if err != nil {
			return fmt.Errorf("numdiff: evaluate column %d: %w", j, err)
		}
	}
	if minus > 0 {
		fm = w.fm
		w.xp[j] = xs - minus
		err := w.eval(s.Object, fm)
		w.xp[j] = xs
		if err != nil {
			return fmt.Errorf("numdiff: evaluate column %d: %w", j, err)
		}
	}

	d := plus + minus
	for i := range col {
		col[i] = (fp[i] - fm[i]) / d
	}
	return nil
}

// ScalarSpec describes a box-constrained scalar function 𝒇 : ℝⁿ → ℝ.
type ScalarSpec struct {
	N      int
	Object ScalarFunc
	Bounds []Bound
	Step   float64
}

// Gradient estimates the gradient at x and stores the n partials in grad.
// f(x) is evaluated lazily, only if some variable sits near a bound.
func (s *ScalarSpec) Gradient(w *Workspace, x, grad []float64) error {
	switch {
	case s.N <= 0:
		return fmt.Errorf("%w: n=%d must be positive", ErrDimension, s.N)
	case s.Object == nil:
		return errors.New("numdiff: object function is required")
	case len(x) != s.N:
		return fmt.Errorf("%w: x has %d elements, want %d", ErrDimension, len(x), s.N)
	case len(grad) != s.N:
		return fmt.Errorf("%w: gradient buffer has %d elements, want %d", ErrDimension, len(grad), s.N)
	case s.Bounds != nil && len(s.Bounds) != s.N:
		return fmt.Errorf("%w: %d bounds for %d variables", ErrDimension, len(s.Bounds), s.N)
	}

	vec := Spec{N: s.N, M: 1, Bounds: s.Bounds}
	w.reset(x, 0)

	var f0 float64
	base := false
	eval := func() (float64, error) {
		w.evals++
		return s.Object(w.xp)
	}

	for j, xs := range x {
		h := Step(xs, s.Step)
		plus, minus := Select(xs, vec.Bound(j), h).Offsets(h)

		if (plus == 0 || minus == 0) && !base {
			v, err := eval()
			if err != nil {
				return fmt.Errorf("numdiff: evaluate base point: %w", err)
			}
			f0, base = v, true
		}

		fp, fm := f0, f0
		var err error
		if plus > 0 {
			w.xp[j] = xs + plus
			fp, err = eval()
		}
		if err == nil && minus > 0 {
			w.xp[j] = xs - minus
			fm, err = eval()
		}
		w.xp[j] = xs
		if err != nil {
			return fmt.Errorf("numdiff: evaluate gradient component %d: %w", j, err)
		}
		grad[j] = (fp - fm) / (plus + minus)
	}
	return nil
}
