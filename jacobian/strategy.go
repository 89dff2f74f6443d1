// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jacobian

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/sparsejac/cpr"
	"github.com/curioloop/sparsejac/numdiff"
	"github.com/curioloop/sparsejac/sparsity"
)

// Strategy produces the sparsity pattern and the non-constant values of a
// Jacobian. Both variants return the same layout, so callers do not need to
// know which one is active.
type Strategy interface {
	// Setup detects the pattern around x. It is called once per structural
	// configuration and must not run concurrently with Values.
	Setup(ctx context.Context, x []float64) (*sparsity.Pattern, error)
	// Values refreshes the non-constant entries at x into dst,
	// parallel to Pattern.NonConstant.
	Values(ctx context.Context, w *Workspace, x, dst []float64) error
	// Groups returns the number of evaluation groups, zero when not applicable.
	Groups() int
}

// Workspace holds the scratch buffers of one in-flight Values call.
// The zero value is ready to use; a workspace must not be shared by
// concurrent calls.
type Workspace struct {
	group  cpr.Workspace
	jac    *mat.Dense
	values []float64
	tapes  int
}

// Evaluations returns the number of function evaluations and delegate
// Jacobians made through w.
func (w *Workspace) Evaluations() int {
	return w.group.Evaluations() + w.tapes
}

// Numeric estimates derivatives by bound-aware finite differences,
// refreshing non-constant entries with grouped evaluations.
type Numeric struct {
	spec    numdiff.Spec
	order   cpr.Order
	workers int
	eval    *cpr.Evaluator
}

// NewNumeric creates the finite difference strategy.
func NewNumeric(spec numdiff.Spec, order cpr.Order, workers int) *Numeric {
	return &Numeric{spec: spec, order: order, workers: workers}
}

// Setup detects the pattern around x and partitions its non-constant columns.
// A failed Setup leaves the strategy not ready.
func (s *Numeric) Setup(ctx context.Context, x []float64) (*sparsity.Pattern, error) {
	s.eval = nil
	det := sparsity.Detector{Spec: s.spec, Workers: s.workers}
	pat, err := det.Detect(ctx, x)
	if err != nil {
		return nil, err
	}
	constant := pat.ConstantIndex()
	gs, err := cpr.Partition(s.spec.N, pat.NonConstant, constant, s.order)
	if err != nil {
		return nil, err
	}
	ev, err := cpr.NewEvaluator(s.spec, gs, pat.NonConstant, constant)
	if err != nil {
		return nil, err
	}
	ev.Workers = s.workers
	s.eval = ev
	return pat, nil
}

// Values refreshes the non-constant entries with two evaluations per group.
func (s *Numeric) Values(ctx context.Context, w *Workspace, x, dst []float64) error {
	if s.eval == nil {
		return ErrNotReady
	}
	return s.eval.Eval(ctx, &w.group, x, dst)
}

// Groups returns the number of column groups, zero before Setup.
func (s *Numeric) Groups() int {
	if s.eval == nil {
		return 0
	}
	return len(s.eval.Groups())
}

// GroupSet returns the column groups found by the last Setup.
func (s *Numeric) GroupSet() cpr.GroupSet {
	if s.eval == nil {
		return nil
	}
	return s.eval.Groups()
}

// Delegate computes exact Jacobians, typically by replaying a recorded
// automatic differentiation tape.
type Delegate interface {
	// Jacobian stores the m×n Jacobian at x in dst, which is already sized m×n.
	Jacobian(dst *mat.Dense, x []float64) error
}

// Analytic takes exact derivatives from a Delegate. The pattern is classified
// from delegate Jacobians at the same probe points the numeric detector uses.
type Analytic struct {
	n, m     int
	bounds   []numdiff.Bound
	delegate Delegate
	nz       []sparsity.Index
	ready    bool
}

// NewAnalytic creates the exact derivative strategy.
func NewAnalytic(n, m int, bounds []numdiff.Bound, delegate Delegate) *Analytic {
	return &Analytic{n: n, m: m, bounds: bounds, delegate: delegate}
}

func (s *Analytic) jacobian(dst *mat.Dense, x []float64) error {
	if err := s.delegate.Jacobian(dst, x); err != nil {
		return fmt.Errorf("jacobian: analytic delegate: %w", err)
	}
	if r, c := dst.Dims(); r != s.m || c != s.n {
		return fmt.Errorf("%w: delegate returned %d×%d, want %d×%d", ErrDimension, r, c, s.m, s.n)
	}
	return nil
}

// Setup classifies the delegate Jacobians taken at the detector probe points.
func (s *Analytic) Setup(ctx context.Context, x []float64) (*sparsity.Pattern, error) {
	s.ready = false
	var jacs [3]*mat.Dense
	for k, pt := range sparsity.Probes(x, s.bounds) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		jacs[k] = mat.NewDense(s.m, s.n, nil)
		if err := s.jacobian(jacs[k], pt); err != nil {
			return nil, err
		}
	}

	tol := sparsity.Tolerance(x)
	pat := &sparsity.Pattern{Rows: s.m, Cols: s.n}
	var cols [3][]float64
	for j := 0; j < s.n; j++ {
		for k := range cols {
			cols[k] = mat.Col(cols[k], j, jacs[k])
		}
		pat.AppendColumn(j, cols[0], cols[1], cols[2], tol)
	}
	s.nz = pat.NonConstant
	s.ready = true
	return pat, nil
}

// Values copies the non-constant entries out of one delegate Jacobian at x.
func (s *Analytic) Values(ctx context.Context, w *Workspace, x, dst []float64) error {
	if !s.ready {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.jac == nil {
		w.jac = mat.NewDense(s.m, s.n, nil)
	} else if r, c := w.jac.Dims(); r != s.m || c != s.n {
		w.jac = mat.NewDense(s.m, s.n, nil)
	}
	w.tapes++
	if err := s.jacobian(w.jac, x); err != nil {
		return err
	}
	for k, idx := range s.nz {
		dst[k] = w.jac.At(idx.Row, idx.Col)
	}
	return nil
}

// Groups is always zero, the delegate needs no column groups.
func (s *Analytic) Groups() int {
	return 0
}
