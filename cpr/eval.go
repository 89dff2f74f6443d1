// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpr

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/curioloop/sparsejac/numdiff"
	"github.com/curioloop/sparsejac/sparsity"
)

// Evaluator estimates the non-constant Jacobian entries with two function
// evaluations per group, independently of the number of columns.
//
// Every column of a group is perturbed at once. The plus sample moves the
// central and forward columns by +hⱼ, the minus sample moves the central and
// backward columns by -hⱼ, both from the original point, so the stencil of each
// column matches what numdiff.Spec.Column would pick for it.
//
// An Evaluator is read-only after construction and may be shared by
// goroutines that each own a Workspace.
type Evaluator struct {
	spec   numdiff.Spec
	groups GroupSet
	nz     []sparsity.Index
	slots  [][]int // per group, the positions in nz it refreshes

	// Workers is the number of goroutines evaluating groups concurrently.
	// Values below 2 evaluate serially. The object function must be safe for
	// concurrent use when Workers > 1.
	Workers int
}

// NewEvaluator binds groups to the non-constant entries nz of spec.Object.
// The constant entries take part in the row test of Validate, a group set that
// fails it is rejected with ErrPattern.
func NewEvaluator(spec numdiff.Spec, groups GroupSet, nz, constant []sparsity.Index) (*Evaluator, error) {
	switch {
	case spec.N <= 0 || spec.M <= 0:
		return nil, fmt.Errorf("%w: n=%d m=%d must be positive", numdiff.ErrDimension, spec.N, spec.M)
	case spec.Object == nil:
		return nil, errors.New("cpr: object function is required")
	case spec.Bounds != nil && len(spec.Bounds) != spec.N:
		return nil, fmt.Errorf("%w: %d bounds for %d variables", numdiff.ErrDimension, len(spec.Bounds), spec.N)
	}
	for _, list := range [][]sparsity.Index{nz, constant} {
		for _, e := range list {
			if e.Row < 0 || e.Row >= spec.M || e.Col < 0 || e.Col >= spec.N {
				return nil, fmt.Errorf("%w: entry (%d,%d) outside %d×%d", ErrPattern, e.Row, e.Col, spec.M, spec.N)
			}
		}
	}
	if err := Validate(spec.N, groups, nz, constant); err != nil {
		return nil, err
	}

	owner := make([]int, spec.N)
	for k, g := range groups {
		for _, j := range g {
			owner[j] = k
		}
	}
	slots := make([][]int, len(groups))
	for k, e := range nz {
		g := owner[e.Col]
		slots[g] = append(slots[g], k)
	}

	return &Evaluator{spec: spec, groups: groups, nz: nz, slots: slots}, nil
}

// Groups returns the group set the evaluator was built with.
func (e *Evaluator) Groups() GroupSet {
	return e.groups
}

// Workspace holds the scratch buffers of one in-flight grouped evaluation,
// one set per worker. The zero value is ready to use.
type Workspace struct {
	scratch []*scratch
}

type scratch struct {
	xp, fp, fm  []float64
	plus, minus []float64
	evals       int
}

// Evaluations returns the number of function evaluations made through w.
func (w *Workspace) Evaluations() int {
	n := 0
	for _, s := range w.scratch {
		n += s.evals
	}
	return n
}

func (w *Workspace) reserve(workers, n, m int) {
	for len(w.scratch) < workers {
		w.scratch = append(w.scratch, new(scratch))
	}
	for _, s := range w.scratch {
		if len(s.xp) != n || len(s.fp) != m {
			s.xp = make([]float64, n)
			s.plus = make([]float64, n)
			s.minus = make([]float64, n)
			s.fp = make([]float64, m)
			s.fm = make([]float64, m)
		}
	}
}

// Eval refreshes the non-constant entries at x into dst, which is parallel to
// the nz slice given to NewEvaluator. x is never modified.
func (e *Evaluator) Eval(ctx context.Context, w *Workspace, x, dst []float64) error {
	n, m := e.spec.N, e.spec.M
	switch {
	case len(x) != n:
		return fmt.Errorf("%w: x has %d elements, want %d", numdiff.ErrDimension, len(x), n)
	case len(dst) != len(e.nz):
		return fmt.Errorf("%w: value buffer has %d elements, want %d", numdiff.ErrDimension, len(dst), len(e.nz))
	}

	workers := min(max(e.Workers, 1), max(len(e.groups), 1))
	w.reserve(workers, n, m)

	if workers == 1 {
		return numdiff.Guard(func() error {
			return e.evalStride(ctx, w.scratch[0], 0, 1, x, dst)
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	for t := 0; t < workers; t++ {
		t := t
		s := w.scratch[t]
		g.Go(func() error {
			return numdiff.Guard(func() error {
				return e.evalStride(ctx, s, t, workers, x, dst)
			})
		})
	}
	return g.Wait()
}

// evalStride evaluates groups first, first+stride, ... with the scratch set s.
func (e *Evaluator) evalStride(ctx context.Context, s *scratch, first, stride int, x, dst []float64) error {
	for k := first; k < len(e.groups); k += stride {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.evalGroup(s, k, x, dst); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) evalGroup(s *scratch, k int, x, dst []float64) error {
	group := e.groups[k]
	copy(s.xp, x)
	for _, j := range group {
		xs := x[j]
		h := numdiff.Step(xs, e.spec.Step)
		s.plus[j], s.minus[j] = numdiff.Select(xs, e.spec.Bound(j), h).Offsets(h)
		s.xp[j] = xs + s.plus[j]
	}
	s.evals++
	if err := e.spec.Object(s.xp, s.fp); err != nil {
		return fmt.Errorf("cpr: evaluate group %d plus sample: %w", k, err)
	}

	for _, j := range group {
		s.xp[j] = x[j] - s.minus[j]
	}
	s.evals++
	if err := e.spec.Object(s.xp, s.fm); err != nil {
		return fmt.Errorf("cpr: evaluate group %d minus sample: %w", k, err)
	}

	for _, p := range e.slots[k] {
		idx := e.nz[p]
		dst[p] = (s.fp[idx.Row] - s.fm[idx.Row]) / (s.plus[idx.Col] + s.minus[idx.Col])
	}
	return nil
}
