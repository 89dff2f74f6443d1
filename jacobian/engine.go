// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jacobian serves sparse Jacobians of box-constrained functions to
// gradient-based optimizers, either by grouped finite differences or from an
// exact derivative delegate.
package jacobian

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/sparsejac/cpr"
	"github.com/curioloop/sparsejac/numdiff"
	"github.com/curioloop/sparsejac/sparsity"
)

// Problem specifies the vector function 𝒇 : ℝⁿ → ℝᵐ whose Jacobian is required.
type Problem struct {
	N, M     int             // The problem dimensions
	Object   numdiff.Func    // Function for the numeric strategy
	Bounds   []numdiff.Bound // Optional bounds
	Delegate Delegate        // Exact Jacobians for the analytic strategy
}

// New creates an engine for the problem. A nil cfg selects DefaultConfig and
// a nil logger discards all output.
func (p *Problem) New(cfg *Config, logger *zap.Logger) (*Engine, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	switch {
	case p.N <= 0 || p.M <= 0:
		return nil, fmt.Errorf("%w: n=%d m=%d must be positive", ErrDimension, p.N, p.M)
	case p.Bounds != nil && len(p.Bounds) != p.N:
		return nil, fmt.Errorf("%w: %d bounds for %d variables", ErrDimension, len(p.Bounds), p.N)
	case c.Strategy == StrategyNumeric && p.Object == nil:
		return nil, fmt.Errorf("%w: numeric strategy requires an object function", ErrConfig)
	case c.Strategy == StrategyAnalytic && p.Delegate == nil:
		return nil, fmt.Errorf("%w: analytic strategy requires a delegate", ErrConfig)
	}
	if err := numdiff.CheckBounds(p.Bounds); err != nil {
		return nil, err
	}

	var strategy Strategy
	switch c.Strategy {
	case StrategyAnalytic:
		strategy = NewAnalytic(p.N, p.M, p.Bounds, p.Delegate)
	default:
		order, _ := cpr.ParseOrder(c.Order)
		spec := numdiff.Spec{N: p.N, M: p.M, Object: p.Object, Bounds: p.Bounds, Step: c.Step}
		strategy = NewNumeric(spec, order, c.Workers)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return NewEngine(p.N, p.M, strategy, logger.With(zap.String("strategy", c.Strategy))), nil
}

// Engine serves Jacobian patterns and values to an optimizer.
//
// Setup must be called once per structural configuration, and again whenever
// the dimensions or the bounds topology change. After Setup, Values and Dense
// may be called concurrently provided each caller owns its Workspace.
type Engine struct {
	n, m     int
	strategy Strategy
	logger   *zap.Logger
	pattern  *sparsity.Pattern
}

// NewEngine wraps a strategy for an m×n Jacobian.
func NewEngine(n, m int, strategy Strategy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{n: n, m: m, strategy: strategy, logger: logger}
}

// Stats summarises the current structural configuration.
type Stats struct {
	Groups      int // Function evaluations per refresh are 2 × Groups
	Constant    int
	NonConstant int
}

// Setup detects the sparsity pattern around x and prepares the strategy.
func (e *Engine) Setup(ctx context.Context, x []float64) error {
	if len(x) != e.n {
		return fmt.Errorf("jacobian: setup: %w: x has %d elements, want %d", ErrDimension, len(x), e.n)
	}

	e.pattern = nil
	start := time.Now()
	pat, err := e.strategy.Setup(ctx, x)
	if err != nil {
		return fmt.Errorf("jacobian: setup: %w", err)
	}
	if pat.Rows != e.m || pat.Cols != e.n {
		return fmt.Errorf("jacobian: setup: %w: pattern is %d×%d, want %d×%d",
			ErrDimension, pat.Rows, pat.Cols, e.m, e.n)
	}
	e.pattern = pat

	e.logger.Info("jacobian sparsity detected",
		zap.Int("rows", e.m),
		zap.Int("cols", e.n),
		zap.Int("constant", len(pat.Constant)),
		zap.Int("nonConstant", len(pat.NonConstant)),
		zap.Duration("elapsed", time.Since(start)))
	if g := e.strategy.Groups(); g > 0 {
		e.logger.Info("number of index sets for sparse finite differences", zap.Int("groups", g))
	}
	return nil
}

// Pattern returns the pattern found by the last Setup, nil before that.
// The constant entries carry their values.
func (e *Engine) Pattern() *sparsity.Pattern {
	return e.pattern
}

// Strategy returns the active strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Stats returns the counts of the current structural configuration.
func (e *Engine) Stats() Stats {
	if e.pattern == nil {
		return Stats{}
	}
	return Stats{
		Groups:      e.strategy.Groups(),
		Constant:    len(e.pattern.Constant),
		NonConstant: len(e.pattern.NonConstant),
	}
}

// Values refreshes the non-constant entries at x into dst,
// which must be parallel to Pattern().NonConstant.
func (e *Engine) Values(ctx context.Context, w *Workspace, x, dst []float64) error {
	switch {
	case e.pattern == nil:
		return ErrNotReady
	case len(x) != e.n:
		return fmt.Errorf("jacobian: values: %w: x has %d elements, want %d", ErrDimension, len(x), e.n)
	case len(dst) != len(e.pattern.NonConstant):
		return fmt.Errorf("jacobian: values: %w: buffer has %d elements, want %d",
			ErrDimension, len(dst), len(e.pattern.NonConstant))
	}

	if err := e.strategy.Values(ctx, w, x, dst); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Debug("jacobian refresh failed", zap.Error(err))
		}
		return fmt.Errorf("jacobian: values: %w", err)
	}
	return nil
}

// Dense assembles the full m×n Jacobian at x into dst, combining the constant
// entries with freshly evaluated non-constant ones. An empty dst is resized.
func (e *Engine) Dense(ctx context.Context, w *Workspace, x []float64, dst *mat.Dense) error {
	if e.pattern == nil {
		return ErrNotReady
	}
	if dst.IsEmpty() {
		dst.ReuseAs(e.m, e.n)
	}
	if r, c := dst.Dims(); r != e.m || c != e.n {
		return fmt.Errorf("jacobian: dense: %w: matrix is %d×%d, want %d×%d", ErrDimension, r, c, e.m, e.n)
	}

	nz := e.pattern.NonConstant
	if cap(w.values) < len(nz) {
		w.values = make([]float64, len(nz))
	}
	values := w.values[:len(nz)]
	if err := e.Values(ctx, w, x, values); err != nil {
		return err
	}

	dst.Zero()
	for _, c := range e.pattern.Constant {
		dst.Set(c.Row, c.Col, c.Value)
	}
	for k, idx := range nz {
		dst.Set(idx.Row, idx.Col, values[k])
	}
	return nil
}
