// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparsity

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/curioloop/sparsejac/numdiff"
)

// jitter is the additive part of the probe offsets.
var jitter = 1e6 * math.Sqrt(eps)

// Probes returns the three base points used for detection, each clipped to bounds:
//
//	x
//	x + 0.1|x| + s
//	x - 0.15|x| - 1.1s
//
// with s = 1e6 × √eps.
func Probes(x []float64, bounds []numdiff.Bound) [3][]float64 {
	var pts [3][]float64
	for k := range pts {
		pts[k] = make([]float64, len(x))
	}
	copy(pts[0], x)
	for i, v := range x {
		pts[1][i] = v + 0.1*math.Abs(v) + jitter
		pts[2][i] = v - 0.15*math.Abs(v) - 1.1*jitter
	}
	for _, p := range pts {
		numdiff.Clip(p, bounds)
	}
	return pts
}

// Detector classifies every Jacobian entry of a vector function as
// structurally zero, constant or non-constant.
//
// Three finite difference estimates are taken per column at independent probe
// points, so a partial derivative that only looks flat at one point is not
// mistaken for a constant.
type Detector struct {
	numdiff.Spec
	// Workers is the number of goroutines probing columns concurrently.
	// Values below 2 probe serially. Object must be safe for concurrent
	// use when Workers > 1.
	Workers int
}

// Detect probes the function around x and returns its pattern.
// The result does not depend on Workers.
func (d *Detector) Detect(ctx context.Context, x []float64) (*Pattern, error) {
	if err := d.Check(x); err != nil {
		return nil, err
	}

	n, m := d.N, d.M
	probes := Probes(x, d.Bounds)
	tol := Tolerance(x)

	parts := make([]Pattern, n)
	workers := min(max(d.Workers, 1), n)

	g, ctx := errgroup.WithContext(ctx)
	for k := 0; k < workers; k++ {
		k := k
		g.Go(func() error {
			return numdiff.Guard(func() error {
				return d.probeStride(ctx, k, workers, probes, tol, parts)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pat := &Pattern{Rows: m, Cols: n}
	for _, part := range parts {
		pat.Constant = append(pat.Constant, part.Constant...)
		pat.NonConstant = append(pat.NonConstant, part.NonConstant...)
	}
	return pat, nil
}

// probeStride classifies columns first, first+stride, ... into parts.
func (d *Detector) probeStride(ctx context.Context, first, stride int, probes [3][]float64, tol float64, parts []Pattern) error {
	m := d.M
	w := new(numdiff.Workspace)
	var cols [3][]float64
	for p := range cols {
		cols[p] = make([]float64, m)
	}
	for j := first; j < d.N; j += stride {
		if err := ctx.Err(); err != nil {
			return err
		}
		for p, pt := range probes {
			if err := d.Column(w, pt, j, cols[p]); err != nil {
				return fmt.Errorf("sparsity: probe %d of column %d: %w", p, j, err)
			}
		}
		parts[j].Rows = m
		parts[j].AppendColumn(j, cols[0], cols[1], cols[2], tol)
	}
	return nil
}
