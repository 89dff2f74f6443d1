// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparsity

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/curioloop/sparsejac/numdiff"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func scenario(x, y []float64) error {
	y[0] = x[0] * x[0]
	y[1] = x[0] * x[1]
	y[2] = x[1]
	return nil
}

func scenarioDetector(workers int) *Detector {
	return &Detector{
		Spec: numdiff.Spec{
			N: 2, M: 3, Object: scenario,
			Bounds: []numdiff.Bound{{Lower: -10, Upper: 10}, {Lower: -10, Upper: 10}},
		},
		Workers: workers,
	}
}

func structure(p *Pattern) map[Index]Class {
	s := make(map[Index]Class)
	for _, e := range p.Constant {
		s[Index{e.Row, e.Col}] = Constant
	}
	for _, e := range p.NonConstant {
		s[e] = NonConstant
	}
	return s
}

func TestDetectScenario(t *testing.T) {
	p, err := scenarioDetector(1).Detect(context.Background(), []float64{2, 3})
	require.NoError(t, err)

	assert.Equal(t, 3, p.Rows)
	assert.Equal(t, 2, p.Cols)
	assert.Equal(t, 4, p.NNZ())

	s := structure(p)
	assert.Len(t, s, 4)
	assert.Equal(t, NonConstant, s[Index{0, 0}])
	assert.Equal(t, NonConstant, s[Index{1, 0}])
	assert.Equal(t, NonConstant, s[Index{1, 1}])
	// ∂y₂/∂x₁ is 1 everywhere; it is only reported constant when all three
	// probes happen to round to the same estimate.
	assert.Contains(t, s, Index{2, 1})
	assert.NotContains(t, s, Index{0, 1})
	assert.NotContains(t, s, Index{2, 0})
}

func TestDetectDeterministic(t *testing.T) {
	x := []float64{2, 3}
	first, err := scenarioDetector(1).Detect(context.Background(), x)
	require.NoError(t, err)
	second, err := scenarioDetector(1).Detect(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	parallel, err := scenarioDetector(4).Detect(context.Background(), x)
	require.NoError(t, err)
	assert.Equal(t, first, parallel)
}

func TestDetectOrdering(t *testing.T) {
	d := &Detector{Spec: numdiff.Spec{N: 4, M: 3, Object: func(x, y []float64) error {
		y[0] = math.Sin(x[3]) + x[0]*x[1]
		y[1] = math.Exp(x[1])
		y[2] = x[3] * x[3] * x[0]
		return nil
	}}, Workers: 3}

	p, err := d.Detect(context.Background(), []float64{0.3, -0.2, 5, 1.1})
	require.NoError(t, err)

	want := []Index{{0, 0}, {2, 0}, {0, 1}, {1, 1}, {0, 3}, {2, 3}}
	assert.Equal(t, want, p.NonConstant)
	assert.Empty(t, p.Constant)
}

func TestDetectPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	d := &Detector{Spec: numdiff.Spec{N: 3, M: 1, Object: func(x, y []float64) error {
		if x[2] > 1 {
			return boom
		}
		y[0] = x[0] + x[1] + x[2]
		return nil
	}}, Workers: 2}

	_, err := d.Detect(context.Background(), []float64{0, 0, 0.95})
	assert.ErrorIs(t, err, boom)

	_, err = d.Detect(context.Background(), []float64{0, 0})
	assert.ErrorIs(t, err, numdiff.ErrDimension)
}

func TestDetectObjectPanics(t *testing.T) {
	// Writes one output more than M.
	d := &Detector{Spec: numdiff.Spec{N: 4, M: 3, Object: func(x, y []float64) error {
		for i := range x {
			y[i] = x[i] * x[i]
		}
		return nil
	}}, Workers: 2}

	_, err := d.Detect(context.Background(), []float64{1, 2, 3, 4})
	assert.ErrorIs(t, err, numdiff.ErrDimension)
}

func TestDetectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scenarioDetector(2).Detect(ctx, []float64{2, 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbes(t *testing.T) {
	x := []float64{10, -2, 0}
	bounds := []numdiff.Bound{{Lower: -10, Upper: 10}, {Lower: -10, Upper: 10}, {Lower: 0, Upper: 0}}
	pts := Probes(x, bounds)

	assert.Equal(t, x, pts[0])
	assert.Equal(t, 10.0, pts[1][0], "clipped to the upper bound")
	assert.InDelta(t, -2+0.2+jitter, pts[1][1], 1e-15)
	assert.InDelta(t, -2-0.3-1.1*jitter, pts[2][1], 1e-15)
	assert.Equal(t, 0.0, pts[1][2])
	assert.Equal(t, 0.0, pts[2][2])

	x[0] = 5
	assert.Equal(t, 10.0, pts[0][0], "probes do not alias x")
}

func TestClassify(t *testing.T) {
	tol := Tolerance([]float64{3, 4})
	assert.InDelta(t, 5e-16*math.Pow(eps, 0.8), tol, 1e-40)
	assert.Equal(t, Tolerance([]float64{0.1}), Tolerance([]float64{0.5}))

	assert.Equal(t, Zero, Classify(0, 0, 0, tol))
	assert.Equal(t, Zero, Classify(tol/4, -tol/4, 0, tol))
	assert.Equal(t, Constant, Classify(2.5, 2.5, 2.5, tol))
	assert.Equal(t, NonConstant, Classify(2.5, 2.5, 2.5000001, tol))
	assert.Equal(t, NonConstant, Classify(0, 0, 1, tol))

	p := Pattern{Rows: 3, Cols: 1}
	p.AppendColumn(0, []float64{1, 0, 2}, []float64{1, 0, 3}, []float64{1, 0, 4}, tol)
	assert.Equal(t, []Entry{{Row: 0, Col: 0, Value: 1}}, p.Constant)
	assert.Equal(t, []Index{{Row: 2, Col: 0}}, p.NonConstant)
	assert.Equal(t, []Index{{Row: 0, Col: 0}}, p.ConstantIndex())
	assert.Equal(t, "constant", Constant.String())
}
