// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"fmt"
	"math"
)

var inf = math.Inf(1)

// Workspace holds the scratch buffers of one in-flight derivative pass.
// The zero value is ready to use, buffers grow with the problem dimension.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
type Workspace struct {
	xp  []float64 // perturbed copy of x
	col []float64 // column scratch for Row and Jacobian
	f0  []float64 // f(x), valid once base is set
	fp  []float64
	fm  []float64

	base  bool
	evals int
}

// Evaluations returns the number of function evaluations made through w.
func (w *Workspace) Evaluations() int {
	return w.evals
}

func (w *Workspace) reset(x []float64, m int) {
	w.xp = resize(w.xp, len(x))
	copy(w.xp, x)
	w.col = resize(w.col, m)
	w.f0 = resize(w.f0, m)
	w.fp = resize(w.fp, m)
	w.fm = resize(w.fm, m)
	w.base = false
}

func (w *Workspace) eval(f Func, y []float64) error {
	w.evals++
	return f(w.xp, y)
}

func (w *Workspace) evalBase(f Func) error {
	if w.base {
		return nil
	}
	if err := w.eval(f, w.f0); err != nil {
		return fmt.Errorf("numdiff: evaluate base point: %w", err)
	}
	w.base = true
	return nil
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}
