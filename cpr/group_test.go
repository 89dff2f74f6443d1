// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpr

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioloop/sparsejac/sparsity"
)

// randomMask returns an m×n structural pattern with the given density.
func randomMask(rnd *rand.Rand, m, n int, density float64) [][]bool {
	mask := make([][]bool, m)
	for i := range mask {
		mask[i] = make([]bool, n)
		for j := range mask[i] {
			mask[i][j] = density >= 1 || rnd.Float64() < density
		}
	}
	return mask
}

// entries lists the mask positions column-major, like sparsity.Detector does.
func entries(mask [][]bool) []sparsity.Index {
	var nz []sparsity.Index
	if len(mask) == 0 {
		return nz
	}
	for j := range mask[0] {
		for i := range mask {
			if mask[i][j] {
				nz = append(nz, sparsity.Index{Row: i, Col: j})
			}
		}
	}
	return nz
}

func tridiagonal(n int) []sparsity.Index {
	var nz []sparsity.Index
	for j := 0; j < n; j++ {
		for i := j - 1; i <= j+1; i++ {
			if i >= 0 && i < n {
				nz = append(nz, sparsity.Index{Row: i, Col: j})
			}
		}
	}
	return nz
}

func TestPartitionEmpty(t *testing.T) {
	gs, err := Partition(5, nil, nil, Natural)
	require.NoError(t, err)
	assert.Empty(t, gs)
	assert.Zero(t, gs.Columns())
	assert.NoError(t, Validate(5, gs, nil, nil))
}

func TestPartitionDense(t *testing.T) {
	nz := entries(randomMask(nil, 3, 4, 1))
	gs, err := Partition(4, nz, nil, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{0}, {1}, {2}, {3}}, gs)
	assert.NoError(t, Validate(4, gs, nz, nil))
}

func TestPartitionTridiagonal(t *testing.T) {
	nz := tridiagonal(7)
	gs, err := Partition(7, nz, nil, Natural)
	require.NoError(t, err)
	if diff := cmp.Diff(GroupSet{{0, 3, 6}, {1, 4}, {2, 5}}, gs); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
	assert.NoError(t, Validate(7, gs, nz, nil))
}

func TestPartitionSharedRow(t *testing.T) {
	// y = (x₀², x₀x₁, x₁): both columns touch row 1.
	nz := []sparsity.Index{{Row: 0, Col: 0}, {Row: 1, Col: 0}, {Row: 1, Col: 1}, {Row: 2, Col: 1}}
	gs, err := Partition(2, nz, nil, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{0}, {1}}, gs)

	// Without the shared row one group suffices.
	nz = []sparsity.Index{{Row: 0, Col: 0}, {Row: 2, Col: 1}}
	gs, err = Partition(2, nz, nil, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{0, 1}}, gs)
}

func TestPartitionSkipsEmptyColumns(t *testing.T) {
	nz := []sparsity.Index{{Row: 0, Col: 1}, {Row: 2, Col: 1}, {Row: 1, Col: 3}}
	gs, err := Partition(5, nz, []sparsity.Index{{Row: 0, Col: 4}}, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{1, 3}}, gs)
}

func TestPartitionConstantConflicts(t *testing.T) {
	nz := []sparsity.Index{{Row: 0, Col: 0}, {Row: 1, Col: 1}}

	gs, err := Partition(2, nz, nil, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{0, 1}}, gs)

	constant := []sparsity.Index{{Row: 0, Col: 1}}
	gs, err = Partition(2, nz, constant, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{0}, {1}}, gs)
	assert.NoError(t, Validate(2, gs, nz, constant))
	assert.ErrorIs(t, Validate(2, GroupSet{{0, 1}}, nz, constant), ErrPattern)
}

func TestPartitionLargestFirst(t *testing.T) {
	nz := []sparsity.Index{
		{Row: 0, Col: 0},
		{Row: 0, Col: 1}, {Row: 1, Col: 1}, {Row: 2, Col: 1},
		{Row: 1, Col: 2},
		{Row: 2, Col: 3},
	}
	natural, err := Partition(4, nz, nil, Natural)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{0, 2, 3}, {1}}, natural)

	largest, err := Partition(4, nz, nil, LargestFirst)
	require.NoError(t, err)
	assert.Equal(t, GroupSet{{1}, {0, 2, 3}}, largest)
}

func TestPartitionProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for trial := 0; trial < 60; trial++ {
		m, n := 1+rnd.Intn(15), 1+rnd.Intn(15)
		density := []float64{0, 0.1, 0.25, 0.5, 1}[trial%5]
		nz := entries(randomMask(rnd, m, n, density))
		constant := entries(randomMask(rnd, m, n, density/4))

		for _, order := range []Order{Natural, LargestFirst} {
			gs, err := Partition(n, nz, constant, order)
			require.NoError(t, err)
			require.NoError(t, Validate(n, gs, nz, constant), "trial %d order %v", trial, order)

			again, err := Partition(n, nz, constant, order)
			require.NoError(t, err)
			if diff := cmp.Diff(gs, again); diff != "" {
				t.Fatalf("partition not deterministic (-first +second):\n%s", diff)
			}
		}
	}
}

func TestValidateRejects(t *testing.T) {
	nz := tridiagonal(4)
	cases := map[string]GroupSet{
		"shared row":   {{0, 1}, {2}, {3}},
		"duplicate":    {{0, 3}, {1}, {2}, {3}},
		"uncovered":    {{0, 3}, {1}},
		"out of range": {{0, 3}, {1}, {2}, {9}},
	}
	for name, gs := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(4, gs, nz, nil), ErrPattern)
		})
	}

	empty := []sparsity.Index{{Row: 0, Col: 0}}
	assert.ErrorIs(t, Validate(2, GroupSet{{0, 1}}, empty, nil), ErrPattern, "column without entries")

	_, err := Partition(2, []sparsity.Index{{Row: 0, Col: 2}}, nil, Natural)
	assert.ErrorIs(t, err, ErrPattern)
	_, err = Partition(2, nil, nil, Order(7))
	assert.Error(t, err)
}

func TestParseOrder(t *testing.T) {
	for s, want := range map[string]Order{"": Natural, "natural": Natural, "largest-first": LargestFirst} {
		got, err := ParseOrder(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOrder("random")
	assert.Error(t, err)
	assert.Equal(t, "largest-first", LargestFirst.String())
}
