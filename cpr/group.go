// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpr

import (
	"errors"
	"fmt"
	"slices"

	"github.com/curioloop/sparsejac/sparsity"
)

// ErrPattern is returned when a sparsity pattern or group set is malformed.
var ErrPattern = errors.New("cpr: invalid pattern")

// Order is the column scan order of the greedy partition.
type Order int

const (
	// Natural scans columns by ascending index (Curtis, Powell and Reid).
	Natural Order = iota
	// LargestFirst scans columns by descending row count, ties by ascending index.
	LargestFirst
)

func (o Order) String() string {
	switch o {
	case Natural:
		return "natural"
	case LargestFirst:
		return "largest-first"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder parses the textual form of an Order.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "natural":
		return Natural, nil
	case "largest-first":
		return LargestFirst, nil
	}
	return 0, fmt.Errorf("cpr: unknown order %q", s)
}

// Group is a set of columns whose nonzero rows are pairwise disjoint,
// so they can be perturbed by a single function evaluation.
type Group []int

// GroupSet partitions the non-constant columns of a Jacobian.
type GroupSet []Group

// Columns returns the number of columns over all groups.
func (gs GroupSet) Columns() int {
	n := 0
	for _, g := range gs {
		n += len(g)
	}
	return n
}

// incidence returns the rows touched by each column.
func incidence(n int, entries ...[]sparsity.Index) ([][]int, error) {
	rows := make([][]int, n)
	for _, list := range entries {
		for _, e := range list {
			if e.Col < 0 || e.Col >= n || e.Row < 0 {
				return nil, fmt.Errorf("%w: entry (%d,%d) outside %d columns", ErrPattern, e.Row, e.Col, n)
			}
			rows[e.Col] = append(rows[e.Col], e.Row)
		}
	}
	return rows, nil
}

func maxRow(rows [][]int) int {
	m := 0
	for _, r := range rows {
		for _, i := range r {
			m = max(m, i+1)
		}
	}
	return m
}

// Partition groups the columns that carry at least one entry of nz using the
// greedy method of Curtis, Powell and Reid:
//
//	A. R. Curtis, M. J. D. Powell and J. K. Reid,
//	"On the estimation of sparse Jacobian matrices",
//	J. Inst. Maths Applics (1974) 13, 117-119.
//
// Each group is built from the columns not yet assigned, scanned in order,
// admitting a column when none of its rows is already claimed by the group.
// Entries in constant take part in the row test without making their column a
// member, since a constant entry still moves its row when the column is perturbed.
//
// The partition is only as good as the greedy bound; the same input always
// yields the same groups.
func Partition(n int, nz, constant []sparsity.Index, order Order) (GroupSet, error) {
	members, err := incidence(n, nz)
	if err != nil {
		return nil, err
	}
	rows, err := incidence(n, nz, constant)
	if err != nil {
		return nil, err
	}

	var remaining []int
	for j, r := range members {
		if len(r) > 0 {
			remaining = append(remaining, j)
		}
	}
	switch order {
	case Natural:
	case LargestFirst:
		slices.SortStableFunc(remaining, func(a, b int) int {
			return len(rows[b]) - len(rows[a])
		})
	default:
		return nil, fmt.Errorf("cpr: unknown order %d", order)
	}

	// claim[i] holds 1 + the index of the group that owns row i.
	claim := make([]int, maxRow(rows))
	var groups GroupSet
	for len(remaining) > 0 {
		stamp := len(groups) + 1
		var g Group
		rest := remaining[:0]
		for _, j := range remaining {
			if disjoint(rows[j], claim, stamp) {
				for _, i := range rows[j] {
					claim[i] = stamp
				}
				g = append(g, j)
			} else {
				rest = append(rest, j)
			}
		}
		slices.Sort(g)
		groups = append(groups, g)
		remaining = rest
	}
	return groups, nil
}

func disjoint(rows, claim []int, stamp int) bool {
	for _, i := range rows {
		if claim[i] == stamp {
			return false
		}
	}
	return true
}

// Validate checks that gs covers exactly the columns of nz, each once, and
// that no two columns of a group share a row of nz or constant.
func Validate(n int, gs GroupSet, nz, constant []sparsity.Index) error {
	members, err := incidence(n, nz)
	if err != nil {
		return err
	}
	rows, err := incidence(n, nz, constant)
	if err != nil {
		return err
	}

	seen := make([]bool, n)
	claim := make([]int, maxRow(rows))
	for k, g := range gs {
		stamp := k + 1
		for _, j := range g {
			switch {
			case j < 0 || j >= n:
				return fmt.Errorf("%w: group %d holds column %d outside %d columns", ErrPattern, k, j, n)
			case seen[j]:
				return fmt.Errorf("%w: column %d appears in more than one group", ErrPattern, j)
			case len(members[j]) == 0:
				return fmt.Errorf("%w: column %d has no non-constant entry", ErrPattern, j)
			case !disjoint(rows[j], claim, stamp):
				return fmt.Errorf("%w: column %d shares a row within group %d", ErrPattern, j, k)
			}
			seen[j] = true
			for _, i := range rows[j] {
				claim[i] = stamp
			}
		}
	}
	for j, r := range members {
		if len(r) > 0 && !seen[j] {
			return fmt.Errorf("%w: column %d is not covered by any group", ErrPattern, j)
		}
	}
	return nil
}
