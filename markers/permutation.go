// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package markers

import (
	"math"
	"math/rand"

	"github.com/grailbio/scdoublet/expr"
)

// DefaultPermutationRounds is used when Permutation.Rounds is zero.
const DefaultPermutationRounds = 999

// Permutation is a label-permutation test on the difference of group means.
// The same set of label shuffles is applied to every gene. Each call to Test
// draws its shuffles from a fresh generator seeded with Seed, so results do
// not depend on call order or concurrency.
type Permutation struct {
	Rounds int
	Seed   int64
}

// Test implements Tester.
func (p Permutation) Test(m *expr.Matrix, a, b []int) ([]Result, error) {
	if err := checkGroups(m, a, b); err != nil {
		return nil, err
	}
	rounds := p.Rounds
	if rounds <= 0 {
		rounds = DefaultPermutationRounds
	}
	var (
		na, nb = len(a), len(b)
		cells  = append(append(make([]int, 0, na+nb), a...), b...)
		r      = rand.New(rand.NewSource(p.Seed))
		perms  = make([][]int, rounds)
	)
	for i := range perms {
		perm := append([]int(nil), cells...)
		r.Shuffle(len(perm), func(x, y int) { perm[x], perm[y] = perm[y], perm[x] })
		perms[i] = perm
	}
	res := make([]Result, m.NGenes())
	for g := range res {
		row := m.Row(g)
		obs := meanDiff(row, cells, na)
		hits := 0
		for _, perm := range perms {
			// A relative tolerance keeps exact ties (e.g. the identity
			// permutation) from being lost to rounding.
			if math.Abs(meanDiff(row, perm, na)) >= math.Abs(obs)*(1-1e-12) {
				hits++
			}
		}
		res[g] = Result{
			LogFC:  obs,
			Stat:   obs,
			PValue: float64(hits+1) / float64(rounds+1),
		}
	}
	return res, nil
}

// meanDiff returns mean(row[cells[:na]]) - mean(row[cells[na:]]).
func meanDiff(row []float64, cells []int, na int) float64 {
	var sa, sb float64
	for _, c := range cells[:na] {
		sa += row[c]
	}
	for _, c := range cells[na:] {
		sb += row[c]
	}
	return sa/float64(na) - sb/float64(len(cells)-na)
}
