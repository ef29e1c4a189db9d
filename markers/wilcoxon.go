// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package markers

import (
	"math"
	"sort"

	"github.com/grailbio/scdoublet/expr"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Wilcoxon is the Wilcoxon rank-sum (Mann-Whitney U) test using the normal
// approximation with tie and continuity corrections. Stat is the U statistic
// of group a.
type Wilcoxon struct{}

// Test implements Tester.
func (Wilcoxon) Test(m *expr.Matrix, a, b []int) ([]Result, error) {
	if err := checkGroups(m, a, b); err != nil {
		return nil, err
	}
	var (
		res    = make([]Result, m.NGenes())
		na, nb = len(a), len(b)
		vals   = make([]float64, na+nb)
		ranks  = make([]float64, na+nb)
		order  = make([]int, na+nb)
	)
	for g := range res {
		row := m.Row(g)
		for i, c := range a {
			vals[i] = row[c]
		}
		for i, c := range b {
			vals[na+i] = row[c]
		}
		tieSum := midRanks(vals, ranks, order)
		var rankSumA float64
		for i := 0; i < na; i++ {
			rankSumA += ranks[i]
		}
		u := rankSumA - float64(na*(na+1))/2
		diff := stat.Mean(vals[:na], nil) - stat.Mean(vals[na:], nil)
		res[g] = rankSumResult(u, diff, float64(na), float64(nb), tieSum)
	}
	return res, nil
}

// midRanks fills ranks with 1-based ranks of vals, averaging ties, and
// returns sum(t^3 - t) over tie groups of size t.
func midRanks(vals, ranks []float64, order []int) float64 {
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return vals[order[i]] < vals[order[j]] })
	var tieSum float64
	for i := 0; i < len(order); {
		j := i + 1
		for j < len(order) && vals[order[j]] == vals[order[i]] {
			j++
		}
		r := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = r
		}
		if t := float64(j - i); t > 1 {
			tieSum += t*t*t - t
		}
		i = j
	}
	return tieSum
}

func rankSumResult(u, diff, na, nb, tieSum float64) Result {
	n := na + nb
	mu := na * nb / 2
	sigma := math.Sqrt(na * nb / 12 * ((n + 1) - tieSum/(n*(n-1))))
	if sigma == 0 || math.IsNaN(sigma) {
		return Result{LogFC: diff, Stat: u, PValue: 1}
	}
	z := u - mu
	switch {
	case z > 0:
		z = math.Max(z-0.5, 0)
	case z < 0:
		z = math.Min(z+0.5, 0)
	}
	z /= sigma
	p := 2 * distuv.UnitNormal.CDF(-math.Abs(z))
	return Result{LogFC: diff, Stat: u, PValue: math.Min(p, 1)}
}
