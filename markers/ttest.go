// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package markers

import (
	"math"

	"github.com/grailbio/scdoublet/expr"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// WelchT is the Welch two-sample t-test on log-expression values, with the
// Welch-Satterthwaite approximation for the degrees of freedom.
//
// Groups of a single cell have no variance estimate; such a group contributes
// zero variance, which matches treating its value as exact.
type WelchT struct{}

// Test implements Tester.
func (WelchT) Test(m *expr.Matrix, a, b []int) ([]Result, error) {
	if err := checkGroups(m, a, b); err != nil {
		return nil, err
	}
	var (
		res    = make([]Result, m.NGenes())
		bufA   = make([]float64, 0, len(a))
		bufB   = make([]float64, 0, len(b))
		na, nb = float64(len(a)), float64(len(b))
	)
	for g := range res {
		row := m.Row(g)
		bufA = gather(bufA, row, a)
		bufB = gather(bufB, row, b)
		meanA, varA := meanVariance(bufA)
		meanB, varB := meanVariance(bufB)
		res[g] = welch(meanA-meanB, varA/na, varB/nb, na, nb)
	}
	return res, nil
}

func meanVariance(x []float64) (mean, variance float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanVariance(x, nil)
}

// welch computes the t statistic and two-sided p-value given the difference
// of means and the squared standard errors of both groups.
func welch(diff, seA, seB, na, nb float64) Result {
	se2 := seA + seB
	if se2 == 0 {
		// Both groups are constant.
		if diff == 0 {
			return Result{LogFC: diff, Stat: 0, PValue: 1}
		}
		return Result{LogFC: diff, Stat: math.Copysign(math.Inf(1), diff), PValue: 0}
	}
	t := diff / math.Sqrt(se2)
	var den float64
	if na > 1 {
		den += seA * seA / (na - 1)
	}
	if nb > 1 {
		den += seB * seB / (nb - 1)
	}
	df := se2 * se2 / den
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.CDF(-math.Abs(t))
	return Result{LogFC: diff, Stat: t, PValue: math.Min(p, 1)}
}
