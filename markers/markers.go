// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package markers implements per-gene differential expression tests between
// two groups of cells of an expression matrix.
//
// A Tester compares group a against group b and reports, for every gene, the
// log-fold change (mean of a minus mean of b on the log scale), a test
// statistic, and a two-sided p-value. The sign of the log-fold change gives
// the direction. Multiple-testing correction is left to the caller; see
// AdjustBH.
package markers

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/scdoublet/expr"
)

// Result is the outcome of testing one gene.
type Result struct {
	// LogFC is mean(a) - mean(b) of the log-expression values.
	LogFC float64
	// Stat is the test statistic. Its scale depends on the Tester.
	Stat float64
	// PValue is the two-sided p-value.
	PValue float64
}

// Up reports whether the gene is higher in group a.
func (r Result) Up() bool { return r.LogFC > 0 }

// Tester runs a differential expression test for every gene of m, comparing
// the cells in a against the cells in b. a and b are column indices; they
// must be non-empty and disjoint. Implementations must be safe for concurrent
// use and deterministic.
type Tester interface {
	Test(m *expr.Matrix, a, b []int) ([]Result, error)
}

// OneSided converts r's two-sided p-value into a one-sided p-value for the
// alternative "a is higher than b" (up=true) or "a is lower than b"
// (up=false). It assumes the null distribution of the statistic is symmetric.
func OneSided(r Result, up bool) float64 {
	if math.IsNaN(r.PValue) {
		return r.PValue
	}
	if (r.LogFC > 0) == up && r.LogFC != 0 {
		return r.PValue / 2
	}
	return 1 - r.PValue/2
}

// AdjustBH applies the Benjamini-Hochberg step-up procedure and returns the
// adjusted p-values in input order. NaN entries are left as NaN and do not
// count towards the number of tests.
func AdjustBH(p []float64) []float64 {
	adj := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = v
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(i, j int) bool { return p[idx[i]] < p[idx[j]] })
	n := float64(len(idx))
	min := 1.0
	for k := len(idx) - 1; k >= 0; k-- {
		v := p[idx[k]] * n / float64(k+1)
		if v < min {
			min = v
		}
		adj[idx[k]] = min
	}
	return adj
}

// checkGroups validates the column indices passed to a Tester.
func checkGroups(m *expr.Matrix, a, b []int) error {
	if len(a) == 0 || len(b) == 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("markers: empty group (%d vs %d cells)", len(a), len(b)))
	}
	seen := make(map[int]struct{}, len(a))
	for _, c := range a {
		if c < 0 || c >= m.NCells() {
			return errors.E(errors.Invalid, fmt.Sprintf("markers: cell index %d out of range", c))
		}
		seen[c] = struct{}{}
	}
	for _, c := range b {
		if c < 0 || c >= m.NCells() {
			return errors.E(errors.Invalid, fmt.Sprintf("markers: cell index %d out of range", c))
		}
		if _, ok := seen[c]; ok {
			return errors.E(errors.Invalid, fmt.Sprintf("markers: cell %s is in both groups", m.Cells()[c]))
		}
	}
	return nil
}

// gather copies row[idx[i]] into dst and returns dst.
func gather(dst, row []float64, idx []int) []float64 {
	dst = dst[:0]
	for _, c := range idx {
		dst = append(dst, row[c])
	}
	return dst
}
