// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package doublet

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/scdoublet/expr"
	"github.com/grailbio/scdoublet/markers"
	"github.com/grailbio/scdoublet/util"
)

// scorer holds the per-call state of Score. Clusters are addressed by their
// index in labels, which is sorted.
type scorer struct {
	m          *expr.Matrix
	opts       Opts
	labels     []string
	groups     [][]int // cell indices, per cluster
	degenerate []bool
	medians    []float64 // median library size, per cluster
	warnings   []*DegenerateClusterWarning

	// up[q*C+o][g] is the adjusted p-value for gene g being higher in q than
	// in o; down[q*C+o][g] for it being lower. Nil if q or o is degenerate.
	up, down [][]float64
}

// triplet identifies a query and a parent pair, a < b.
type triplet struct{ q, a, b int }

// Score ranks the clusters of a by how doublet-like they are. See the package
// comment for the model.
//
// Score fails with *AssignmentMismatchError if a does not cover the columns
// of m exactly, and with *InsufficientClustersError if fewer than three
// clusters exist. Clusters smaller than opts.MinClusterSize do not cause an
// error; they are reported in Result.Warnings and get N = 0.
//
// The result depends only on m, a and opts: tests run in parallel but each
// writes its own slot, and all ties are broken deterministically.
func Score(m *expr.Matrix, a Assignment, opts Opts) (*Result, error) {
	if opts.Tester == nil {
		opts.Tester = markers.WelchT{}
	}
	if math.IsNaN(opts.FDR) || opts.FDR < 0 || opts.FDR > 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("doublet: FDR %v outside [0, 1]", opts.FDR))
	}
	// An empty cluster can never be tested.
	if opts.MinClusterSize < 1 {
		opts.MinClusterSize = 1
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	labels, groups, err := groupCells(m, a)
	if err != nil {
		return nil, err
	}
	if len(labels) < 3 {
		return nil, &InsufficientClustersError{Clusters: labels}
	}
	s := &scorer{
		m:          m,
		opts:       opts,
		labels:     labels,
		groups:     groups,
		degenerate: make([]bool, len(labels)),
		medians:    make([]float64, len(labels)),
	}
	for i, g := range groups {
		s.medians[i] = m.Median(g)
		if len(g) < opts.MinClusterSize {
			w := &DegenerateClusterWarning{Cluster: labels[i], Cells: len(g), Min: opts.MinClusterSize}
			log.Printf("doublet: %v", w)
			s.degenerate[i] = true
			s.warnings = append(s.warnings, w)
		}
	}
	if err := s.testPairs(); err != nil {
		return nil, err
	}
	return &Result{Rows: s.rank(), Warnings: s.warnings}, nil
}

// groupCells validates a against the columns of m and returns the sorted
// cluster labels with the column indices of each cluster's cells.
func groupCells(m *expr.Matrix, a Assignment) ([]string, [][]int, error) {
	var (
		cells    = m.Cells()
		inMatrix = make(map[string]struct{}, len(cells))
		mismatch AssignmentMismatchError
	)
	for _, c := range cells {
		inMatrix[c] = struct{}{}
		if _, ok := a.Clusters[c]; !ok {
			mismatch.Unassigned = append(mismatch.Unassigned, c)
		}
	}
	assigned := make([]string, 0, len(a.Clusters))
	for c, label := range a.Clusters {
		if _, ok := inMatrix[c]; !ok {
			mismatch.Unknown = append(mismatch.Unknown, c)
		}
		assigned = append(assigned, label)
	}
	sort.Strings(mismatch.Unknown)

	labels := sortedLabels(assigned)
	if a.Levels != nil {
		levels := sortedLabels(a.Levels)
		known := make(map[string]struct{}, len(levels))
		for _, l := range levels {
			known[l] = struct{}{}
		}
		for _, l := range labels {
			if _, ok := known[l]; !ok {
				mismatch.UnknownLabels = append(mismatch.UnknownLabels, l)
			}
		}
		labels = levels
	}
	if len(mismatch.Unassigned) > 0 || len(mismatch.Unknown) > 0 || len(mismatch.UnknownLabels) > 0 {
		mismatch.Hint = barcodeHint(mismatch.Unassigned, mismatch.Unknown)
		return nil, nil, &mismatch
	}

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	groups := make([][]int, len(labels))
	for i, c := range cells {
		k := index[a.Clusters[c]]
		groups[k] = append(groups[k], i)
	}
	return labels, groups, nil
}

// barcodeHint explains a mismatch when the first unassigned matrix cell looks
// like one of the unknown assigned cells.
func barcodeHint(unassigned, unknown []string) string {
	if len(unassigned) == 0 || len(unknown) == 0 {
		return ""
	}
	q := unassigned[0]
	best, dist := util.NearestBarcode(q, unknown)
	switch {
	case dist == 0:
		return fmt.Sprintf("matrix cell %s matches assigned cell %s except for the GEM group suffix", q, best)
	case dist > 0 && dist <= len(q)/8+1:
		return fmt.Sprintf("matrix cell %s is close to assigned cell %s (edit distance %d)", q, best, dist)
	}
	return ""
}

// testPairs runs the differential expression test once per unordered pair of
// non-degenerate clusters and fills s.up and s.down for both orders.
func (s *scorer) testPairs() error {
	nc := len(s.labels)
	var jobs [][2]int
	for q := 0; q < nc; q++ {
		for o := q + 1; o < nc; o++ {
			if !s.degenerate[q] && !s.degenerate[o] {
				jobs = append(jobs, [2]int{q, o})
			}
		}
	}
	s.up = make([][]float64, nc*nc)
	s.down = make([][]float64, nc*nc)
	log.Printf("doublet: %d genes, %d cells, %d clusters: running %d pairwise tests",
		s.m.NGenes(), s.m.NCells(), nc, len(jobs))
	return traverse.Limit(s.opts.Parallelism).Each(len(jobs), func(i int) error {
		q, o := jobs[i][0], jobs[i][1]
		res, err := s.opts.Tester.Test(s.m, s.groups[q], s.groups[o])
		if err != nil {
			return errors.E(err, fmt.Sprintf("doublet: test %s vs %s", s.labels[q], s.labels[o]))
		}
		if len(res) != s.m.NGenes() {
			return errors.E(errors.Invalid, fmt.Sprintf("doublet: test %s vs %s returned %d results for %d genes",
				s.labels[q], s.labels[o], len(res), s.m.NGenes()))
		}
		up := make([]float64, len(res))
		down := make([]float64, len(res))
		for g, r := range res {
			up[g] = markers.OneSided(r, true)
			down[g] = markers.OneSided(r, false)
		}
		up, down = markers.AdjustBH(up), markers.AdjustBH(down)
		// Higher in q than in o is lower in o than in q.
		s.up[q*nc+o], s.down[q*nc+o] = up, down
		s.up[o*nc+q], s.down[o*nc+q] = down, up
		if log.At(log.Debug) {
			nUp, nDown := 0, 0
			for g := range up {
				if up[g] <= s.opts.FDR {
					nUp++
				}
				if down[g] <= s.opts.FDR {
					nDown++
				}
			}
			log.Debug.Printf("doublet: %s vs %s: %d up, %d down", s.labels[q], s.labels[o], nUp, nDown)
		}
		return nil
	})
}

// rank evaluates every triplet, selects the best pair per query, and orders
// the rows.
func (s *scorer) rank() []Row {
	var (
		nc          = len(s.labels)
		perQuery    = (nc - 1) * (nc - 2) / 2
		triplets    = make([]triplet, 0, nc*perQuery)
		nCells      = float64(s.m.NCells())
		hasWarnings = len(s.warnings) > 0
	)
	for q := 0; q < nc; q++ {
		for a := 0; a < nc; a++ {
			if a == q {
				continue
			}
			for b := a + 1; b < nc; b++ {
				if b != q {
					triplets = append(triplets, triplet{q, a, b})
				}
			}
		}
	}
	pairs := make([]Pair, len(triplets))
	// evalTriplet cannot fail.
	_ = traverse.Limit(s.opts.Parallelism).Each(len(triplets), func(i int) error {
		pairs[i] = s.evalTriplet(triplets[i])
		return nil
	})

	rows := make([]Row, nc)
	for q := range rows {
		all := pairs[q*perQuery : (q+1)*perQuery : (q+1)*perQuery]
		sort.SliceStable(all, func(i, j int) bool { return pairLess(all[i], all[j]) })
		rows[q] = Row{
			Query:    s.labels[q],
			Pair:     all[0],
			Prop:     float64(len(s.groups[q])) / nCells,
			AllPairs: all,
		}
		// With three or more clusters, every degenerate cluster is the query
		// or a parent in some triplet of every row.
		if hasWarnings {
			rows[q].Warnings = append([]*DegenerateClusterWarning(nil), s.warnings...)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := &rows[i], &rows[j]
		if ri.N != rj.N {
			return ri.N < rj.N
		}
		if ri.Prop != rj.Prop {
			return ri.Prop < rj.Prop
		}
		return ri.Query < rj.Query
	})
	return rows
}

func (s *scorer) evalTriplet(t triplet) Pair {
	p := Pair{
		Parent1:  s.labels[t.a],
		Parent2:  s.labels[t.b],
		PValue:   math.NaN(),
		LibSize1: s.medians[t.a] / s.medians[t.q],
		LibSize2: s.medians[t.b] / s.medians[t.q],
	}
	if s.degenerate[t.q] || s.degenerate[t.a] || s.degenerate[t.b] {
		p.Degenerate = true
		return p
	}
	nc := len(s.labels)
	qa, qb := t.q*nc+t.a, t.q*nc+t.b
	n, best, bestP := consistent(s.up[qa], s.up[qb], s.opts.FDR)
	if s.opts.Direction == Any {
		nDown, bestDown, bestDownP := consistent(s.down[qa], s.down[qb], s.opts.FDR)
		n += nDown
		if bestDown >= 0 && (best < 0 || bestDownP < bestP || (bestDownP == bestP && bestDown < best)) {
			best, bestP = bestDown, bestDownP
		}
	}
	p.N = n
	if best >= 0 {
		p.Best, p.PValue = s.m.Genes()[best], bestP
	}
	return p
}

// consistent counts the genes whose adjusted p-values are at most fdr in both
// comparisons, and finds the gene with the smallest larger-of-the-two
// p-value. best is -1 if no gene has a defined p-value.
func consistent(pa, pb []float64, fdr float64) (n, best int, bestP float64) {
	best, bestP = -1, math.NaN()
	for g := range pa {
		p := math.Max(pa[g], pb[g])
		if math.IsNaN(p) {
			continue
		}
		if p <= fdr {
			n++
		}
		if best < 0 || p < bestP {
			best, bestP = g, p
		}
	}
	return n, best, bestP
}

// pairLess orders candidate pairs for one query: testable pairs first, then
// fewest consistent genes, then the largest combined library-size ratio, then
// parent labels.
func pairLess(x, y Pair) bool {
	if x.Degenerate != y.Degenerate {
		return !x.Degenerate
	}
	if x.N != y.N {
		return x.N < y.N
	}
	if sx, sy := libSum(x), libSum(y); sx != sy {
		return sx > sy
	}
	if x.Parent1 != y.Parent1 {
		return x.Parent1 < y.Parent1
	}
	return x.Parent2 < y.Parent2
}

// libSum returns LibSize1+LibSize2, or -Inf if it is undefined.
func libSum(p Pair) float64 {
	v := p.LibSize1 + p.LibSize2
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}
