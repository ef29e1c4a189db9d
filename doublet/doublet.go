// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package doublet detects clusters of single-cell libraries that look like
// doublets, i.e., two cells captured and sequenced as one.
//
// Score evaluates every triplet (query, parent1, parent2) of clusters. A
// query cluster made of parent1+parent2 doublets has few genes that are
// up-regulated relative to both parents, library sizes at least as large as
// those of the parents, and a small share of all cells. For each query the
// parent pair with the fewest such genes (N) is reported, and queries are
// ranked by N so that the most doublet-like clusters come first. No cutoff is
// applied; the ranking is meant for manual review.
package doublet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/scdoublet/markers"
)

// Direction selects which genes count towards N.
type Direction int

const (
	// Up counts genes that are significantly higher in the query than in
	// both parents.
	Up Direction = iota
	// Any also counts genes that are significantly lower in the query than in
	// both parents.
	Any
)

// String returns "up" or "any".
func (d Direction) String() string {
	if d == Any {
		return "any"
	}
	return "up"
}

// ParseDirection parses the output of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "up":
		return Up, nil
	case "any":
		return Any, nil
	}
	return Up, fmt.Errorf("unknown direction %q, want 'up' or 'any'", s)
}

// Opts controls Score.
type Opts struct {
	// Tester runs the per-gene differential expression test between two
	// clusters. Nil means markers.WelchT.
	Tester markers.Tester
	// FDR is the Benjamini-Hochberg adjusted p-value at or below which a gene
	// is significant in one query-vs-parent comparison.
	FDR float64
	// Direction selects the genes that count towards N.
	Direction Direction
	// MinClusterSize is the smallest cluster that is tested. Smaller clusters
	// are degenerate: every triplet involving them gets N = 0. Values below 1
	// are treated as 1, so empty clusters are always degenerate.
	MinClusterSize int
	// Parallelism caps the number of concurrent tests. Zero means one per CPU.
	Parallelism int
}

// DefaultOpts sets the default values to Opts.
var DefaultOpts = Opts{
	Tester:         markers.WelchT{},
	FDR:            0.05,
	Direction:      Up,
	MinClusterSize: 2,
}

// Assignment maps cells to clusters.
type Assignment struct {
	// Clusters maps a cell identifier to its cluster label. It must cover the
	// columns of the matrix exactly.
	Clusters map[string]string
	// Levels optionally lists every cluster label, including labels with no
	// cells. If nil, the labels present in Clusters are used.
	Levels []string
}

// Pair is one candidate (parent1, parent2) for a query cluster.
type Pair struct {
	// Parent1 and Parent2 are the parent labels, Parent1 < Parent2.
	Parent1, Parent2 string
	// N is the number of genes significant in the same direction against
	// both parents.
	N int
	// Best is the gene that best separates the query from both parents: the
	// one with the smallest max(adjusted p vs parent1, adjusted p vs parent2).
	// It is empty for degenerate pairs.
	Best string
	// PValue is the larger of the two adjusted p-values of Best, or NaN.
	PValue float64
	// LibSize1 and LibSize2 are the median library sizes of the parents
	// divided by the median library size of the query.
	LibSize1, LibSize2 float64
	// Degenerate is set when the query or a parent is too small to test. N
	// is zero by convention.
	Degenerate bool
}

// Row is the result for one query cluster.
type Row struct {
	Query string
	// Pair is the selected parent pair, equal to AllPairs[0].
	Pair
	// Prop is the fraction of all cells that belong to the query.
	Prop float64
	// AllPairs lists every candidate pair, best first.
	AllPairs []Pair
	// Warnings lists the degenerate clusters that take part in this row's
	// triplets.
	Warnings []*DegenerateClusterWarning
}

// Result is the output of Score.
type Result struct {
	// Rows has one entry per cluster, most doublet-like first.
	Rows []Row
	// Warnings lists all degenerate clusters.
	Warnings []*DegenerateClusterWarning
}

// InsufficientClustersError is returned when fewer than three clusters are
// present, since a query needs two distinct parents.
type InsufficientClustersError struct {
	Clusters []string
}

func (e *InsufficientClustersError) Error() string {
	return fmt.Sprintf("doublet: need at least 3 clusters, found %d %v", len(e.Clusters), e.Clusters)
}

// AssignmentMismatchError is returned when the cluster assignment does not
// cover the matrix columns exactly.
type AssignmentMismatchError struct {
	// Unassigned lists matrix cells missing from the assignment.
	Unassigned []string
	// Unknown lists assigned cells that are not in the matrix.
	Unknown []string
	// UnknownLabels lists assigned labels missing from Assignment.Levels.
	UnknownLabels []string
	// Hint, if nonempty, suggests a likely cause.
	Hint string
}

func (e *AssignmentMismatchError) Error() string {
	var parts []string
	add := func(what string, ids []string) {
		if len(ids) == 0 {
			return
		}
		const maxShown = 5
		shown := ids
		if len(shown) > maxShown {
			shown = shown[:maxShown]
		}
		s := fmt.Sprintf("%d %s (%s", len(ids), what, strings.Join(shown, ", "))
		if len(ids) > maxShown {
			s += ", ..."
		}
		parts = append(parts, s+")")
	}
	add("matrix cells without a cluster", e.Unassigned)
	add("assigned cells not in the matrix", e.Unknown)
	add("labels not in the cluster levels", e.UnknownLabels)
	msg := "doublet: cluster assignment does not match the matrix: " + strings.Join(parts, "; ")
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

// DegenerateClusterWarning records a cluster that is too small for a
// differential expression test. It is attached to results and never returned
// as an error.
type DegenerateClusterWarning struct {
	Cluster string
	Cells   int
	Min     int
}

func (w *DegenerateClusterWarning) Error() string {
	return fmt.Sprintf("cluster %s has %d cell(s), fewer than %d; N defaults to 0 for its triplets", w.Cluster, w.Cells, w.Min)
}

// sortedLabels returns the unique labels in lexicographic order.
func sortedLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	var out []string
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
