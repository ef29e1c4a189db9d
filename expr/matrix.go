// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package expr holds single-cell expression matrices: genes x cells tables of
// normalized log-expression values together with per-cell library sizes.
package expr

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
)

// Matrix is an immutable genes x cells expression matrix. Values are stored
// row-major, one row per gene, so that per-gene tests touch contiguous memory.
// Thread compatible; all methods are read-only once the matrix is built.
type Matrix struct {
	genes    []string
	cells    []string
	data     []float64
	libSizes []float64
}

// NewMatrix creates a matrix from row-major data of length
// len(genes)*len(cells). Gene and cell identifiers must be unique, and values
// must be finite and non-negative. Library sizes default to the column sums
// of data; callers holding log-scale values should override them with
// SetLibSizes.
func NewMatrix(genes, cells []string, data []float64) (*Matrix, error) {
	if len(data) != len(genes)*len(cells) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("matrix: %d values for %d genes x %d cells", len(data), len(genes), len(cells)))
	}
	if err := checkUnique("gene", genes); err != nil {
		return nil, err
	}
	if err := checkUnique("cell", cells); err != nil {
		return nil, err
	}
	nCells := len(cells)
	libSizes := make([]float64, nCells)
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("matrix: invalid value %v for gene %s, cell %s", v, genes[i/nCells], cells[i%nCells]))
		}
		libSizes[i%nCells] += v
	}
	return &Matrix{genes: genes, cells: cells, data: data, libSizes: libSizes}, nil
}

func checkUnique(what string, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return errors.E(errors.Invalid, fmt.Sprintf("matrix: duplicate %s identifier %q", what, id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

// NGenes returns the number of rows.
func (m *Matrix) NGenes() int { return len(m.genes) }

// NCells returns the number of columns.
func (m *Matrix) NCells() int { return len(m.cells) }

// Genes returns the gene identifiers. The caller must not modify the slice.
func (m *Matrix) Genes() []string { return m.genes }

// Cells returns the cell identifiers. The caller must not modify the slice.
func (m *Matrix) Cells() []string { return m.cells }

// Row returns the expression values of gene g across all cells. The caller
// must not modify the slice.
func (m *Matrix) Row(g int) []float64 {
	n := len(m.cells)
	return m.data[g*n : (g+1)*n]
}

// At returns the value for gene g in cell c.
func (m *Matrix) At(g, c int) float64 { return m.data[g*len(m.cells)+c] }

// LibSizes returns the per-cell library sizes (total counts). The caller must
// not modify the slice.
func (m *Matrix) LibSizes() []float64 { return m.libSizes }

// SetLibSizes replaces the per-cell library sizes. It is meant to be called
// right after construction, before the matrix is shared.
func (m *Matrix) SetLibSizes(sizes []float64) error {
	if len(sizes) != len(m.cells) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("matrix: %d library sizes for %d cells", len(sizes), len(m.cells)))
	}
	for i, v := range sizes {
		if math.IsNaN(v) || v < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("matrix: invalid library size %v for cell %s", v, m.cells[i]))
		}
	}
	m.libSizes = append([]float64(nil), sizes...)
	return nil
}

// Median returns the median of the library sizes of the given cells, or NaN
// if cells is empty.
func (m *Matrix) Median(cells []int) float64 {
	v := make([]float64, len(cells))
	for i, c := range cells {
		v[i] = m.libSizes[c]
	}
	return Median(v)
}

// Median returns the median of v, averaging the two middle elements when
// len(v) is even. It returns NaN for an empty slice. v is sorted in place.
func Median(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}
