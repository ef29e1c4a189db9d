// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// SizeFactors returns library-size factors, the library sizes scaled to unit
// mean. It fails if any library is empty, since such a cell cannot be
// normalized.
func SizeFactors(libSizes []float64) ([]float64, error) {
	if len(libSizes) == 0 {
		return nil, nil
	}
	var mean float64
	for _, v := range libSizes {
		mean += v
	}
	mean /= float64(len(libSizes))
	sf := make([]float64, len(libSizes))
	for i, v := range libSizes {
		if v <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("size factors: library %d is empty", i))
		}
		sf[i] = v / mean
	}
	return sf, nil
}

// FromCounts builds a log-normalized matrix from raw counts stored row-major
// (genes x cells). Each value becomes log2(count/sf + 1) where sf is the
// cell's size factor; the raw column sums are kept as library sizes.
func FromCounts(genes, cells []string, counts []float64) (*Matrix, error) {
	raw, err := NewMatrix(genes, cells, counts)
	if err != nil {
		return nil, err
	}
	for i, v := range raw.libSizes {
		if v <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("normalize: cell %s has no counts", cells[i]))
		}
	}
	sf, err := SizeFactors(raw.libSizes)
	if err != nil {
		return nil, err
	}
	nCells := len(cells)
	data := make([]float64, len(counts))
	for i, v := range counts {
		data[i] = math.Log2(v/sf[i%nCells] + 1)
	}
	return &Matrix{genes: genes, cells: cells, data: data, libSizes: raw.libSizes}, nil
}
