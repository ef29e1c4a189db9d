// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package markers

import (
	"io"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/scdoublet/util"
)

// ReportHeader is the header line written by WriteReport.
const ReportHeader = "gene\tlogFC\tstat\tp.value\tfdr"

// WriteReport writes one line per gene under ReportHeader, ordered by
// increasing p-value with genes of undefined p-value last. The fdr column is
// the Benjamini-Hochberg adjustment of the two-sided p-values.
func WriteReport(out io.Writer, genes []string, res []Result) error {
	if len(genes) != len(res) {
		return errors.E(errors.Invalid, "markers: gene and result counts differ")
	}
	p := make([]float64, len(res))
	for i, r := range res {
		p[i] = r.PValue
	}
	fdr := AdjustBH(p)
	order := make([]int, len(res))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		pi, pj := p[order[i]], p[order[j]]
		if math.IsNaN(pj) {
			return !math.IsNaN(pi)
		}
		return pi < pj
	})

	w := tsv.NewWriter(out)
	w.WriteString(ReportHeader)
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, g := range order {
		r := res[g]
		w.WriteString(genes[g])
		w.WriteString(util.FormatFloat(r.LogFC))
		w.WriteString(util.FormatFloat(r.Stat))
		w.WriteString(util.FormatFloat(r.PValue))
		w.WriteString(util.FormatFloat(fdr[g]))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
