// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package doublet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/scdoublet/util"
)

// RowsHeader is the header line written by WriteRows.
const RowsHeader = "query\tparent1\tparent2\tN\tbest\tp.value\tlib.size1\tlib.size2\tprop\twarnings"

// PairsHeader is the header line written by WritePairs.
const PairsHeader = "query\tparent1\tparent2\tN\tbest\tp.value\tlib.size1\tlib.size2\tdegenerate"

func writePair(w *tsv.Writer, query string, p Pair) {
	w.WriteString(query)
	w.WriteString(p.Parent1)
	w.WriteString(p.Parent2)
	w.WriteString(strconv.Itoa(p.N))
	best := p.Best
	if best == "" {
		best = "NA"
	}
	w.WriteString(best)
	w.WriteString(util.FormatFloat(p.PValue))
	w.WriteString(util.FormatFloat(p.LibSize1))
	w.WriteString(util.FormatFloat(p.LibSize2))
}

// WriteRows writes one line per row, in order, under RowsHeader. The
// warnings column lists the degenerate clusters of the row, comma separated.
func WriteRows(out io.Writer, rows []Row) error {
	w := tsv.NewWriter(out)
	w.WriteString(RowsHeader)
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, r := range rows {
		writePair(w, r.Query, r.Pair)
		w.WriteString(util.FormatFloat(r.Prop))
		var warnings []string
		for _, warning := range r.Warnings {
			warnings = append(warnings, warning.Cluster)
		}
		w.WriteString(strings.Join(warnings, ","))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WritePairs writes every candidate pair of every row, best first within a
// query, under PairsHeader.
func WritePairs(out io.Writer, rows []Row) error {
	w := tsv.NewWriter(out)
	w.WriteString(PairsHeader)
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, r := range rows {
		for _, p := range r.AllPairs {
			writePair(w, r.Query, p)
			w.WriteString(strconv.FormatBool(p.Degenerate))
			if err := w.EndLine(); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// assignmentRow is one line of a cluster assignment table. Other columns are
// ignored.
type assignmentRow struct {
	Cell    string `tsv:"cell"`
	Cluster string `tsv:"cluster"`
}

// ReadAssignment reads a tab-separated cluster assignment table with a header
// line that names a "cell" and a "cluster" column. Columns are matched by
// name, in any order. A cell listed twice is an error.
func ReadAssignment(in io.Reader) (Assignment, error) {
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true
	a := Assignment{Clusters: map[string]string{}}
	for line := 2; ; line++ {
		var row assignmentRow
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return Assignment{}, errors.E(errors.Invalid, err, "read cluster assignment")
		}
		if prev, ok := a.Clusters[row.Cell]; ok {
			return Assignment{}, errors.E(errors.Invalid,
				fmt.Sprintf("cluster assignment:%d: cell %s listed twice (clusters %s and %s)", line, row.Cell, prev, row.Cluster))
		}
		a.Clusters[row.Cell] = row.Cluster
	}
	return a, nil
}
