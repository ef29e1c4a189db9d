// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/scdoublet/doublet"
	"github.com/grailbio/scdoublet/markers"
)

// Collection of options set via cmdline flags for the clusters command.
type clustersFlags struct {
	inputFlags
	pairsOutputPath string
}

func runClusters(flags clustersFlags, opts doublet.Opts) error {
	ctx := vcontext.Background()
	d, err := loadDataset(ctx, flags.inputFlags)
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := doublet.Score(d.m, d.a, opts)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Error.Printf("%v", w)
	}
	log.Printf("scored %d clusters in %v (test %T, direction %v, fdr %v)",
		len(res.Rows), time.Since(start), opts.Tester, opts.Direction, opts.FDR)
	if err := writeOutput(ctx, flags.outputPath, func(w io.Writer) error {
		return doublet.WriteRows(w, res.Rows)
	}); err != nil {
		return err
	}
	if flags.pairsOutputPath != "" {
		return writeOutput(ctx, flags.pairsOutputPath, func(w io.Writer) error {
			return doublet.WritePairs(w, res.Rows)
		})
	}
	return nil
}

func runMarkers(flags inputFlags, tester markers.Tester, query, other string) error {
	ctx := vcontext.Background()
	d, err := loadDataset(ctx, flags)
	if err != nil {
		return err
	}
	groups := map[string][]int{query: nil, other: nil}
	for i, cell := range d.m.Cells() {
		label, ok := d.a.Clusters[cell]
		if _, want := groups[label]; ok && want {
			groups[label] = append(groups[label], i)
		}
	}
	for _, label := range []string{query, other} {
		if len(groups[label]) == 0 {
			return errors.E(errors.Invalid,
				fmt.Sprintf("cluster %q has no cells in %s; known clusters: %v", label, flags.matrixPath, knownLabels(d.a)))
		}
	}
	res, err := tester.Test(d.m, groups[query], groups[other])
	if err != nil {
		return err
	}
	log.Printf("compared %s (%d cells) with %s (%d cells)", query, len(groups[query]), other, len(groups[other]))
	return writeOutput(ctx, flags.outputPath, func(w io.Writer) error {
		return markers.WriteReport(w, d.m.Genes(), res)
	})
}

func knownLabels(a doublet.Assignment) []string {
	seen := map[string]bool{}
	var labels []string
	for _, l := range a.Clusters {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	sort.Strings(labels)
	return labels
}
