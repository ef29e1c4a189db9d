// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// bio-doublet ranks the clusters of a single-cell RNA-seq experiment by how
// much they look like doublets of two other clusters.
//
// Example:
//
//	bio-doublet clusters -matrix=matrix.mtx.gz -features=features.tsv.gz \
//	  -barcodes=barcodes.tsv.gz -clusters=clusters.tsv -output=doublets.tsv
//
// The matrix, features and barcodes files are the 10x "filtered feature-barcode
// matrix" triple. The cluster table is a TSV file with a header line naming a
// "cell" and a "cluster" column.
package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/scdoublet/doublet"
	"github.com/grailbio/scdoublet/markers"
	"v.io/x/lib/cmdline"
)

// inputFlags are shared by all subcommands.
type inputFlags struct {
	matrixPath   string
	featuresPath string
	barcodesPath string
	clustersPath string
	outputPath   string
}

// testFlags select and configure the differential expression test.
type testFlags struct {
	test        string
	permRounds  int
	seed        int64
	parallelism int
}

func (f *inputFlags) register(cmd *cmdline.Command) {
	cmd.Flags.StringVar(&f.matrixPath, "matrix", "", "MatrixMarket count matrix, genes x cells, optionally gzipped")
	cmd.Flags.StringVar(&f.featuresPath, "features", "", "Gene list. One gene per line; the first tab-separated column is the gene ID")
	cmd.Flags.StringVar(&f.barcodesPath, "barcodes", "", "Cell list. One cell barcode per line, in matrix column order")
	cmd.Flags.StringVar(&f.clustersPath, "clusters", "", "Cluster table: TSV with 'cell' and 'cluster' columns")
	cmd.Flags.StringVar(&f.outputPath, "output", "-", "Output TSV path. '-' is stdout. A .gz suffix gzips the output")
}

func (f *inputFlags) check() error {
	for _, v := range []struct{ name, value string }{
		{"matrix", f.matrixPath},
		{"features", f.featuresPath},
		{"barcodes", f.barcodesPath},
		{"clusters", f.clustersPath},
	} {
		if v.value == "" {
			return fmt.Errorf("-%s must be set", v.name)
		}
	}
	return nil
}

func (f *testFlags) register(cmd *cmdline.Command) {
	cmd.Flags.StringVar(&f.test, "test", "t", "Differential expression test: 't' (Welch), 'wilcox' (rank sum) or 'perm' (permutation)")
	cmd.Flags.IntVar(&f.permRounds, "perm-rounds", markers.DefaultPermutationRounds, "Number of label permutations for -test=perm")
	cmd.Flags.Int64Var(&f.seed, "seed", 0, "Random seed for -test=perm")
	cmd.Flags.IntVar(&f.parallelism, "parallelism", 0, "Max number of concurrent tests. 0 means one per CPU")
}

func (f *testFlags) tester() (markers.Tester, error) {
	switch strings.ToLower(f.test) {
	case "t", "welch":
		return markers.WelchT{}, nil
	case "wilcox", "wilcoxon":
		return markers.Wilcoxon{}, nil
	case "perm", "permutation":
		if f.permRounds <= 0 {
			return nil, fmt.Errorf("-perm-rounds must be positive, got %d", f.permRounds)
		}
		return markers.Permutation{Rounds: f.permRounds, Seed: f.seed}, nil
	}
	return nil, fmt.Errorf("unknown test %q, want 't', 'wilcox' or 'perm'", f.test)
}

// clustersOpts builds the scorer options from the test flags and the
// clusters-specific flags.
func (f *testFlags) clustersOpts(direction string, minClusterSize int, fdr float64) (doublet.Opts, error) {
	opts := doublet.DefaultOpts
	var err error
	if opts.Tester, err = f.tester(); err != nil {
		return opts, err
	}
	if opts.Direction, err = doublet.ParseDirection(direction); err != nil {
		return opts, err
	}
	if minClusterSize < 0 {
		return opts, fmt.Errorf("-min-cluster-size must not be negative, got %d", minClusterSize)
	}
	opts.FDR = fdr
	opts.MinClusterSize = minClusterSize
	opts.Parallelism = f.parallelism
	return opts, nil
}

func newCmdClusters() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "clusters",
		Short: "Rank clusters by doublet likelihood",
		Long: `
For each cluster, clusters finds the pair of other clusters whose doublets it
most resembles: the pair against which it has the fewest consistently
up-regulated genes (N). Clusters are reported in order of increasing N; a low N,
parent library sizes below the query's (lib.size ratios below 1) and a small
share of cells suggest a doublet cluster.`,
	}
	var (
		in       inputFlags
		tf       testFlags
		defaults = doublet.DefaultOpts
		dirFlag  string
		minFlag  int
		fdrFlag  float64
		pairFlag string
	)
	in.register(cmd)
	tf.register(cmd)
	cmd.Flags.Float64Var(&fdrFlag, "fdr", defaults.FDR, "Adjusted p-value threshold for a significant gene")
	cmd.Flags.StringVar(&dirFlag, "direction", defaults.Direction.String(), "Genes counted in N: 'up' (higher in the query than both parents) or 'any'")
	cmd.Flags.IntVar(&minFlag, "min-cluster-size", defaults.MinClusterSize, "Clusters with fewer cells are not tested and get N=0")
	cmd.Flags.StringVar(&pairFlag, "pairs-output", "", "If set, write every candidate parent pair of every cluster to this TSV path")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("clusters takes no arguments, but got %v", argv)
		}
		if err := in.check(); err != nil {
			return err
		}
		opts, err := tf.clustersOpts(dirFlag, minFlag, fdrFlag)
		if err != nil {
			return err
		}
		return runClusters(clustersFlags{inputFlags: in, pairsOutputPath: pairFlag}, opts)
	})
	return cmd
}

func newCmdMarkers() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "markers",
		Short: "Compare the expression of two clusters",
		Long: `
markers runs the differential expression test between the cells of cluster
-query and those of cluster -other, and writes one line per gene with the log
fold change, the test statistic, the two-sided p-value and its
Benjamini-Hochberg adjustment.`,
	}
	var (
		in           inputFlags
		tf           testFlags
		query, other string
	)
	in.register(cmd)
	tf.register(cmd)
	cmd.Flags.StringVar(&query, "query", "", "Query cluster label")
	cmd.Flags.StringVar(&other, "other", "", "Cluster label to compare against")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("markers takes no arguments, but got %v", argv)
		}
		if err := in.check(); err != nil {
			return err
		}
		if query == "" || other == "" || query == other {
			return fmt.Errorf("-query and -other must name two different clusters, got %q and %q", query, other)
		}
		tester, err := tf.tester()
		if err != nil {
			return err
		}
		return runMarkers(in, tester, query, other)
	})
	return cmd
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-doublet",
			Short:    "Cluster-level doublet detection for single-cell RNA-seq",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdClusters(),
				newCmdMarkers(),
			},
		})
}
