// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/scdoublet/doublet"
	"github.com/grailbio/scdoublet/encoding/mtx"
	"github.com/grailbio/scdoublet/expr"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/highwayhash"
)

var zeroSeed [highwayhash.Size]byte

// dataset is the parsed input of a run.
type dataset struct {
	m *expr.Matrix
	a doublet.Assignment
	// digest is a highwayhash of the raw (compressed) bytes of all inputs, in
	// the order matrix, features, barcodes, clusters.
	digest string
}

// withInput opens path, transparently decompresses it, and passes the
// contents to fn. The raw bytes are also fed to h.
func withInput(ctx context.Context, path string, h hash.Hash, fn func(io.Reader) error) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "open", path)
	}
	var r io.Reader = io.TeeReader(in.Reader(ctx), h)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	once := errors.Once{}
	once.Set(fn(r))
	once.Set(in.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, path)
	}
	return nil
}

// readIDs reads the first tab-separated column of each nonempty line.
func readIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, '\t'); i >= 0 {
			line = line[:i]
		}
		ids = append(ids, line)
	}
	return ids, sc.Err()
}

// loadDataset reads and normalizes the count matrix and reads the cluster
// table.
func loadDataset(ctx context.Context, flags inputFlags) (dataset, error) {
	h, err := highwayhash.New(zeroSeed[:])
	if err != nil {
		return dataset{}, err
	}
	var (
		hdr          mtx.Header
		counts       []float64
		genes, cells []string
		a            doublet.Assignment
	)
	if err := withInput(ctx, flags.matrixPath, h, func(r io.Reader) (err error) {
		hdr, counts, err = mtx.ReadDense(r)
		return
	}); err != nil {
		return dataset{}, err
	}
	log.Printf("%s: %d x %d matrix, %d entries", flags.matrixPath, hdr.Rows, hdr.Cols, hdr.NNZ)
	if err := withInput(ctx, flags.featuresPath, h, func(r io.Reader) (err error) {
		genes, err = readIDs(r)
		return
	}); err != nil {
		return dataset{}, err
	}
	if err := withInput(ctx, flags.barcodesPath, h, func(r io.Reader) (err error) {
		cells, err = readIDs(r)
		return
	}); err != nil {
		return dataset{}, err
	}
	if len(genes) != hdr.Rows {
		return dataset{}, errors.E(errors.Invalid,
			fmt.Sprintf("%s lists %d genes, but %s has %d rows", flags.featuresPath, len(genes), flags.matrixPath, hdr.Rows))
	}
	if len(cells) != hdr.Cols {
		return dataset{}, errors.E(errors.Invalid,
			fmt.Sprintf("%s lists %d cells, but %s has %d columns", flags.barcodesPath, len(cells), flags.matrixPath, hdr.Cols))
	}
	if err := withInput(ctx, flags.clustersPath, h, func(r io.Reader) (err error) {
		a, err = doublet.ReadAssignment(r)
		return
	}); err != nil {
		return dataset{}, err
	}
	m, err := expr.FromCounts(genes, cells, counts)
	if err != nil {
		return dataset{}, err
	}
	d := dataset{m: m, a: a, digest: hex.EncodeToString(h.Sum(nil))}
	log.Printf("read %d genes, %d cells, %d cluster assignments; input digest %s",
		m.NGenes(), m.NCells(), len(a.Clusters), d.digest)
	return d, nil
}

// output is a report destination. Close must be called once.
type output struct {
	io.Writer
	f  file.File
	gz *gzip.Writer
}

// createOutput opens path for writing. "-" or "" means stdout. A path ending
// in .gz is gzip compressed.
func createOutput(ctx context.Context, path string) (*output, error) {
	if path == "" || path == "-" {
		return &output{Writer: os.Stdout}, nil
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	o := &output{Writer: f.Writer(ctx), f: f}
	if strings.HasSuffix(path, ".gz") {
		o.gz = gzip.NewWriter(o.Writer)
		o.Writer = o.gz
	}
	return o, nil
}

// Close flushes and closes the output. Stdout is left open.
func (o *output) Close(ctx context.Context) error {
	if o.f == nil {
		return nil
	}
	once := errors.Once{}
	if o.gz != nil {
		once.Set(o.gz.Close())
	}
	once.Set(o.f.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, "close", o.f.Name())
	}
	return nil
}

// writeOutput creates path, calls fn to fill it, and closes it.
func writeOutput(ctx context.Context, path string, fn func(io.Writer) error) error {
	out, err := createOutput(ctx, path)
	if err != nil {
		return err
	}
	once := errors.Once{}
	once.Set(fn(out))
	once.Set(out.Close(ctx))
	return once.Err()
}
