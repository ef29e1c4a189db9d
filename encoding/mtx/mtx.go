// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package mtx reads sparse matrices in the MatrixMarket coordinate format, as
// produced by 10x Genomics Cell Ranger (matrix.mtx, features x barcodes).
package mtx

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Field is the value type declared in the MatrixMarket banner.
type Field int

const (
	// Integer values.
	Integer Field = iota
	// Real values.
	Real
	// Pattern entries carry no value; each stored entry is 1.
	Pattern
)

// Header describes the matrix: its dimensions and the number of stored
// entries.
type Header struct {
	Field Field
	Rows  int
	Cols  int
	NNZ   int
}

// Entry is one stored element. Row and Col are 0-based.
type Entry struct {
	Row, Col int
	Value    float64
}

const banner = "%%MatrixMarket"

// Scanner reads entries of a coordinate MatrixMarket stream. Usage:
//
//	sc := mtx.NewScanner(r)
//	var e mtx.Entry
//	for sc.Scan(&e) {
//	  ...
//	}
//	if err := sc.Err(); err != nil { ... }
//
// Scanners are not thread safe.
type Scanner struct {
	b      *bufio.Scanner
	header Header
	line   int
	n      int
	err    error
	done   bool
}

// NewScanner creates a Scanner and parses the banner and the size line. Any
// error is reported by Err, and Scan then returns false.
func NewScanner(r io.Reader) *Scanner {
	sc := &Scanner{b: bufio.NewScanner(r)}
	sc.b.Buffer(make([]byte, 64<<10), 1<<20)
	sc.err = sc.readHeader()
	return sc
}

// Header returns the parsed header. It is valid only if Err() is nil.
func (sc *Scanner) Header() Header { return sc.header }

func (sc *Scanner) nextLine() (string, bool) {
	if !sc.b.Scan() {
		return "", false
	}
	sc.line++
	return sc.b.Text(), true
}

func (sc *Scanner) readHeader() error {
	line, ok := sc.nextLine()
	if !ok {
		if err := sc.b.Err(); err != nil {
			return errors.Wrap(err, "mtx: read banner")
		}
		return errors.New("mtx: empty input")
	}
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) != 5 || fields[0] != strings.ToLower(banner) || fields[1] != "matrix" {
		return errors.Errorf("mtx:1: invalid banner %q", line)
	}
	if fields[2] != "coordinate" {
		return errors.Errorf("mtx:1: unsupported format %q, only coordinate is supported", fields[2])
	}
	switch fields[3] {
	case "integer":
		sc.header.Field = Integer
	case "real":
		sc.header.Field = Real
	case "pattern":
		sc.header.Field = Pattern
	default:
		return errors.Errorf("mtx:1: unsupported field %q", fields[3])
	}
	if fields[4] != "general" {
		return errors.Errorf("mtx:1: unsupported symmetry %q, only general is supported", fields[4])
	}
	for {
		line, ok = sc.nextLine()
		if !ok {
			if err := sc.b.Err(); err != nil {
				return errors.Wrap(err, "mtx: read size line")
			}
			return errors.New("mtx: missing size line")
		}
		if s := strings.TrimSpace(line); s != "" && s[0] != '%' {
			break
		}
	}
	size := strings.Fields(line)
	if len(size) != 3 {
		return errors.Errorf("mtx:%d: invalid size line %q", sc.line, line)
	}
	var dims [3]int
	for i, s := range size {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return errors.Errorf("mtx:%d: invalid size line %q", sc.line, line)
		}
		dims[i] = v
	}
	sc.header.Rows, sc.header.Cols, sc.header.NNZ = dims[0], dims[1], dims[2]
	return nil
}

// Scan reads the next entry into e. It returns false at the end of the
// stream or on error; check Err afterwards.
func (sc *Scanner) Scan(e *Entry) bool {
	if sc.err != nil || sc.done {
		return false
	}
	for {
		line, ok := sc.nextLine()
		if !ok {
			sc.done = true
			if err := sc.b.Err(); err != nil {
				sc.err = errors.Wrap(err, "mtx: read")
			} else if sc.n != sc.header.NNZ {
				sc.err = errors.Errorf("mtx: expect %d entries, found %d", sc.header.NNZ, sc.n)
			}
			return false
		}
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '%' {
			continue
		}
		if sc.err = sc.parseEntry(s, e); sc.err != nil {
			return false
		}
		sc.n++
		if sc.n > sc.header.NNZ {
			sc.err = errors.Errorf("mtx:%d: more than %d entries", sc.line, sc.header.NNZ)
			return false
		}
		return true
	}
}

func (sc *Scanner) parseEntry(s string, e *Entry) error {
	fields := strings.Fields(s)
	want := 3
	if sc.header.Field == Pattern {
		want = 2
	}
	if len(fields) != want {
		return errors.Errorf("mtx:%d: expect %d fields, found %q", sc.line, want, s)
	}
	row, err := strconv.Atoi(fields[0])
	if err != nil {
		return errors.Wrapf(err, "mtx:%d: row", sc.line)
	}
	col, err := strconv.Atoi(fields[1])
	if err != nil {
		return errors.Wrapf(err, "mtx:%d: column", sc.line)
	}
	if row < 1 || row > sc.header.Rows || col < 1 || col > sc.header.Cols {
		return errors.Errorf("mtx:%d: coordinate (%d,%d) outside %dx%d matrix",
			sc.line, row, col, sc.header.Rows, sc.header.Cols)
	}
	e.Row, e.Col, e.Value = row-1, col-1, 1
	switch sc.header.Field {
	case Integer:
		v, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "mtx:%d: integer value", sc.line)
		}
		e.Value = float64(v)
	case Real:
		if e.Value, err = strconv.ParseFloat(fields[2], 64); err != nil {
			return errors.Wrapf(err, "mtx:%d: value", sc.line)
		}
	}
	return nil
}

// Err returns the first error encountered, if any.
func (sc *Scanner) Err() error { return sc.err }

// MaxDenseValues is the largest Rows*Cols that ReadDense accepts.
const MaxDenseValues = math.MaxInt32

// ReadDense reads a whole coordinate matrix into a dense row-major slice of
// length Rows*Cols. Repeated coordinates are summed.
func ReadDense(r io.Reader) (Header, []float64, error) {
	sc := NewScanner(r)
	if err := sc.Err(); err != nil {
		return Header{}, nil, err
	}
	h := sc.Header()
	if h.Cols > 0 && h.Rows > MaxDenseValues/h.Cols {
		return Header{}, nil, errors.Errorf("mtx:%d: %dx%d matrix has more than %d values",
			sc.line, h.Rows, h.Cols, MaxDenseValues)
	}
	data := make([]float64, h.Rows*h.Cols)
	var e Entry
	for sc.Scan(&e) {
		data[e.Row*h.Cols+e.Col] += e.Value
	}
	if err := sc.Err(); err != nil {
		return Header{}, nil, err
	}
	return h, data, nil
}
