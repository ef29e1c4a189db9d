package doublet

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testRows() []Row {
	w := &DegenerateClusterWarning{Cluster: "D", Cells: 1, Min: 2}
	healthy := Pair{Parent1: "A", Parent2: "B", N: 0, Best: "g3", PValue: 0.5, LibSize1: 1, LibSize2: 1.25}
	degenerate := Pair{Parent1: "A", Parent2: "D", PValue: math.NaN(), LibSize1: 1, LibSize2: 2, Degenerate: true}
	return []Row{
		{
			Query:    "D",
			Pair:     Pair{Parent1: "A", Parent2: "B", PValue: math.NaN(), LibSize1: math.NaN(), LibSize2: 0.5, Degenerate: true},
			Prop:     0.001,
			AllPairs: []Pair{{Parent1: "A", Parent2: "B", PValue: math.NaN(), LibSize1: math.NaN(), LibSize2: 0.5, Degenerate: true}},
			Warnings: []*DegenerateClusterWarning{w},
		},
		{
			Query:    "C",
			Pair:     healthy,
			Prop:     1.0 / 3,
			AllPairs: []Pair{healthy, degenerate},
			Warnings: []*DegenerateClusterWarning{w},
		},
	}
}

func TestWriteRows(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteRows(&buf, testRows()))
	expect.EQ(t, buf.String(), RowsHeader+"\n"+
		"D\tA\tB\t0\tNA\tNA\tNA\t0.5\t0.001\tD\n"+
		"C\tA\tB\t0\tg3\t0.5\t1\t1.25\t0.333333\tD\n")
}

func TestWritePairs(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WritePairs(&buf, testRows()))
	expect.EQ(t, buf.String(), PairsHeader+"\n"+
		"D\tA\tB\t0\tNA\tNA\tNA\t0.5\ttrue\n"+
		"C\tA\tB\t0\tg3\t0.5\t1\t1.25\tfalse\n"+
		"C\tA\tD\t0\tNA\tNA\t1\t2\ttrue\n")
}

func TestReadAssignment(t *testing.T) {
	a, err := ReadAssignment(strings.NewReader("cell\tcluster\tumap1\n" +
		"AAAC-1\t1\t0.5\n" +
		"GGGT-1\t2\t0.1\n" +
		"TTTA-1\t1\t-3\n"))
	assert.NoError(t, err)
	expect.EQ(t, a.Clusters, map[string]string{"AAAC-1": "1", "GGGT-1": "2", "TTTA-1": "1"})
	expect.EQ(t, len(a.Levels), 0)
}

func TestReadAssignmentErrors(t *testing.T) {
	_, err := ReadAssignment(strings.NewReader("cell\tcluster\nAAAC-1\t1\nAAAC-1\t2\n"))
	expect.True(t, errors.Is(errors.Invalid, err))
	assert.Regexp(t, err, "cluster assignment:3: cell AAAC-1 listed twice")

	_, err = ReadAssignment(strings.NewReader("barcode\tlabel\nAAAC-1\t1\n"))
	expect.True(t, errors.Is(errors.Invalid, err))
	assert.Regexp(t, err, "column cell does not appear in the header")
}

func TestReadAssignmentColumnOrder(t *testing.T) {
	a, err := ReadAssignment(strings.NewReader("cluster\tumap1\tcell\n" +
		"1\t0.5\tAAAC-1\n" +
		"T cells\t0.1\tGGGT-1\n"))
	assert.NoError(t, err)
	expect.EQ(t, a.Clusters, map[string]string{"AAAC-1": "1", "GGGT-1": "T cells"})
}
