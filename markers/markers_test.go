package markers

import (
	"fmt"
	"math"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/scdoublet/expr"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// newTestMatrix builds a matrix from rows of values, naming cells c0, c1, ...
func newTestMatrix(t *testing.T, rows ...[]float64) *expr.Matrix {
	var (
		genes []string
		cells []string
		data  []float64
	)
	for i, row := range rows {
		genes = append(genes, fmt.Sprintf("g%d", i))
		data = append(data, row...)
	}
	for i := range rows[0] {
		cells = append(cells, fmt.Sprintf("c%d", i))
	}
	m, err := expr.NewMatrix(genes, cells, data)
	require.NoError(t, err)
	return m
}

var (
	groupA = []int{0, 1, 2, 3, 4}
	groupB = []int{5, 6, 7, 8, 9}
)

func testMatrix(t *testing.T) *expr.Matrix {
	return newTestMatrix(t,
		[]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		[]float64{2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
		[]float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1})
}

func TestWelchT(t *testing.T) {
	res, err := WelchT{}.Test(testMatrix(t), groupA, groupB)
	require.NoError(t, err)
	require.Equal(t, 3, len(res))

	// t.test(1:5, 6:10): t = -5, df = 8, p-value = 0.001053
	assert.InDelta(t, -5.0, res[0].LogFC, 1e-12)
	assert.InDelta(t, -5.0, res[0].Stat, 1e-12)
	assert.InDelta(t, 0.001053, res[0].PValue, 1e-6)
	expect.False(t, res[0].Up())

	expect.EQ(t, res[1], Result{LogFC: 0, Stat: 0, PValue: 1})

	assert.InDelta(t, 5.0, res[2].Stat, 1e-12)
	assert.InDelta(t, res[0].PValue, res[2].PValue, 1e-12)
	expect.True(t, res[2].Up())
}

func TestWelchTConstantGroups(t *testing.T) {
	m := newTestMatrix(t, []float64{3, 3, 3, 1, 1, 1})
	res, err := WelchT{}.Test(m, []int{0, 1, 2}, []int{3, 4, 5})
	require.NoError(t, err)
	expect.EQ(t, res[0].PValue, 0.0)
	expect.True(t, math.IsInf(res[0].Stat, 1))
}

func TestWilcoxon(t *testing.T) {
	res, err := Wilcoxon{}.Test(testMatrix(t), groupA, groupB)
	require.NoError(t, err)

	// wilcox.test(1:5, 6:10, exact=FALSE): W = 0, p-value = 0.01219
	expect.EQ(t, res[0].Stat, 0.0)
	want := 2 * distuv.UnitNormal.CDF(-12/math.Sqrt(25.0*11/12))
	assert.InDelta(t, want, res[0].PValue, 1e-12)
	assert.InDelta(t, 0.01219, res[0].PValue, 1e-4)

	// All values tied.
	expect.EQ(t, res[1].PValue, 1.0)

	expect.EQ(t, res[2].Stat, 25.0)
	assert.InDelta(t, res[0].PValue, res[2].PValue, 1e-12)
}

func TestMidRanks(t *testing.T) {
	vals := []float64{3, 1, 3, 2, 3}
	ranks := make([]float64, len(vals))
	order := make([]int, len(vals))
	tieSum := midRanks(vals, ranks, order)
	expect.EQ(t, ranks, []float64{4, 1, 4, 2, 4})
	expect.EQ(t, tieSum, 24.0)
}

func TestPermutation(t *testing.T) {
	m := testMatrix(t)
	p := Permutation{Rounds: 999, Seed: 12345}
	res1, err := p.Test(m, groupA, groupB)
	require.NoError(t, err)
	res2, err := p.Test(m, groupA, groupB)
	require.NoError(t, err)
	expect.EQ(t, res1, res2)

	expect.EQ(t, res1[0].LogFC, -5.0)
	expect.True(t, res1[0].PValue < 0.05)
	expect.EQ(t, res1[1].PValue, 1.0)
	expect.True(t, res1[2].PValue < 0.05)
}

func TestGroupValidation(t *testing.T) {
	m := testMatrix(t)
	for _, tester := range []Tester{WelchT{}, Wilcoxon{}, Permutation{Rounds: 10}} {
		_, err := tester.Test(m, nil, groupB)
		expect.True(t, errors.Is(errors.Invalid, err))
		_, err = tester.Test(m, []int{0, 1}, []int{1, 2})
		expect.True(t, errors.Is(errors.Invalid, err))
		_, err = tester.Test(m, []int{0, 100}, []int{1, 2})
		expect.True(t, errors.Is(errors.Invalid, err))
	}
}

func TestOneSided(t *testing.T) {
	up := Result{LogFC: 1, PValue: 0.02}
	expect.EQ(t, OneSided(up, true), 0.01)
	expect.EQ(t, OneSided(up, false), 0.99)
	down := Result{LogFC: -1, PValue: 0.02}
	expect.EQ(t, OneSided(down, true), 0.99)
	expect.EQ(t, OneSided(down, false), 0.01)
	flat := Result{LogFC: 0, PValue: 1}
	expect.EQ(t, OneSided(flat, true), 0.5)
	expect.EQ(t, OneSided(flat, false), 0.5)
}

func TestAdjustBH(t *testing.T) {
	tests := []struct {
		p, want []float64
	}{
		{[]float64{0.01, 0.04, 0.03, 0.02}, []float64{0.04, 0.04, 0.04, 0.04}},
		{[]float64{0.01, 0.02, 0.5}, []float64{0.03, 0.03, 0.5}},
		{[]float64{0.5, 0.01}, []float64{0.5, 0.02}},
		{nil, []float64{}},
	}
	for _, test := range tests {
		got := AdjustBH(test.p)
		require.Equal(t, len(test.want), len(got))
		for i := range got {
			assert.InDelta(t, test.want[i], got[i], 1e-12, "p=%v", test.p)
		}
	}

	got := AdjustBH([]float64{0.01, math.NaN(), 0.02})
	assert.InDelta(t, 0.02, got[0], 1e-12)
	expect.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 0.02, got[2], 1e-12)
}
