package expr

import (
	"math"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestNewMatrix(t *testing.T) {
	m, err := NewMatrix([]string{"g1", "g2"}, []string{"c1", "c2", "c3"}, []float64{
		1, 0, 2,
		3, 4, 0,
	})
	expect.NoError(t, err)
	expect.EQ(t, m.NGenes(), 2)
	expect.EQ(t, m.NCells(), 3)
	expect.EQ(t, m.Row(1), []float64{3, 4, 0})
	expect.EQ(t, m.At(0, 2), 2.0)
	expect.EQ(t, m.LibSizes(), []float64{4, 4, 2})
}

func TestNewMatrixErrors(t *testing.T) {
	tests := []struct {
		genes, cells []string
		data         []float64
	}{
		{[]string{"g1"}, []string{"c1", "c2"}, []float64{1}},
		{[]string{"g1", "g1"}, []string{"c1"}, []float64{1, 2}},
		{[]string{"g1"}, []string{"c1", "c1"}, []float64{1, 2}},
		{[]string{"g1"}, []string{"c1", "c2"}, []float64{1, -1}},
		{[]string{"g1"}, []string{"c1", "c2"}, []float64{1, math.NaN()}},
	}
	for _, test := range tests {
		_, err := NewMatrix(test.genes, test.cells, test.data)
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("NewMatrix(%v, %v, %v): got %v, want invalid", test.genes, test.cells, test.data, err)
		}
	}
}

func TestSetLibSizes(t *testing.T) {
	m, err := NewMatrix([]string{"g1"}, []string{"c1", "c2"}, []float64{1, 2})
	expect.NoError(t, err)
	expect.NoError(t, m.SetLibSizes([]float64{100, 300}))
	expect.EQ(t, m.LibSizes(), []float64{100, 300})
	expect.True(t, m.SetLibSizes([]float64{1}) != nil)
	expect.True(t, m.SetLibSizes([]float64{1, math.NaN()}) != nil)
}

func TestMedian(t *testing.T) {
	expect.EQ(t, Median([]float64{3, 1, 2}), 2.0)
	expect.EQ(t, Median([]float64{4, 1, 3, 2}), 2.5)
	expect.True(t, math.IsNaN(Median(nil)))

	m, err := NewMatrix([]string{"g1"}, []string{"c1", "c2", "c3", "c4"}, []float64{10, 20, 30, 50})
	expect.NoError(t, err)
	expect.EQ(t, m.Median([]int{0, 3}), 30.0)
	expect.EQ(t, m.Median([]int{1, 2, 3}), 30.0)
	// Median must not reorder the matrix library sizes.
	expect.EQ(t, m.LibSizes(), []float64{10, 20, 30, 50})
}

func TestFromCounts(t *testing.T) {
	m, err := FromCounts([]string{"g1", "g2"}, []string{"c1", "c2"}, []float64{
		1, 6,
		1, 2,
	})
	expect.NoError(t, err)
	expect.EQ(t, m.LibSizes(), []float64{2, 8})
	// Size factors are 0.4 and 1.6.
	assert.InDelta(t, math.Log2(1/0.4+1), m.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log2(6/1.6+1), m.At(0, 1), 1e-12)
	assert.InDelta(t, math.Log2(2/1.6+1), m.At(1, 1), 1e-12)

	_, err = FromCounts([]string{"g1"}, []string{"c1", "c2"}, []float64{1, 0})
	expect.True(t, errors.Is(errors.Invalid, err))
}
