package markers

import (
	"bytes"
	"math"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestWriteReport(t *testing.T) {
	genes := []string{"g0", "g1", "g2"}
	res := []Result{
		{LogFC: 1, Stat: 2, PValue: 0.04},
		{LogFC: 0, Stat: math.NaN(), PValue: math.NaN()},
		{LogFC: -2, Stat: -5, PValue: 0.01},
	}
	var buf bytes.Buffer
	assert.NoError(t, WriteReport(&buf, genes, res))
	expect.EQ(t, buf.String(), ReportHeader+"\n"+
		"g2\t-2\t-5\t0.01\t0.02\n"+
		"g0\t1\t2\t0.04\t0.04\n"+
		"g1\t0\tNA\tNA\tNA\n")
	expect.True(t, WriteReport(&buf, genes[:1], res) != nil)
}
