package util

import (
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
)

func TestFormatFloat(t *testing.T) {
	for _, test := range []struct {
		v    float64
		want string
	}{
		{math.NaN(), "NA"},
		{0, "0"},
		{1.25, "1.25"},
		{1.0 / 3, "0.333333"},
		{1e-12, "1e-12"},
		{math.Inf(1), "+Inf"},
	} {
		expect.EQ(t, FormatFloat(test.v), test.want)
	}
}
