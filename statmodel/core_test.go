package statmodel

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestResult1(t *testing.T) {

	params := []float64{1, 2}
	xnames := []string{"x1", "x2"}
	vcov := []float64{4, 1, 1, 9}
	r := NewBaseResults(3.5, params, xnames, vcov)

	assert.Equal(t, xnames, r.Names())
	assert.Equal(t, 3.5, r.Objective())

	if !floats.EqualApprox(r.StdErr(), []float64{2, 3}, 1e-14) {
		t.Fail()
	}
	if !floats.EqualApprox(r.ZScores(), []float64{0.5, 2.0 / 3}, 1e-14) {
		t.Fail()
	}

	p0 := math.Erfc(0.5 / math.Sqrt2)
	p1 := math.Erfc(2.0 / 3 / math.Sqrt2)
	if !floats.EqualApprox(r.PValues(), []float64{p0, p1}, 1e-14) {
		t.Fail()
	}

	vm := r.VCovMat()
	require.NotNil(t, vm)
	assert.Equal(t, 2, vm.SymmetricDim())
	assert.Equal(t, 1.0, vm.At(1, 0))
	assert.Equal(t, 9.0, vm.At(1, 1))
}

func TestResultNoVCov(t *testing.T) {

	r := NewBaseResults(0, []float64{1, 2}, nil, nil)
	assert.Nil(t, r.StdErr())
	assert.Nil(t, r.ZScores())
	assert.Nil(t, r.PValues())
	assert.Nil(t, r.VCovMat())

	assert.Panics(t, func() { NewBaseResults(0, []float64{1, 2}, nil, []float64{1}) })
}

func TestPValuesFirst(t *testing.T) {

	// The p-values do not depend on the z-scores being computed first.
	r := NewBaseResults(0, []float64{0}, []string{"a"}, []float64{1})
	assert.Equal(t, []float64{1}, r.PValues())
}

func TestSummaryTable(t *testing.T) {

	tab := &SummaryTable{
		Title:    "A summary",
		Top:      []string{"Cells: 6", "Households: 69.50", "Statistic: 1.2"},
		ColNames: []string{"Name", "Estimate", "SE"},
		ColFmt:   []Fmter{StringFmt, FloatFmt("%10.4f"), FloatFmt("%10.4f")},
		Cols: []interface{}{
			[]string{"beta[0]", "beta[1]"},
			[]float64{1, -2.5},
			[]float64{0.25, 0.125},
		},
		Msg: []string{"a message"},
	}

	s := tab.String()
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")

	assert.Equal(t, "A summary", strings.TrimSpace(lines[0]))
	assert.True(t, strings.HasPrefix(lines[1], "==="))
	assert.Contains(t, lines[2], "Cells: 6")
	assert.Contains(t, lines[2], "Households: 69.50")
	assert.Contains(t, lines[3], "Statistic: 1.2")
	assert.Contains(t, s, "beta[1]")
	assert.Contains(t, s, "-2.5000")
	assert.Contains(t, s, "0.1250")
	assert.Equal(t, "a message", lines[len(lines)-1])

	// All horizontal rules have the width of the table.
	w := len(lines[1])
	for _, line := range lines {
		if strings.HasPrefix(line, "---") {
			assert.Equal(t, w, len(line))
		}
	}
}
