// Package statmodel holds the parts of a fitted model's results that do
// not depend on how the model was fit: parameter estimates with their
// sampling covariance, and a plain text summary table.
package statmodel

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// BaseResultser is a fitted model that can produce results (parameter estimates, etc.).
type BaseResultser interface {
	Names() []string
	Objective() float64
	Params() []float64
	VCov() []float64
	StdErr() []float64
	ZScores() []float64
	PValues() []float64
}

// BaseResults contains the results after fitting a model to data.
type BaseResults struct {
	objective float64
	params    []float64
	xnames    []string
	vcov      []float64
	stderr    []float64
	zscores   []float64
	pvalues   []float64
}

// NewBaseResults returns a BaseResults holding the given estimates.
// The covariance matrix vcov is stored row-major, and may be nil.
func NewBaseResults(objective float64, params []float64, xnames []string, vcov []float64) BaseResults {

	if vcov != nil && len(vcov) != len(params)*len(params) {
		msg := fmt.Sprintf("vcov has length %d, expected %d\n", len(vcov), len(params)*len(params))
		panic(msg)
	}

	return BaseResults{
		objective: objective,
		params:    params,
		xnames:    xnames,
		vcov:      vcov,
	}
}

// Names returns the names of the parameters.
func (rslt *BaseResults) Names() []string {
	return rslt.xnames
}

// Params returns the point estimates for the parameters in the model.
func (rslt *BaseResults) Params() []float64 {
	return rslt.params
}

// VCov returns the sampling variance/covariance model for the parameters in the model.
// The matrix is vetorized to one dimension.
func (rslt *BaseResults) VCov() []float64 {
	return rslt.vcov
}

// VCovMat returns the sampling variance/covariance matrix of the
// parameters, or nil if it is not available.
func (rslt *BaseResults) VCovMat() *mat.SymDense {
	if rslt.vcov == nil {
		return nil
	}
	p := len(rslt.params)
	v := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v.SetSym(i, j, (rslt.vcov[i*p+j]+rslt.vcov[j*p+i])/2)
		}
	}
	return v
}

// Objective returns the value of the objective function at the estimates,
// e.g. a log-likelihood or a minimum distance.
func (rslt *BaseResults) Objective() float64 {
	return rslt.objective
}

// StdErr returns the standard errors for the parameters in the model.
func (rslt *BaseResults) StdErr() []float64 {

	// No vcov, no standard error
	if rslt.vcov == nil {
		return nil
	}

	p := len(rslt.params)
	if rslt.stderr == nil {
		rslt.stderr = make([]float64, p)
	} else {
		return rslt.stderr
	}

	for i := range rslt.stderr {
		rslt.stderr[i] = math.Sqrt(rslt.vcov[i*p+i])
	}

	return rslt.stderr
}

// ZScores returns the Z-scores (the parameter estimates divided by the standard errors).
func (rslt *BaseResults) ZScores() []float64 {

	// No vcov, no z-scores
	if rslt.vcov == nil {
		return nil
	}

	p := len(rslt.params)
	if rslt.zscores == nil {
		rslt.zscores = make([]float64, p)
	} else {
		return rslt.zscores
	}

	std := rslt.StdErr()
	for i := range std {
		rslt.zscores[i] = rslt.params[i] / std[i]
	}

	return rslt.zscores
}

func normcdf(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt(2))
}

// PValues returns the p-values for the null hypothesis that each parameter's population
// value is equal to zero.
func (rslt *BaseResults) PValues() []float64 {

	// No vcov, no p-values
	if rslt.vcov == nil {
		return nil
	}

	p := len(rslt.params)
	if rslt.pvalues == nil {
		rslt.pvalues = make([]float64, p)
	} else {
		return rslt.pvalues
	}

	for i, z := range rslt.ZScores() {
		rslt.pvalues[i] = 2 * normcdf(-math.Abs(z))
	}

	return rslt.pvalues
}

// SummaryTable holds the summary values for a fitted model.
type SummaryTable struct {

	// Title
	Title string

	// Column names
	ColNames []string

	// Formatters for the column values
	ColFmt []Fmter

	// Cols[j] is the j^th column.  It's concrete type should
	// be an array, e.g. of numbers or strings.
	Cols []interface{}

	// Values at the top of the summary
	Top []string

	// Messages displayed below the table
	Msg []string

	// Total width of the table
	tw int
}

// Draw a line constructed of the given character filling the width of
// the table.
func (s *SummaryTable) line(c string) string {
	return strings.Repeat(c, s.tw) + "\n"
}

// cleanTop ensures that all fields in the top part of the table have
// the same width.
func (s *SummaryTable) cleanTop() {

	w := 0
	for _, x := range s.Top {
		if len(x) > w {
			w = len(x)
		}
	}

	for i, x := range s.Top {
		if len(x) < w {
			s.Top[i] = x + strings.Repeat(" ", w-len(x))
		}
	}
}

// Construct the upper part of the table, which contains summary
// values for the model.
func (s *SummaryTable) top(gap int) string {

	w := []int{0, 0}

	for j, x := range s.Top {
		if len(x) > w[j%2] {
			w[j%2] = len(x)
		}
	}

	var b bytes.Buffer

	for j, x := range s.Top {
		c := fmt.Sprintf("%%-%ds", w[j%2])
		b.WriteString(fmt.Sprintf(c, x))
		if j%2 == 1 {
			b.WriteString("\n")
		} else {
			b.WriteString(strings.Repeat(" ", gap))
		}
	}

	if len(s.Top)%2 == 1 {
		b.WriteString("\n")
	}

	return b.String()
}

// Fmter formats the elements of an array of values.
type Fmter func(interface{}, string) []string

// StringFmt left-aligns a []string column to a common width.
func StringFmt(x interface{}, h string) []string {
	y := x.([]string)
	m := len(h)
	for i := range y {
		if len(y[i]) > m {
			m = len(y[i])
		}
	}
	var z []string
	for i := range y {
		c := fmt.Sprintf("%%-%ds", m)
		z = append(z, fmt.Sprintf(c, y[i]))
	}
	return z
}

// FloatFmt returns a formatter for []float64 columns using the given
// verb, e.g. "%10.4f".
func FloatFmt(verb string) Fmter {
	return func(x interface{}, h string) []string {
		y := x.([]float64)
		var s []string
		for i := range y {
			s = append(s, fmt.Sprintf(verb, y[i]))
		}
		return s
	}
}

// String returns the table as a string.
func (s *SummaryTable) String() string {

	s.cleanTop()

	var tab [][]string
	var wx []int
	for j, c := range s.Cols {
		u := s.ColFmt[j](c, s.ColNames[j])
		tab = append(tab, u)
		if len(u) > 0 && len(u[0]) > len(s.ColNames[j]) {
			wx = append(wx, len(u[0])+1)
		} else {
			wx = append(wx, len(s.ColNames[j])+1)
		}
	}

	gap := 10

	// Get the total width of the table
	s.tw = 0
	for _, w := range wx {
		s.tw += w
	}
	if s.tw < len(s.Title) {
		s.tw = len(s.Title)
	}
	if len(s.Top) > 0 && s.tw < gap+2*len(s.Top[0]) {
		s.tw = gap + 2*len(s.Top[0])
	}

	var buf bytes.Buffer

	// Center the title
	k := len(s.Title)
	kr := (s.tw - k) / 2
	if kr < 0 {
		kr = 0
	}
	buf.WriteString(strings.Repeat(" ", kr))
	buf.WriteString(s.Title)
	buf.WriteString("\n")

	buf.WriteString(s.line("="))
	if len(s.Top) > 0 {
		buf.WriteString(s.top(gap))
		buf.WriteString(s.line("-"))
	}

	for j, c := range s.ColNames {
		f := fmt.Sprintf("%%%ds", wx[j])
		buf.WriteString(fmt.Sprintf(f, c))
	}
	buf.WriteString("\n")
	buf.WriteString(s.line("-"))

	if len(tab) > 0 {
		for i := 0; i < len(tab[0]); i++ {
			for j := 0; j < len(tab); j++ {
				f := fmt.Sprintf("%%%ds", wx[j])
				buf.WriteString(fmt.Sprintf(f, tab[j][i]))
			}
			buf.WriteString("\n")
		}
	}
	buf.WriteString(s.line("-"))

	for _, msg := range s.Msg {
		buf.WriteString(msg + "\n")
	}

	return buf.String()
}
