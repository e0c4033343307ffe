package mde

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/statmodel"
)

var _ statmodel.BaseResultser = (*Results)(nil)

// Results holds the outcome of a minimum distance estimation.  The
// parameters are the α of a parameter dependent entropy, if any,
// followed by the coefficients β of the basis functions.
type Results struct {
	statmodel.BaseResults

	// Numbers of types of men and women, and of basis functions
	X, Y, K int

	// Number of entropy parameters α
	NAlpha int

	// Number of households in the observed matching
	NHouseholds float64

	// The estimated surplus Σk βk φk, X×Y, or (X-1)×(Y-1) double
	// differences when the market has no singles
	EstimatedPhi *mat.Dense

	// The specification test statistic, its degrees of freedom and
	// p-value.  The p-value is NaN when NDF is not positive.
	TestStatistic float64
	NDF           int
	TestPValue    float64

	// Whether the entropy depends on α
	Parameterized bool

	// Whether the moments were double differenced
	NoSingles bool

	// First pass estimates of (α, β), nil unless Parameterized
	FirstStage []float64

	// The unweighted moments Φβ + e0 (+ Σk αk ek) at the estimates,
	// double differenced when the market has no singles.  The test
	// statistic weights them with the efficient weighting matrix.
	Residuals []float64

	// Description of the entropy
	Description string
}

// Alpha returns the estimated entropy parameters.
func (rslt *Results) Alpha() []float64 {
	return rslt.Params()[:rslt.NAlpha]
}

// Beta returns the estimated coefficients of the basis functions.
func (rslt *Results) Beta() []float64 {
	return rslt.Params()[rslt.NAlpha:]
}

// Discrepancy returns the largest absolute difference between the
// estimates and the given true values of all parameters.
func (rslt *Results) Discrepancy(trueCoeffs []float64) float64 {

	par := rslt.Params()
	if len(trueCoeffs) != len(par) {
		msg := fmt.Sprintf("mde: %d true values for %d parameters\n", len(trueCoeffs), len(par))
		panic(msg)
	}

	var d float64
	for i := range par {
		d = math.Max(d, math.Abs(par[i]-trueCoeffs[i]))
	}

	return d
}

// Summary summarizes the fitted model.
type Summary struct {
	results *Results

	// True values of the parameters, shown next to the estimates when
	// not nil.
	trueCoeffs []float64
}

// Summary displays a summary table of the results.
func (rslt *Results) Summary() *Summary {
	return &Summary{results: rslt}
}

// SetTrue adds the true parameter values, and their largest
// discrepancy, to the summary.
func (s *Summary) SetTrue(coeffs []float64) *Summary {
	s.trueCoeffs = coeffs
	return s
}

// String returns the summary table.
func (s *Summary) String() string {

	rslt := s.results
	sum := &statmodel.SummaryTable{
		Title: "Minimum distance estimation of a semilinear matching model",
	}

	sum.Top = []string{
		fmt.Sprintf("Entropy:    %s", rslt.Description),
		fmt.Sprintf("Households: %.1f", rslt.NHouseholds),
		fmt.Sprintf("Types:      %d×%d", rslt.X, rslt.Y),
		fmt.Sprintf("Bases:      %d", rslt.K),
		fmt.Sprintf("Statistic:  %.3f", rslt.TestStatistic),
		fmt.Sprintf("Df:         %d", rslt.NDF),
		fmt.Sprintf("P-value:    %.3f", rslt.TestPValue),
	}
	if rslt.NoSingles {
		sum.Top = append(sum.Top, "Singles:    none")
	}

	fs := statmodel.StringFmt
	fn := statmodel.FloatFmt("%10.4f")

	if s.trueCoeffs == nil {
		sum.ColNames = []string{"Parameter  ", "Estimate", "SE", "Z-score", "P-value"}
		sum.ColFmt = []statmodel.Fmter{fs, fn, fn, fn, fn}
		sum.Cols = []interface{}{
			rslt.Names(),
			rslt.Params(),
			rslt.StdErr(),
			rslt.ZScores(),
			rslt.PValues(),
		}
	} else {
		sum.ColNames = []string{"Parameter  ", "True", "Estimate", "SE", "Z-score", "P-value"}
		sum.ColFmt = []statmodel.Fmter{fs, fn, fn, fn, fn, fn}
		sum.Cols = []interface{}{
			rslt.Names(),
			s.trueCoeffs,
			rslt.Params(),
			rslt.StdErr(),
			rslt.ZScores(),
			rslt.PValues(),
		}
		sum.Msg = append(sum.Msg, fmt.Sprintf("Largest absolute discrepancy: %.4g", rslt.Discrepancy(s.trueCoeffs)))
	}

	if rslt.FirstStage != nil {
		sum.Msg = append(sum.Msg, fmt.Sprintf("First stage estimates: %.4f", rslt.FirstStage))
	}

	return sum.String()
}
