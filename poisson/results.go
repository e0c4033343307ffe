package poisson

import (
	"fmt"

	"github.com/kshedden/matchmodel/statmodel"
)

var _ statmodel.BaseResultser = (*Results)(nil)

// Results holds the Poisson estimates of the coefficients of the basis
// functions.  The objective is the pseudo log-likelihood of the
// proportions.
type Results struct {
	statmodel.BaseResults

	// Numbers of types of men and women, and of basis functions
	X, Y, K int

	// Number of households in the observed matching
	NHouseholds float64

	// Expected utilities of the men and the women, -log(μx0/n_x) and
	// -log(μ0y/m_y) at the fitted singles
	U, V []float64

	Deviance float64

	Method     Method
	Iterations int
}

// Summary displays a summary table of the results.
func (rslt *Results) Summary() string {

	sum := &statmodel.SummaryTable{
		Title: "Poisson estimation of the Choo and Siow model",
		Top: []string{
			fmt.Sprintf("Households: %.1f", rslt.NHouseholds),
			fmt.Sprintf("Types:      %d×%d", rslt.X, rslt.Y),
			fmt.Sprintf("Bases:      %d", rslt.K),
			fmt.Sprintf("Method:     %s", rslt.Method),
			fmt.Sprintf("Iterations: %d", rslt.Iterations),
			fmt.Sprintf("Deviance:   %.6g", rslt.Deviance),
		},
	}

	fs := statmodel.StringFmt
	fn := statmodel.FloatFmt("%10.4f")
	sum.ColNames = []string{"Parameter  ", "Estimate", "SE", "Z-score", "P-value"}
	sum.ColFmt = []statmodel.Fmter{fs, fn, fn, fn, fn}
	sum.Cols = []interface{}{
		rslt.Names(),
		rslt.Params(),
		rslt.StdErr(),
		rslt.ZScores(),
		rslt.PValues(),
	}

	sum.Msg = []string{
		fmt.Sprintf("Utilities of the men:   %.4f", rslt.U),
		fmt.Sprintf("Utilities of the women: %.4f", rslt.V),
	}

	return sum.String()
}
