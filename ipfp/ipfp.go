// Package ipfp solves for the equilibrium matching of a separable
// matching market with the iterative proportional fitting procedure.
//
// Given a joint surplus matrix Φ (X×Y) and the numbers of men n and
// women m of each type, the solvers find the matching whose margins
// are n and m and whose couples satisfy the equilibrium condition of
// the model:
//
//	no singles:               μxy = exp(Φxy/2 + ux + vy)
//	homoskedastic:            2 log μxy = Φxy + log μx0 + log μ0y
//	gender-heteroskedastic:   (1+τ) log μxy = Φxy + log μx0 + τ log μ0y
//	heteroskedastic:          (σx+τy) log μxy = Φxy + σx log μx0 + τy log μ0y
//
// NestedLogit solves the two-level nested logit model, whose condition
// also involves the totals of the nests (see its documentation).
//
// All updates are done on the logarithms of the singles so that large
// surpluses do not overflow.
package ipfp

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

var (
	// ErrNonConvergence is returned when the maximum number of
	// iterations is reached before the margins are fitted.
	ErrNonConvergence = errors.New("ipfp did not converge")

	// ErrInvalidMargins is returned for negative or non-finite
	// margins, or for unequal totals in a market without singles.
	ErrInvalidMargins = errors.New("invalid margins")

	// ErrInvalidSurplus is returned when the surplus contains NaN or
	// +Inf.  A surplus of -Inf rules out the match.
	ErrInvalidSurplus = errors.New("invalid surplus")

	// ErrInvalidScale is returned for non-positive heteroskedasticity
	// parameters.
	ErrInvalidScale = errors.New("invalid scale parameter")
)

// Settings control the fixed point iterations.
type Settings struct {

	// Convergence is declared when the largest absolute margin
	// violation is at most Tol times the largest margin (or Tol if
	// all margins are below 1).
	Tol float64

	// Maximum number of iterations.
	MaxIter int

	// If not nil, write log messages here
	Log logrus.FieldLogger
}

// DefaultSettings returns the default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Tol:     1e-9,
		MaxIter: 1000,
	}
}

func (s *Settings) withDefaults() *Settings {
	d := DefaultSettings()
	if s == nil {
		return d
	}
	r := *s
	if r.Tol <= 0 {
		r.Tol = d.Tol
	}
	if r.MaxIter <= 0 {
		r.MaxIter = d.MaxIter
	}
	return &r
}

// Result is the outcome of a solver.
type Result struct {

	// The equilibrium matching (the last iterate if the solver did
	// not converge).
	Matching *matching.Matching

	// For the solvers with singles, U = log μx0 and V = log μ0y.
	// Without singles, U and V are the log scaling factors of the men
	// and the women.
	U, V []float64

	// Number of iterations performed.
	Iterations int

	// Largest absolute margin violation at the returned iterate.
	MaxViolation float64

	// Margin violations for the men and the women: the implied minus
	// the target margins.
	MarginErrX, MarginErrY []float64
}

func checkInputs(phi mat.Matrix, n, m []float64) error {

	x, y := phi.Dims()
	if len(n) != x || len(m) != y {
		return errors.Wrapf(matching.ErrShapeMismatch, "phi is %d×%d but n has %d and m has %d elements",
			x, y, len(n), len(m))
	}

	for _, marg := range [][]float64{n, m} {
		for i, v := range marg {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrInvalidMargins, "margin %d is %g", i, v)
			}
		}
	}

	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			if v := phi.At(i, j); math.IsNaN(v) || math.IsInf(v, 1) {
				return errors.Wrapf(ErrInvalidSurplus, "phi[%d, %d] is %g", i, j, v)
			}
		}
	}

	return nil
}

// tolerance returns the absolute margin tolerance.
func tolerance(tol float64, n, m []float64) float64 {
	return tol * math.Max(1, math.Max(floats.Max(n), floats.Max(m)))
}

// logs returns the logarithms of the elements of x.
func logs(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Log(v)
	}
	return y
}

func exps(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Exp(v)
	}
	return y
}

// violations returns the margin errors and the largest of their
// absolute values.
func violations(muxy *mat.Dense, mux0, mu0y, n, m []float64) ([]float64, []float64, float64) {

	ex, ey := matching.ComputeMargins(muxy, mux0, mu0y)
	floats.Sub(ex, n)
	floats.Sub(ey, m)

	var mx float64
	for _, e := range [][]float64{ex, ey} {
		for _, v := range e {
			mx = math.Max(mx, math.Abs(v))
		}
	}

	return ex, ey, mx
}

// finish builds the result and reports non-convergence.
func finish(name string, s *Settings, res *Result, atol float64) (*Result, error) {

	if res.MaxViolation > atol {
		if s.Log != nil {
			s.Log.WithFields(logrus.Fields{
				"solver":     name,
				"iterations": res.Iterations,
				"violation":  res.MaxViolation,
			}).Warn("IPFP reached the maximum number of iterations")
		}
		return res, errors.Wrapf(ErrNonConvergence, "%s: %d iterations, margin violation %g",
			name, res.Iterations, res.MaxViolation)
	}

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"solver":     name,
			"iterations": res.Iterations,
			"violation":  res.MaxViolation,
		}).Debug("IPFP converged")
	}

	return res, nil
}
