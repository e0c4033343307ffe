/*
Package entropy describes the entropy of a separable matching model.

The minimum distance estimator needs the derivative e(μ) of the
generalized entropy of the model with respect to the couples μxy, and
the derivatives of e with respect to (μxy, n, m).  A model provides e as
an X×Y function of the observed matching, E0.  When the entropy depends
linearly on unknown parameters α, the model also provides the X×Y×Kα
function E, and the gradient is E0 + Σk αk E[..., k].

The second derivatives are only needed in the compressed form described
by HessianMuMu and HessianMuR.  They are either provided analytically,
or computed by finite differences.
*/
package entropy

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

var (
	// ErrNoHessian is returned when the entropy has no way to
	// compute its second derivatives.
	ErrNoHessian = errors.New("entropy has no hessian")

	// ErrMissingDerivative is returned when an analytic hessian is
	// requested for a parameter dependent entropy, but the hessians
	// of E are not provided.
	ErrMissingDerivative = errors.New("missing derivative of the parameter dependent entropy")
)

// MatchingFunc returns an X×Y array computed from a matching.  The
// params argument carries additional distributional parameters and is
// nil when the model has none.
type MatchingFunc func(mus *matching.Matching, params []float64) *mat.Dense

// ParamMatchingFunc returns an X×Y×K array computed from a matching.
type ParamMatchingFunc func(mus *matching.Matching, params []float64) *matching.Array3

// Functions holds the entropy of a model.
type Functions struct {

	// A short description of the model, used in reports.
	Description string

	// The part of the entropy gradient that does not depend on α.
	E0 MatchingFunc

	// The parameter dependent part of the gradient, nil if the
	// entropy does not depend on unknown parameters.
	E ParamMatchingFunc

	// How to compute the hessians.
	Hessian HessianStrategy
}

// ParameterDependent returns true if the entropy has a component that
// is linear in unknown parameters.
func (f *Functions) ParameterDependent() bool {
	return f.E != nil
}

// Gradient returns E0 + Σk alpha[k] E[..., k] at mus.  If alpha is nil
// only E0 is evaluated.
func (f *Functions) Gradient(mus *matching.Matching, alpha, params []float64) (*mat.Dense, error) {

	g := mat.DenseCopyOf(f.E0(mus, params))
	x, y := mus.Dims()
	if r, c := g.Dims(); r != x || c != y {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "E0 is %d×%d, the matching is %d×%d", r, c, x, y)
	}
	if alpha == nil {
		return g, nil
	}
	if f.E == nil {
		return nil, errors.Wrap(ErrMissingDerivative, "alpha given for an entropy without E")
	}

	e := f.E(mus, params)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.X != x || e.Y != y || e.K != len(alpha) {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "E is %d×%d×%d, expected %d×%d×%d",
			e.X, e.Y, e.K, x, y, len(alpha))
	}
	for k, a := range alpha {
		g.Apply(func(i, j int, v float64) float64 {
			return v + a*e.At(i, j, k)
		}, g)
	}

	return g, nil
}

// Hessians returns the compressed hessian of the gradient returned by
// Gradient, with respect to (μxy, n, m) at mus.
func (f *Functions) Hessians(mus *matching.Matching, alpha, params []float64) (*Hessians, error) {
	if f.Hessian == nil {
		return nil, errors.Wrap(ErrNoHessian, f.Description)
	}
	return f.Hessian.Evaluate(f, mus, alpha, params)
}
