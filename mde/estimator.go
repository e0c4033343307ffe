/*
Package mde estimates semilinear separable matching models by minimum
distance.

The joint surplus is linear in the parameters, Φ = Σk βk φk, for known
basis functions φ (an X×Y×K array), and the entropy gradient is either
known, e0(μ), or linear in unknown parameters, e0(μ) + Σk αk ek(μ).  In
equilibrium

	Φ + e0(μ) + e(μ)·α = 0

so the parameters solve a linear system in the observed matching.  The
estimator weights the XY moments with the inverse of their asymptotic
covariance, obtained from the multinomial variance of the observed
matching and the hessian of the entropy.  The weighted sum of squared
residuals is a specification test, χ² under the null.

When the market has no singles the margins are fixed and the moments
are double differenced first; see MakeD2Matrix.

Usage:

	rslt, err := mde.NewEstimator(mus, bases, entropy.ChooSiow).Fit()
*/
package mde

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/matchmodel/entropy"
	"github.com/kshedden/matchmodel/matching"
	"github.com/kshedden/matchmodel/statmodel"
)

var (
	// ErrNonIndependentBasis is returned when the double differenced
	// basis functions are not linearly independent.
	ErrNonIndependentBasis = errors.New("basis functions are not independent")

	// ErrNumericalSingularity is returned when a weighting matrix or
	// the normal equations cannot be inverted to working precision.
	ErrNumericalSingularity = errors.New("numerically singular matrix")
)

// Estimator is a minimum distance estimator of a semilinear matching
// model.  Create it with NewEstimator, configure it with the setter
// methods and call Fit.
type Estimator struct {

	// The observed matching
	mus *matching.Matching

	// The basis functions of the surplus
	bases *matching.Array3

	// The entropy of the model
	ent *entropy.Functions

	// Everyone is matched
	noSingles bool

	// Additional parameters passed to the entropy functions
	params []float64

	// Weighting matrix of the first pass, the identity if nil
	weighting mat.Symmetric

	// Names of the basis functions
	names []string

	// If not nil, write log messages here
	log logrus.FieldLogger
}

// NewEstimator returns an estimator of the coefficients of the basis
// functions, given the observed matching and the entropy of the model.
func NewEstimator(mus *matching.Matching, bases *matching.Array3, ent *entropy.Functions) *Estimator {
	return &Estimator{
		mus:   mus,
		bases: bases,
		ent:   ent,
	}
}

// NoSingles states whether the market has singles.  Without singles the
// moments are double differenced.
func (est *Estimator) NoSingles(ns bool) *Estimator {
	est.noSingles = ns
	return est
}

// AdditionalParameters sets the extra parameters passed to the entropy
// functions.
func (est *Estimator) AdditionalParameters(params []float64) *Estimator {
	est.params = params
	return est
}

// InitialWeighting sets the weighting matrix of the first pass for
// parameter dependent entropies.  The default is the identity.
func (est *Estimator) InitialWeighting(w mat.Symmetric) *Estimator {
	est.weighting = w
	return est
}

// BasisNames sets the names of the basis functions, used in the
// summary.  The default names are beta[0], beta[1], ...
func (est *Estimator) BasisNames(names []string) *Estimator {
	est.names = names
	return est
}

// Log sets a logger for diagnostic messages.
func (est *Estimator) Log(log logrus.FieldLogger) *Estimator {
	est.log = log
	return est
}

func (est *Estimator) check() error {

	if est.mus == nil {
		return errors.New("no matching")
	}
	if est.ent == nil || est.ent.E0 == nil {
		return errors.New("no entropy gradient")
	}
	if est.bases == nil {
		return errors.Wrap(matching.ErrShapeMismatch, "no basis functions")
	}
	if err := est.bases.Validate(); err != nil {
		return err
	}

	x, y := est.mus.Dims()
	if est.bases.X != x || est.bases.Y != y {
		return errors.Wrapf(matching.ErrShapeMismatch, "the bases should have shape (%d, %d, %d) not (%d, %d, %d)",
			x, y, est.bases.K, est.bases.X, est.bases.Y, est.bases.K)
	}
	if est.names != nil && len(est.names) != est.bases.K {
		return errors.Wrapf(matching.ErrShapeMismatch, "%d names for %d basis functions", len(est.names), est.bases.K)
	}
	if est.noSingles && (x < 2 || y < 2) {
		return errors.Wrapf(matching.ErrShapeMismatch, "cannot double difference a %d×%d market", x, y)
	}

	return nil
}

// reduce flattens an X×Y×K array into an XY×K matrix, and double
// differences it when the market has no singles.
func (est *Estimator) reduce(m mat.Matrix) (*mat.Dense, error) {
	if !est.noSingles {
		return mat.DenseCopyOf(m), nil
	}
	x, y := est.mus.Dims()
	return ApplyD2(m, x, y)
}

// Fit estimates the parameters.
func (est *Estimator) Fit() (*Results, error) {

	if err := est.check(); err != nil {
		return nil, err
	}

	x, y := est.mus.Dims()
	k := est.bases.K

	phiMat, err := est.reduce(matching.MakeXYKMat(est.bases))
	if err != nil {
		return nil, err
	}
	if est.noSingles {
		if err := CheckIndepNoSingles(phiMat, x, y); err != nil {
			return nil, err
		}
	}
	nmom, _ := phiMat.Dims()

	e0, err := est.ent.Gradient(est.mus, nil, est.params)
	if err != nil {
		return nil, err
	}
	e0Hat, err := est.reduce(mat.NewVecDense(x*y, matching.FlattenXY(e0)))
	if err != nil {
		return nil, err
	}

	rslt := &Results{
		X:             x,
		Y:             y,
		K:             k,
		NoSingles:     est.noSingles,
		Parameterized: est.ent.ParameterDependent(),
		Description:   est.ent.Description,
		NHouseholds:   est.mus.NHouseholds(),
	}

	var design *mat.Dense
	var alpha []float64
	var eHat *mat.Dense

	if !rslt.Parameterized {
		design = phiMat
	} else {
		e := est.ent.E(est.mus, est.params)
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.X != x || e.Y != y {
			return nil, errors.Wrapf(matching.ErrShapeMismatch, "E has shape (%d, %d, %d), the matching is %d×%d",
				e.X, e.Y, e.K, x, y)
		}
		rslt.NAlpha = e.K

		eHat, err = est.reduce(matching.MakeXYKMat(e))
		if err != nil {
			return nil, err
		}
		design = mat.NewDense(nmom, e.K+k, nil)
		design.Augment(eHat, phiMat)

		w := est.weighting
		if w == nil {
			if est.log != nil {
				est.log.Info("Using the identity matrix as weighting matrix in the first step")
			}
			w = identity(nmom)
		} else if w.SymmetricDim() != nmom {
			return nil, errors.Wrapf(matching.ErrShapeMismatch, "the initial weighting matrix has dimension %d, expected %d",
				w.SymmetricDim(), nmom)
		}

		first, _, err := computeEstimates(design, w, vecOf(e0Hat))
		if err != nil {
			return nil, errors.Wrap(err, "first stage")
		}
		rslt.FirstStage = first
		alpha = first[:e.K]
		if est.log != nil {
			est.log.WithField("estimates", first).Debug("First-stage estimates")
		}
	}

	hess, err := est.ent.Hessians(est.mus, alpha, est.params)
	if err != nil {
		return nil, err
	}
	if err := hess.Validate(); err != nil {
		return nil, err
	}
	hmat, err := est.reduce(hess.Dense())
	if err != nil {
		return nil, err
	}

	varMus := matching.VarianceMuHat(est.mus)
	s, err := efficientWeighting(hmat, varMus.MuNM())
	if err != nil {
		return nil, err
	}

	coef, vcov, err := computeEstimates(design, s, vecOf(e0Hat))
	if err != nil {
		return nil, err
	}

	beta := mat.NewVecDense(k, coef[rslt.NAlpha:])
	estPhi := mat.NewVecDense(nmom, nil)
	estPhi.MulVec(phiMat, beta)

	res := mat.NewVecDense(nmom, nil)
	res.AddVec(estPhi, vecOf(e0Hat))
	if rslt.Parameterized {
		ea := mat.NewVecDense(nmom, nil)
		ea.MulVec(eHat, mat.NewVecDense(rslt.NAlpha, coef[:rslt.NAlpha]))
		res.AddVec(res, ea)
	}

	rslt.TestStatistic = mat.Inner(res, s, res)
	rslt.NDF = nmom - len(coef)
	rslt.TestPValue = math.NaN()
	if rslt.NDF > 0 {
		rslt.TestPValue = distuv.ChiSquared{K: float64(rslt.NDF)}.Survival(rslt.TestStatistic)
	}
	rslt.Residuals = res.RawVector().Data

	if est.noSingles {
		rslt.EstimatedPhi = mat.NewDense(x-1, y-1, mat.Col(nil, 0, estPhi))
	} else {
		rslt.EstimatedPhi = mat.NewDense(x, y, mat.Col(nil, 0, estPhi))
	}

	p := len(coef)
	vc := make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			vc[i*p+j] = vcov.At(i, j)
		}
	}
	rslt.BaseResults = statmodel.NewBaseResults(rslt.TestStatistic, coef, est.paramNames(rslt.NAlpha), vc)

	if est.log != nil {
		est.log.WithFields(logrus.Fields{
			"statistic": rslt.TestStatistic,
			"ndf":       rslt.NDF,
			"pvalue":    rslt.TestPValue,
		}).Info("Minimum distance estimation done")
	}

	return rslt, nil
}

func (est *Estimator) paramNames(nalpha int) []string {

	var names []string
	for j := 0; j < nalpha; j++ {
		names = append(names, fmt.Sprintf("alpha[%d]", j))
	}
	if est.names != nil {
		return append(names, est.names...)
	}
	for j := 0; j < est.bases.K; j++ {
		names = append(names, fmt.Sprintf("beta[%d]", j))
	}

	return names
}

func identity(n int) *mat.DiagDense {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return mat.NewDiagDense(n, d)
}

// vecOf views a one column matrix as a vector.
func vecOf(m *mat.Dense) *mat.VecDense {
	return m.ColView(0).(*mat.VecDense)
}

// symmetrize returns (a + aᵀ)/2.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

// factorize returns the Cholesky factorization of a, or an error if a
// is not positive definite to working precision.
func factorize(a mat.Symmetric, what string) (*mat.Cholesky, error) {

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.Wrapf(ErrNumericalSingularity, "%s is not positive definite", what)
	}
	if c := chol.Cond(); c > mat.ConditionTolerance {
		return nil, errors.Wrapf(ErrNumericalSingularity, "%s has condition number %g", what, c)
	}

	return &chol, nil
}

// efficientWeighting returns the inverse of H V Hᵀ.
func efficientWeighting(h *mat.Dense, v mat.Symmetric) (*mat.SymDense, error) {

	var hv, omega mat.Dense
	hv.Mul(h, v)
	omega.Mul(&hv, h.T())

	chol, err := factorize(symmetrize(&omega), "the variance of the moments")
	if err != nil {
		return nil, err
	}

	var s mat.SymDense
	if err := chol.InverseTo(&s); err != nil {
		return nil, errors.Wrap(ErrNumericalSingularity, err.Error())
	}

	return &s, nil
}

// computeEstimates solves the weighted least squares problem
//
//	min (F c + e0)ᵀ S (F c + e0)
//
// and returns the solution and (Fᵀ S F)⁻¹.
func computeEstimates(f *mat.Dense, s mat.Symmetric, e0 mat.Vector) ([]float64, *mat.SymDense, error) {

	_, p := f.Dims()

	var sf, a mat.Dense
	sf.Mul(s, f)
	a.Mul(f.T(), &sf)

	chol, err := factorize(symmetrize(&a), "the normal equations matrix")
	if err != nil {
		return nil, nil, err
	}

	b := mat.NewVecDense(p, nil)
	b.MulVec(sf.T(), e0)

	coef := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(coef, b); err != nil {
		return nil, nil, errors.Wrap(ErrNumericalSingularity, err.Error())
	}
	coef.ScaleVec(-1, coef)

	var vcov mat.SymDense
	if err := chol.InverseTo(&vcov); err != nil {
		return nil, nil, errors.Wrap(ErrNumericalSingularity, err.Error())
	}

	return coef.RawVector().Data, &vcov, nil
}
