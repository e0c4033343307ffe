/*
Package poisson estimates the Choo and Siow model with singles by
Poisson pseudo-maximum likelihood.

Write a_x = log μx0 and b_y = log μ0y for the single proportions.  In
the Choo and Siow model

	log μxy = (a_x + b_y + Σk βk φk(x, y)) / 2

so the observed proportions of couples and singles are the mean of a
Poisson log-linear model with XY + X + Y observations and X + Y + K
coefficients.  The couple observations carry weight 2, which makes the
fitted margins equal the observed ones.  The variance of the estimates
is the sandwich built from the multinomial variance of the observed
matching.

Usage:

	rslt, err := poisson.NewModel(mus, bases).Fit()
*/
package poisson

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/kshedden/matchmodel/matching"
	"github.com/kshedden/matchmodel/statmodel"
)

var (
	// ErrNoSingles is returned for a market without singles, where
	// the single proportions are not available.
	ErrNoSingles = errors.New("the Poisson estimator needs singles")

	// ErrNonConvergence is returned when IRLS reaches the maximum
	// number of iterations.
	ErrNonConvergence = errors.New("IRLS did not converge")

	// ErrSingular is returned when the weighted normal equations
	// cannot be solved.
	ErrSingular = errors.New("singular information matrix")
)

// Method selects the fitting algorithm.
type Method int

const (
	// IRLS is iteratively reweighted least squares.
	IRLS Method = iota

	// BFGS maximizes the pseudo log-likelihood with gonum's BFGS.
	BFGS
)

func (m Method) String() string {
	switch m {
	case IRLS:
		return "IRLS"
	case BFGS:
		return "BFGS"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Model is a Poisson pseudo-likelihood model of an observed matching.
type Model struct {

	// The observed matching
	mus *matching.Matching

	// The basis functions of the surplus
	bases *matching.Array3

	// Names of the basis functions
	names []string

	method Method

	// IRLS stops when no coefficient changes by more than tol
	tol float64

	maxIter int

	// BFGS settings, if nil the optimization stops when the gradient
	// norm is below 1e-8
	settings *optimize.Settings

	// If not nil, write log messages here
	log logrus.FieldLogger
}

// NewModel returns a Poisson model for the coefficients of the basis
// functions.
func NewModel(mus *matching.Matching, bases *matching.Array3) *Model {
	return &Model{
		mus:     mus,
		bases:   bases,
		tol:     1e-10,
		maxIter: 100,
	}
}

// Method sets the fitting algorithm, IRLS by default.
func (model *Model) Method(m Method) *Model {
	model.method = m
	return model
}

// Tol sets the convergence tolerance of IRLS.
func (model *Model) Tol(tol float64) *Model {
	model.tol = tol
	return model
}

// MaxIter sets the maximum number of iterations.
func (model *Model) MaxIter(n int) *Model {
	model.maxIter = n
	return model
}

// OptSettings sets the settings of the BFGS optimizer.
func (model *Model) OptSettings(s *optimize.Settings) *Model {
	model.settings = s
	return model
}

// BasisNames sets the names of the basis functions.
func (model *Model) BasisNames(names []string) *Model {
	model.names = names
	return model
}

// Log sets a logger for diagnostic messages.
func (model *Model) Log(log logrus.FieldLogger) *Model {
	model.log = log
	return model
}

// problem holds the data of the log-linear model.
type problem struct {

	// Design matrix, (XY+X+Y)×(X+Y+K)
	z *mat.Dense

	// Observed proportions
	y []float64

	// Prior weights
	w []float64
}

func (model *Model) check() error {

	if model.mus == nil {
		return errors.New("no matching")
	}
	if model.mus.NoSingles() {
		return ErrNoSingles
	}
	if model.bases == nil {
		return errors.Wrap(matching.ErrShapeMismatch, "no basis functions")
	}
	if err := model.bases.Validate(); err != nil {
		return err
	}

	x, y := model.mus.Dims()
	if model.bases.X != x || model.bases.Y != y {
		return errors.Wrapf(matching.ErrShapeMismatch, "the bases should have shape (%d, %d, %d) not (%d, %d, %d)",
			x, y, model.bases.K, model.bases.X, model.bases.Y, model.bases.K)
	}
	if model.names != nil && len(model.names) != model.bases.K {
		return errors.Wrapf(matching.ErrShapeMismatch, "%d names for %d basis functions", len(model.names), model.bases.K)
	}

	return nil
}

// setup builds the design matrix, the proportions and the weights.
func (model *Model) setup() *problem {

	x, y := model.mus.Dims()
	k := model.bases.K
	nh := model.mus.NHouseholds()

	nobs := x*y + x + y
	z := mat.NewDense(nobs, x+y+k, nil)
	obs := make([]float64, nobs)
	w := make([]float64, nobs)

	i := 0
	for ix := 0; ix < x; ix++ {
		for iy := 0; iy < y; iy++ {
			z.Set(i, ix, 0.5)
			z.Set(i, x+iy, 0.5)
			for l := 0; l < k; l++ {
				z.Set(i, x+y+l, model.bases.At(ix, iy, l)/2)
			}
			obs[i] = model.mus.MuxyAt(ix, iy) / nh
			w[i] = 2
			i++
		}
	}
	for ix, v := range model.mus.Mux0() {
		z.Set(i, ix, 1)
		obs[i] = v / nh
		w[i] = 1
		i++
	}
	for iy, v := range model.mus.Mu0y() {
		z.Set(i, x+iy, 1)
		obs[i] = v / nh
		w[i] = 1
		i++
	}

	return &problem{z: z, y: obs, w: w}
}

// start returns the log single proportions, floored to avoid log(0),
// and zero coefficients.
func (pr *problem) start(x, y int) []float64 {

	nobs, p := pr.z.Dims()
	params := make([]float64, p)
	floor := 0.5 / float64(nobs)
	for j := 0; j < x+y; j++ {
		params[j] = math.Log(math.Max(pr.y[nobs-x-y+j], floor))
	}

	return params
}

// mean returns exp(Z θ).
func (pr *problem) mean(params []float64, mn []float64) {
	lp := mat.NewVecDense(len(mn), mn)
	lp.MulVec(pr.z, mat.NewVecDense(len(params), params))
	for i := range mn {
		mn[i] = math.Exp(mn[i])
	}
}

// logLike returns the pseudo log-likelihood Σ w (y log μ - μ).
func (pr *problem) logLike(mn []float64) float64 {
	var ll float64
	for i, y := range pr.y {
		ll += pr.w[i] * (y*math.Log(mn[i]) - mn[i])
	}
	return ll
}

// deviance returns 2 Σ w (y log(y/μ) - (y - μ)).
func (pr *problem) deviance(mn []float64) float64 {
	var dev float64
	for i, y := range pr.y {
		if y > 0 {
			dev += 2 * pr.w[i] * y * math.Log(y/mn[i])
		}
		dev -= 2 * pr.w[i] * (y - mn[i])
	}
	return dev
}

// score returns Zᵀ W (y - μ).
func (pr *problem) score(mn []float64, grad []float64) {
	r := make([]float64, len(mn))
	for i := range r {
		r[i] = pr.w[i] * (pr.y[i] - mn[i])
	}
	g := mat.NewVecDense(len(grad), grad)
	g.MulVec(pr.z.T(), mat.NewVecDense(len(r), r))
}

// information returns Zᵀ diag(w μ) Z.
func (pr *problem) information(mn []float64) *mat.SymDense {

	_, p := pr.z.Dims()
	info := mat.NewSymDense(p, nil)
	row := make([]float64, p)
	for i := range mn {
		mat.Row(row, i, pr.z)
		info.SymRankOne(info, pr.w[i]*mn[i], mat.NewVecDense(p, row))
	}

	return info
}

// Fit estimates the model.
func (model *Model) Fit() (*Results, error) {

	if err := model.check(); err != nil {
		return nil, err
	}

	x, y := model.mus.Dims()
	k := model.bases.K
	pr := model.setup()

	var params []float64
	var iter int
	var err error
	switch model.method {
	case IRLS:
		params, iter, err = model.fitIRLS(pr, pr.start(x, y))
	case BFGS:
		params, iter, err = model.fitBFGS(pr, pr.start(x, y))
	default:
		err = errors.Errorf("unknown method %v", model.method)
	}
	if err != nil {
		return nil, err
	}

	mn := make([]float64, len(pr.y))
	pr.mean(params, mn)

	vcov, err := pr.sandwich(mn, model.mus)
	if err != nil {
		return nil, err
	}

	rslt := &Results{
		X:           x,
		Y:           y,
		K:           k,
		NHouseholds: model.mus.NHouseholds(),
		Method:      model.method,
		Iterations:  iter,
		Deviance:    pr.deviance(mn),
		U:           make([]float64, x),
		V:           make([]float64, y),
	}

	// u_x = -log(μx0/n_x) and v_y = -log(μ0y/m_y), with the fitted
	// singles and the observed margins.
	nh := rslt.NHouseholds
	for ix, n := range model.mus.N() {
		rslt.U[ix] = math.Log(n/nh) - params[ix]
	}
	for iy, m := range model.mus.M() {
		rslt.V[iy] = math.Log(m/nh) - params[x+iy]
	}

	beta := params[x+y:]
	vc := make([]float64, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			vc[i*k+j] = vcov.At(x+y+i, x+y+j)
		}
	}
	rslt.BaseResults = statmodel.NewBaseResults(pr.logLike(mn), beta, model.paramNames(), vc)

	if model.log != nil {
		model.log.WithFields(logrus.Fields{
			"method":     model.method.String(),
			"iterations": iter,
			"deviance":   rslt.Deviance,
		}).Info("Poisson estimation done")
	}

	return rslt, nil
}

func (model *Model) paramNames() []string {
	if model.names != nil {
		return model.names
	}
	var names []string
	for j := 0; j < model.bases.K; j++ {
		names = append(names, fmt.Sprintf("beta[%d]", j))
	}
	return names
}

// sandwich returns A⁻¹ B A⁻¹ where A is the information and B the
// variance of the score, Zᵀ W Var(y) W Z.
func (pr *problem) sandwich(mn []float64, mus *matching.Matching) (*mat.SymDense, error) {

	var chol mat.Cholesky
	if ok := chol.Factorize(pr.information(mn)); !ok {
		return nil, errors.Wrap(ErrSingular, "information is not positive definite")
	}
	var ainv mat.SymDense
	if err := chol.InverseTo(&ainv); err != nil {
		return nil, errors.Wrap(ErrSingular, err.Error())
	}

	nh := mus.NHouseholds()
	vy := matching.VarianceMuHat(mus).Divide(nh * nh).AllMus()

	wz := mat.DenseCopyOf(pr.z)
	for i, w := range pr.w {
		row := wz.RawRowView(i)
		floats.Scale(w, row)
	}

	var vwz, b, ab, sw mat.Dense
	vwz.Mul(vy, wz)
	b.Mul(wz.T(), &vwz)
	ab.Mul(&ainv, &b)
	sw.Mul(&ab, &ainv)

	p, _ := sw.Dims()
	vcov := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			vcov.SetSym(i, j, (sw.At(i, j)+sw.At(j, i))/2)
		}
	}

	return vcov, nil
}
