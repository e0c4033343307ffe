package ipfp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

// HomoskedasticNoSingles solves for the equilibrium of a Choo and Siow
// market in which everyone must be matched.  The totals of n and m must
// agree.  The couples are μxy = exp(Φxy/2 + Ux + Vy).
func HomoskedasticNoSingles(phi mat.Matrix, n, m []float64, s *Settings) (*Result, error) {

	if err := checkInputs(phi, n, m); err != nil {
		return nil, err
	}
	tn, tm := floats.Sum(n), floats.Sum(m)
	if math.Abs(tn-tm) > 1e-9*math.Max(1, math.Max(tn, tm)) {
		return nil, errors.Wrapf(ErrInvalidMargins, "%g men but %g women in a market without singles", tn, tm)
	}

	s = s.withDefaults()
	nx, ny := phi.Dims()
	half := mat.NewDense(nx, ny, nil)
	half.Scale(0.5, phi)
	if err := matchable(half, n, m); err != nil {
		return nil, err
	}

	ln, lm := logs(n), logs(m)
	u := make([]float64, nx)
	v := make([]float64, ny)
	work := make([]float64, nx+ny)
	atol := tolerance(s.Tol, n, m)
	zx, zy := make([]float64, nx), make([]float64, ny)

	res := &Result{U: u, V: v}
	var muxy *mat.Dense
	for iter := 1; iter <= s.MaxIter; iter++ {

		for x := 0; x < nx; x++ {
			w := work[:ny]
			for y := range w {
				w[y] = half.At(x, y) + v[y]
			}
			u[x] = scaling(ln[x], floats.LogSumExp(w))
		}

		for y := 0; y < ny; y++ {
			w := work[:nx]
			for x := range w {
				w[x] = half.At(x, y) + u[x]
			}
			v[y] = scaling(lm[y], floats.LogSumExp(w))
		}

		muxy = mat.NewDense(nx, ny, nil)
		muxy.Apply(func(x, y int, h float64) float64 {
			return math.Exp(h + u[x] + v[y])
		}, half)

		res.Iterations = iter
		res.MarginErrX, res.MarginErrY, res.MaxViolation = violations(muxy, zx, zy, n, m)
		if s.Log != nil {
			s.Log.Debugf("Iteration %d: margin violation=%g", iter, res.MaxViolation)
		}
		if res.MaxViolation <= atol {
			break
		}
	}

	mus, err := matching.NewNoSingles(muxy)
	if err != nil {
		return nil, err
	}
	res.Matching = mus

	return finish("homoskedastic-no-singles", s, res, atol)
}

// scaling returns the log scaling factor ln - lse of a type with ln
// the log of its number and lse the log of its unscaled matches.  A type
// with nobody in it has no matches, even if it cannot match anyone.
func scaling(ln, lse float64) float64 {
	if math.IsInf(ln, -1) {
		return ln
	}
	return ln - lse
}

// matchable checks that every non-empty type has a partner of a
// non-empty type with a finite surplus, as required without singles.
func matchable(phi *mat.Dense, n, m []float64) error {

	nx, ny := phi.Dims()
	for x := 0; x < nx; x++ {
		if n[x] == 0 {
			continue
		}
		ok := false
		for y := 0; y < ny && !ok; y++ {
			ok = m[y] > 0 && !math.IsInf(phi.At(x, y), -1)
		}
		if !ok {
			return errors.Wrapf(ErrInvalidSurplus, "the men of type %d cannot match", x)
		}
	}
	for y := 0; y < ny; y++ {
		if m[y] == 0 {
			continue
		}
		ok := false
		for x := 0; x < nx && !ok; x++ {
			ok = n[x] > 0 && !math.IsInf(phi.At(x, y), -1)
		}
		if !ok {
			return errors.Wrapf(ErrInvalidSurplus, "the women of type %d cannot match", y)
		}
	}

	return nil
}

// logQuadRoot returns the logarithm of the positive root of
// r² + exp(ls) r - t = 0.
func logQuadRoot(ls, t float64) float64 {

	switch {
	case t == 0:
		return math.Inf(-1)
	case math.IsInf(ls, -1):
		return 0.5 * math.Log(t)
	}

	// r = 2t / (s + sqrt(s² + 4t)), written so that neither a large nor
	// a small s overflows.
	q := math.Log(4*t) - 2*ls
	var l float64
	if q > 600 {
		l = q / 2
	} else {
		l = math.Log1p(math.Sqrt(1 + math.Exp(q)))
	}

	return math.Log(2*t) - ls - l
}

// Homoskedastic solves for the equilibrium of a Choo and Siow market
// with singles, 2 log μxy = Φxy + log μx0 + log μ0y.
func Homoskedastic(phi mat.Matrix, n, m []float64, s *Settings) (*Result, error) {

	if err := checkInputs(phi, n, m); err != nil {
		return nil, err
	}

	s = s.withDefaults()
	nx, ny := phi.Dims()
	half := mat.NewDense(nx, ny, nil)
	half.Scale(0.5, phi)

	u := make([]float64, nx)
	v := logs(m)
	for y := range v {
		v[y] -= math.Ln2
	}
	work := make([]float64, nx+ny)
	atol := tolerance(s.Tol, n, m)

	res := &Result{U: u, V: v}
	var muxy *mat.Dense
	var mux0, mu0y []float64
	for iter := 1; iter <= s.MaxIter; iter++ {

		// sqrt(μx0) solves r² + r Σy exp(Φxy/2) sqrt(μ0y) = nx
		for x := 0; x < nx; x++ {
			w := work[:ny]
			for y := range w {
				w[y] = half.At(x, y) + v[y]/2
			}
			u[x] = 2 * logQuadRoot(floats.LogSumExp(w), n[x])
		}

		for y := 0; y < ny; y++ {
			w := work[:nx]
			for x := range w {
				w[x] = half.At(x, y) + u[x]/2
			}
			v[y] = 2 * logQuadRoot(floats.LogSumExp(w), m[y])
		}

		muxy = mat.NewDense(nx, ny, nil)
		muxy.Apply(func(x, y int, h float64) float64 {
			return math.Exp(h + (u[x]+v[y])/2)
		}, half)
		mux0, mu0y = exps(u), exps(v)

		res.Iterations = iter
		res.MarginErrX, res.MarginErrY, res.MaxViolation = violations(muxy, mux0, mu0y, n, m)
		if s.Log != nil {
			s.Log.Debugf("Iteration %d: margin violation=%g", iter, res.MaxViolation)
		}
		if res.MaxViolation <= atol {
			break
		}
	}

	mus, err := matching.FromSingles(muxy, mux0, mu0y)
	if err != nil {
		return nil, err
	}
	res.Matching = mus

	return finish("homoskedastic", s, res, atol)
}

// GenderHeteroskedastic solves for the equilibrium of a market in
// which the taste shocks of the women are scaled by tau relative to
// those of the men: (1+τ) log μxy = Φxy + log μx0 + τ log μ0y.
func GenderHeteroskedastic(phi mat.Matrix, n, m []float64, tau float64, s *Settings) (*Result, error) {

	if !(tau > 0) || math.IsInf(tau, 1) {
		return nil, errors.Wrapf(ErrInvalidScale, "tau = %g", tau)
	}
	if err := checkInputs(phi, n, m); err != nil {
		return nil, err
	}

	nx, ny := phi.Dims()
	sigma := make([]float64, nx)
	taus := make([]float64, ny)
	for x := range sigma {
		sigma[x] = 1
	}
	for y := range taus {
		taus[y] = tau
	}

	return heteroskedastic("gender-heteroskedastic", phi, n, m, sigma, taus, s)
}

// Heteroskedastic solves for the equilibrium of a market in which the
// taste shocks of type x men are scaled by sigmaX[x] and those of type
// y women by tauY[y]:
//
//	(σx+τy) log μxy = Φxy + σx log μx0 + τy log μ0y.
//
// The scale parameters are only identified up to a common factor;
// callers usually fix sigmaX[0] = 1.
func Heteroskedastic(phi mat.Matrix, n, m, sigmaX, tauY []float64, s *Settings) (*Result, error) {

	if err := checkInputs(phi, n, m); err != nil {
		return nil, err
	}
	nx, ny := phi.Dims()
	if len(sigmaX) != nx || len(tauY) != ny {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "phi is %d×%d but sigmaX has %d and tauY has %d elements",
			nx, ny, len(sigmaX), len(tauY))
	}
	for _, sc := range [][]float64{sigmaX, tauY} {
		for i, v := range sc {
			if !(v > 0) || math.IsInf(v, 1) {
				return nil, errors.Wrapf(ErrInvalidScale, "scale parameter %d is %g", i, v)
			}
		}
	}

	return heteroskedastic("heteroskedastic", phi, n, m, sigmaX, tauY, s)
}

// solveLog returns the w that solves e^w + Σj exp(c[j] + a[j] w) = t,
// for positive slopes a.  Newton steps are taken on the logarithm of
// the left hand side, which is convex and increasing in w; started at
// w = log t they decrease monotonically to the root.
func solveLog(t float64, c, a, work []float64) float64 {

	if t == 0 {
		return math.Inf(-1)
	}

	lt := math.Log(t)
	w := lt
	z := work[:len(c)+1]
	for iter := 0; iter < 100; iter++ {

		z[0] = w
		for j := range c {
			z[j+1] = c[j] + a[j]*w
		}
		mx := floats.Max(z)

		// s is the sum of exponentials and ds its derivative, both
		// scaled by exp(-mx).
		s := math.Exp(z[0] - mx)
		ds := s
		for j := range c {
			e := math.Exp(z[j+1] - mx)
			s += e
			ds += a[j] * e
		}

		h := math.Log(s) + mx - lt
		if h <= 0 {
			break
		}
		step := h * s / ds
		w -= step
		if step <= 1e-15*(1+math.Abs(w)) {
			break
		}
	}

	return w
}

func heteroskedastic(name string, phi mat.Matrix, n, m, sigma, tau []float64, s *Settings) (*Result, error) {

	s = s.withDefaults()
	nx, ny := phi.Dims()
	ph := mat.DenseCopyOf(phi)

	u := make([]float64, nx)
	v := logs(m)
	for y := range v {
		v[y] -= math.Ln2
	}

	c := make([]float64, nx+ny)
	a := make([]float64, nx+ny)
	work := make([]float64, nx+ny+1)
	atol := tolerance(s.Tol, n, m)

	res := &Result{U: u, V: v}
	var muxy *mat.Dense
	var mux0, mu0y []float64
	for iter := 1; iter <= s.MaxIter; iter++ {

		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				st := sigma[x] + tau[y]
				c[y] = (ph.At(x, y) + tau[y]*v[y]) / st
				a[y] = sigma[x] / st
			}
			u[x] = solveLog(n[x], c[:ny], a[:ny], work)
		}

		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				st := sigma[x] + tau[y]
				c[x] = (ph.At(x, y) + sigma[x]*u[x]) / st
				a[x] = tau[y] / st
			}
			v[y] = solveLog(m[y], c[:nx], a[:nx], work)
		}

		muxy = mat.NewDense(nx, ny, nil)
		muxy.Apply(func(x, y int, p float64) float64 {
			return math.Exp((p + sigma[x]*u[x] + tau[y]*v[y]) / (sigma[x] + tau[y]))
		}, ph)
		mux0, mu0y = exps(u), exps(v)

		res.Iterations = iter
		res.MarginErrX, res.MarginErrY, res.MaxViolation = violations(muxy, mux0, mu0y, n, m)
		if s.Log != nil {
			s.Log.Debugf("Iteration %d: margin violation=%g", iter, res.MaxViolation)
		}
		if res.MaxViolation <= atol {
			break
		}
	}

	mus, err := matching.FromSingles(muxy, mux0, mu0y)
	if err != nil {
		return nil, err
	}
	res.Matching = mus

	return finish(name, s, res, atol)
}
