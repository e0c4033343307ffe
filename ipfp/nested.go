package ipfp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

// NestedLogit solves for the equilibrium of a two-level nested logit
// market.  Each man chooses between singlehood and the nests of
// nestsX, which partition the types of women (nestsX[k] lists the
// women's types in nest k).  Similarly each woman chooses between
// singlehood and the nests of nestsY over the types of men.  The
// first len(nestsX) alphas are the nest parameters of the men, the
// others those of the women.  With ρ the men's parameter of the nest
// of y and δ the women's parameter of the nest of x,
//
//	(ρ+δ) log μxy + (1-ρ) log μx,n(y) + (1-δ) log μn(x),y = Φxy + log μx0 + log μ0y
//
// where μx,n(y) sums μxy' over the women's types in the nest of y and
// μn(x),y sums μx'y over the men's types in the nest of x.  All alphas
// equal to one give the Choo and Siow model.
//
// The margins must be positive and the surplus finite.  Nests that do
// not partition the types fail with matching.ErrInvalidNests.
func NestedLogit(phi mat.Matrix, n, m []float64, nestsX, nestsY [][]int, alphas []float64, s *Settings) (*Result, error) {

	if err := checkInputs(phi, n, m); err != nil {
		return nil, err
	}
	nx, ny := phi.Dims()
	for _, marg := range [][]float64{n, m} {
		for i, v := range marg {
			if v == 0 {
				return nil, errors.Wrapf(ErrInvalidMargins, "margin %d is zero", i)
			}
		}
	}
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			if math.IsInf(phi.At(x, y), -1) {
				return nil, errors.Wrapf(ErrInvalidSurplus, "phi[%d, %d] is -Inf", x, y)
			}
		}
	}

	overY, err := matching.NewNests(nestsX, ny)
	if err != nil {
		return nil, errors.Wrap(err, "nests of the men")
	}
	overX, err := matching.NewNests(nestsY, nx)
	if err != nil {
		return nil, errors.Wrap(err, "nests of the women")
	}
	if len(alphas) != len(nestsX)+len(nestsY) {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "%d alphas for %d and %d nests",
			len(alphas), len(nestsX), len(nestsY))
	}
	for k, a := range alphas {
		if !(a > 0) || math.IsInf(a, 1) {
			return nil, errors.Wrapf(ErrInvalidScale, "alpha %d is %g", k, a)
		}
	}
	rho, delta := alphas[:len(nestsX)], alphas[len(nestsX):]

	s = s.withDefaults()
	ph := mat.DenseCopyOf(phi)
	atol := tolerance(s.Tol, n, m)

	// Log of the couples.  The starting point only enters through the
	// nest totals of the first sweep.
	lmu := mat.NewDense(nx, ny, nil)
	lmu.Apply(func(x, y int, _ float64) float64 {
		return math.Log(math.Min(n[x], m[y]) / float64(nx+ny))
	}, lmu)

	u := make([]float64, nx)
	v := logs(m)
	for y := range v {
		v[y] -= math.Ln2
	}

	// Log nest totals of the women, lb[k][y], and of the men, la[x][k].
	lb := make([][]float64, len(nestsY))
	for k := range lb {
		lb[k] = make([]float64, ny)
	}
	la := make([][]float64, nx)
	for x := range la {
		la[x] = make([]float64, len(nestsX))
	}

	mxn := len(nestsX)
	if len(nestsY) > mxn {
		mxn = len(nestsY)
	}
	c := make([]float64, mxn)
	a := make([]float64, mxn)
	ls := make([]float64, mxn)
	work := make([]float64, nx+ny+1)

	res := &Result{U: u, V: v}
	var muxy *mat.Dense
	var mux0, mu0y []float64
	for iter := 1; iter <= s.MaxIter; iter++ {

		// The men's side, holding the women's nest totals fixed.
		for k, nest := range nestsY {
			for y := 0; y < ny; y++ {
				w := work[:len(nest)]
				for i, x := range nest {
					w[i] = lmu.At(x, y)
				}
				lb[k][y] = floats.LogSumExp(w)
			}
		}
		for x := 0; x < nx; x++ {
			dx := delta[overX.Of[x]]
			for k, nest := range nestsX {
				st := rho[k] + dx
				w := work[:len(nest)]
				for i, y := range nest {
					w[i] = (ph.At(x, y) - (1-dx)*lb[overX.Of[x]][y] + v[y]) / st
				}
				ls[k] = floats.LogSumExp(w)
				c[k] = st * ls[k] / (1 + dx)
				a[k] = 1 / (1 + dx)
			}
			u[x] = solveLog(n[x], c[:len(nestsX)], a[:len(nestsX)], work)
			for k, nest := range nestsX {
				st := rho[k] + dx
				lnest := (st*ls[k] + u[x]) / (1 + dx)
				for _, y := range nest {
					lk := (ph.At(x, y) - (1-dx)*lb[overX.Of[x]][y] + v[y]) / st
					lmu.Set(x, y, lk+(u[x]-(1-rho[k])*lnest)/st)
				}
			}
		}

		// The women's side, holding the men's nest totals fixed.
		for x := 0; x < nx; x++ {
			for k, nest := range nestsX {
				w := work[:len(nest)]
				for i, y := range nest {
					w[i] = lmu.At(x, y)
				}
				la[x][k] = floats.LogSumExp(w)
			}
		}
		for y := 0; y < ny; y++ {
			ry := rho[overY.Of[y]]
			for k, nest := range nestsY {
				st := ry + delta[k]
				w := work[:len(nest)]
				for i, x := range nest {
					w[i] = (ph.At(x, y) - (1-ry)*la[x][overY.Of[y]] + u[x]) / st
				}
				ls[k] = floats.LogSumExp(w)
				c[k] = st * ls[k] / (1 + ry)
				a[k] = 1 / (1 + ry)
			}
			v[y] = solveLog(m[y], c[:len(nestsY)], a[:len(nestsY)], work)
			for k, nest := range nestsY {
				st := ry + delta[k]
				lnest := (st*ls[k] + v[y]) / (1 + ry)
				for _, x := range nest {
					lk := (ph.At(x, y) - (1-ry)*la[x][overY.Of[y]] + u[x]) / st
					lmu.Set(x, y, lk+(v[y]-(1-delta[k])*lnest)/st)
				}
			}
		}

		muxy = mat.NewDense(nx, ny, nil)
		muxy.Apply(func(_, _ int, l float64) float64 {
			return math.Exp(l)
		}, lmu)
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

	return finish("nested-logit", s, res, atol)
}
