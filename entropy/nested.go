package entropy

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

type nestedLogit struct {
	x, y int

	// The men's nests over the types of women, and the women's nests
	// over the types of men.
	overY, overX *matching.Nests
}

// NestedLogit returns the entropy of the two-level nested logit model
// of an x×y market, in which the men choose among the nests nestsX of
// the women's types and the women among the nests nestsY of the men's
// types.  The parameters α are the nest parameters of the men followed
// by those of the women, and the gradient is e0 + Σk αk ek with
//
//	e0[x, y] = -log μx,n(y) - log μn(x),y + log μx0 + log μ0y
//	ek[x, y] = -log μxy + log μx,n(y)   if k is the men's nest of y
//	ek[x, y] = -log μxy + log μn(x),y   if k is the women's nest of x
//
// and zero otherwise.  Here μx,n(y) is the number of type x men married
// in the nest of y, and μn(x),y the number of type y women married in
// the nest of x.  A parameter whose nest is a single type does not
// enter the gradient and cannot be estimated.  The market must have
// singles.  The hessians are computed numerically.
func NestedLogit(x, y int, nestsX, nestsY [][]int) (*Functions, error) {

	if x < 1 || y < 1 {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "%d×%d market", x, y)
	}
	overY, err := matching.NewNests(nestsX, y)
	if err != nil {
		return nil, errors.Wrap(err, "nests of the men")
	}
	overX, err := matching.NewNests(nestsY, x)
	if err != nil {
		return nil, errors.Wrap(err, "nests of the women")
	}

	nl := &nestedLogit{x: x, y: y, overY: overY, overX: overX}

	return &Functions{
		Description: "Nested logit with numerical Hessian",
		E0:          nl.e0,
		E:           nl.e,
		Hessian:     NumericHessian{Step: DefaultStep},
	}, nil
}

// logTotals returns log μx,n(y) and log μn(x),y as x×y arrays.
func (nl *nestedLogit) logTotals(muxy *mat.Dense) (*mat.Dense, *mat.Dense) {

	rows := mat.NewDense(nl.x, nl.y, nil)
	for x := 0; x < nl.x; x++ {
		for _, nest := range nl.overY.Members {
			var s float64
			for _, y := range nest {
				s += muxy.At(x, y)
			}
			ls := math.Log(s)
			for _, y := range nest {
				rows.Set(x, y, ls)
			}
		}
	}

	cols := mat.NewDense(nl.x, nl.y, nil)
	for y := 0; y < nl.y; y++ {
		for _, nest := range nl.overX.Members {
			var s float64
			for _, x := range nest {
				s += muxy.At(x, y)
			}
			ls := math.Log(s)
			for _, x := range nest {
				cols.Set(x, y, ls)
			}
		}
	}

	return rows, cols
}

// fits reports whether the matching has the dimensions of the nests.
// Otherwise the gradients are returned with the nests' dimensions and
// the callers report the mismatch.
func (nl *nestedLogit) fits(mus *matching.Matching) bool {
	x, y := mus.Dims()
	return x == nl.x && y == nl.y
}

func (nl *nestedLogit) e0(mus *matching.Matching, _ []float64) *mat.Dense {

	e := mat.NewDense(nl.x, nl.y, nil)
	if !nl.fits(mus) {
		return e
	}

	muxy, mux0, mu0y, _, _ := mus.Unpack()
	rows, cols := nl.logTotals(muxy)
	e.Apply(func(x, y int, _ float64) float64 {
		return -rows.At(x, y) - cols.At(x, y) + math.Log(mux0[x]) + math.Log(mu0y[y])
	}, e)

	return e
}

func (nl *nestedLogit) e(mus *matching.Matching, _ []float64) *matching.Array3 {

	kx := nl.overY.Len()
	e := matching.NewArray3(nl.x, nl.y, kx+nl.overX.Len(), nil)
	if !nl.fits(mus) {
		return e
	}

	muxy := mus.Muxy()
	rows, cols := nl.logTotals(muxy)
	for x := 0; x < nl.x; x++ {
		for y := 0; y < nl.y; y++ {
			l := math.Log(muxy.At(x, y))
			e.Set(x, y, nl.overY.Of[y], -l+rows.At(x, y))
			e.Set(x, y, kx+nl.overX.Of[x], -l+cols.At(x, y))
		}
	}

	return e
}
