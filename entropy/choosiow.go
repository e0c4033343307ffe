package entropy

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

// ChooSiow is the entropy of the homoskedastic Choo and Siow model,
// e0[x, y] = -2 log μxy + log μx0 + log μ0y, with analytic hessians.
var ChooSiow = &Functions{
	Description: "Choo-Siow homoskedastic with analytic Hessian",
	E0:          chooSiowE0,
	Hessian:     AnalyticHessian{E0: chooSiowHessians},
}

// ChooSiowNumeric is ChooSiow with numeric hessians.
var ChooSiowNumeric = &Functions{
	Description: "Choo-Siow homoskedastic with numerical Hessian",
	E0:          chooSiowE0,
	Hessian:     NumericHessian{Step: DefaultStep},
}

// ChooSiowNoSingles is the entropy of the Choo and Siow model when
// everyone must be matched, e0[x, y] = -2 log μxy.  The terms in ux
// and vy are removed by double differencing.
var ChooSiowNoSingles = &Functions{
	Description: "Choo-Siow homoskedastic without singles, with analytic Hessian",
	E0:          chooSiowNoSinglesE0,
	Hessian:     AnalyticHessian{E0: chooSiowNoSinglesHessians},
}

// ChooSiowNoSinglesNumeric is ChooSiowNoSingles with numeric hessians.
var ChooSiowNoSinglesNumeric = &Functions{
	Description: "Choo-Siow homoskedastic without singles, with numerical Hessian",
	E0:          chooSiowNoSinglesE0,
	Hessian:     NumericHessian{Step: DefaultStep},
}

// ChooSiowGenderHeteroskedastic is the entropy of the Choo and Siow
// model in which the taste shocks of the women have scale τ relative to
// those of the men.  The gradient is e0 + τ e with
//
//	e0[x, y] = -log μxy + log μx0
//	e[x, y]  = -log μxy + log μ0y
//
// so the single parameter α is τ.
var ChooSiowGenderHeteroskedastic = &Functions{
	Description: "Choo-Siow gender-heteroskedastic with analytic Hessian",
	E0:          genderE0,
	E:           genderE,
	Hessian:     AnalyticHessian{E0: genderE0Hessians, E: genderEHessians},
}

// ChooSiowGenderHeteroskedasticNumeric is ChooSiowGenderHeteroskedastic
// with numeric hessians.
var ChooSiowGenderHeteroskedasticNumeric = &Functions{
	Description: "Choo-Siow gender-heteroskedastic with numerical Hessian",
	E0:          genderE0,
	E:           genderE,
	Hessian:     NumericHessian{Step: DefaultStep},
}

// cells applies f to every (x, y) cell of the matching.
func cells(mus *matching.Matching, f func(muxy, mux0, mu0y float64) float64) *mat.Dense {

	muxy, mux0, mu0y, _, _ := mus.Unpack()
	x, y := muxy.Dims()
	e := mat.NewDense(x, y, nil)
	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			e.Set(i, j, f(muxy.At(i, j), mux0[i], mu0y[j]))
		}
	}

	return e
}

func chooSiowE0(mus *matching.Matching, _ []float64) *mat.Dense {
	return cells(mus, func(muxy, mux0, mu0y float64) float64 {
		return -2*math.Log(muxy) + math.Log(mux0) + math.Log(mu0y)
	})
}

func chooSiowNoSinglesE0(mus *matching.Matching, _ []float64) *mat.Dense {
	return cells(mus, func(muxy, _, _ float64) float64 {
		return -2 * math.Log(muxy)
	})
}

func genderE0(mus *matching.Matching, _ []float64) *mat.Dense {
	return cells(mus, func(muxy, mux0, _ float64) float64 {
		return -math.Log(muxy) + math.Log(mux0)
	})
}

func genderE(mus *matching.Matching, _ []float64) *matching.Array3 {
	e := cells(mus, func(muxy, _, mu0y float64) float64 {
		return -math.Log(muxy) + math.Log(mu0y)
	})
	x, y := e.Dims()
	return matching.NewArray3(x, y, 1, matching.FlattenXY(e))
}

// separable fills the hessians of a gradient of the form
//
//	a log μxy + b log μx0 + c log μ0y
//
// where the singles are derived from the margins.
func separable(mus *matching.Matching, a, b, c float64) *Hessians {

	muxy, mux0, mu0y, _, _ := mus.Unpack()
	x, y := muxy.Dims()
	h := NewHessians(x, y)

	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			var bx, cy float64
			if b != 0 {
				bx = b / mux0[i]
			}
			if c != 0 {
				cy = c / mu0y[j]
			}
			for t := 0; t < y; t++ {
				h.MuMu.HessX.Set(i, j, t, -bx)
			}
			for z := 0; z < x; z++ {
				h.MuMu.HessY.Set(i, j, z, -cy)
			}
			h.MuMu.HessXY.Set(i, j, a/muxy.At(i, j)-bx-cy)
			h.MuR.HessNX.Set(i, j, bx)
			h.MuR.HessMY.Set(i, j, cy)
		}
	}

	return h
}

func chooSiowHessians(mus *matching.Matching, _ []float64) *Hessians {
	return separable(mus, -2, 1, 1)
}

func chooSiowNoSinglesHessians(mus *matching.Matching, _ []float64) *Hessians {
	return separable(mus, -2, 0, 0)
}

func genderE0Hessians(mus *matching.Matching, _ []float64) *Hessians {
	return separable(mus, -1, 1, 0)
}

func genderEHessians(mus *matching.Matching, _ []float64) []*Hessians {
	return []*Hessians{separable(mus, -1, 0, 1)}
}
