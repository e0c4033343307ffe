package entropy

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

// DefaultStep is the relative finite difference step of NumericHessian.
const DefaultStep = 1e-6

// HessianMuMu holds the non-zero second derivatives of the entropy
// gradient with respect to the couples.  In a separable model the
// gradient at (x, y) only depends on the couples in row x and in
// column y:
//
//	HessX[x, y, t]  derivative with respect to μxt
//	HessY[x, y, z]  derivative with respect to μzy
//	HessXY[x, y]    derivative with respect to μxy
type HessianMuMu struct {
	HessX  *matching.Array3
	HessY  *matching.Array3
	HessXY *mat.Dense
}

// HessianMuR holds the derivatives of the entropy gradient at (x, y)
// with respect to nx (HessNX) and my (HessMY).
type HessianMuR struct {
	HessNX *mat.Dense
	HessMY *mat.Dense
}

// Hessians are the two compressed blocks of the entropy hessian.
type Hessians struct {
	MuMu HessianMuMu
	MuR  HessianMuR
}

// NewHessians returns zero hessians for an X×Y market.
func NewHessians(x, y int) *Hessians {
	return &Hessians{
		MuMu: HessianMuMu{
			HessX:  matching.NewArray3(x, y, y, nil),
			HessY:  matching.NewArray3(x, y, x, nil),
			HessXY: mat.NewDense(x, y, nil),
		},
		MuR: HessianMuR{
			HessNX: mat.NewDense(x, y, nil),
			HessMY: mat.NewDense(x, y, nil),
		},
	}
}

// Dims returns the dimensions of the market.
func (h *Hessians) Dims() (int, int) {
	return h.MuMu.HessXY.Dims()
}

// Validate checks that all components agree on the market dimensions.
func (h *Hessians) Validate() error {

	if h == nil || h.MuMu.HessXY == nil || h.MuMu.HessX == nil || h.MuMu.HessY == nil ||
		h.MuR.HessNX == nil || h.MuR.HessMY == nil {
		return errors.Wrap(matching.ErrShapeMismatch, "incomplete hessian components")
	}

	x, y := h.Dims()
	for _, a := range []struct {
		name string
		arr  *matching.Array3
		k    int
	}{{"HessX", h.MuMu.HessX, y}, {"HessY", h.MuMu.HessY, x}} {
		if err := a.arr.Validate(); err != nil {
			return err
		}
		if a.arr.X != x || a.arr.Y != y || a.arr.K != a.k {
			return errors.Wrapf(matching.ErrShapeMismatch, "%s is %d×%d×%d, expected %d×%d×%d",
				a.name, a.arr.X, a.arr.Y, a.arr.K, x, y, a.k)
		}
	}

	for _, m := range []*mat.Dense{h.MuR.HessNX, h.MuR.HessMY} {
		if r, c := m.Dims(); r != x || c != y {
			return errors.Wrapf(matching.ErrShapeMismatch, "hessian component is %d×%d, expected %d×%d", r, c, x, y)
		}
	}

	return nil
}

// AddScaled adds a times g to h.
func (h *Hessians) AddScaled(a float64, g *Hessians) {
	floats.AddScaled(h.MuMu.HessX.Data, a, g.MuMu.HessX.Data)
	floats.AddScaled(h.MuMu.HessY.Data, a, g.MuMu.HessY.Data)
	h.MuMu.HessXY.Apply(func(i, j int, v float64) float64 { return v + a*g.MuMu.HessXY.At(i, j) }, h.MuMu.HessXY)
	h.MuR.HessNX.Apply(func(i, j int, v float64) float64 { return v + a*g.MuR.HessNX.At(i, j) }, h.MuR.HessNX)
	h.MuR.HessMY.Apply(func(i, j int, v float64) float64 { return v + a*g.MuR.HessMY.At(i, j) }, h.MuR.HessMY)
}

// FillHessianMuMu returns the XY×XY hessian with respect to the
// couples.  Row x*Y+y holds HessX[x, y, t] in column x*Y+t, then
// HessY[x, y, z] in column z*Y+y, and finally HessXY[x, y] on the
// diagonal.  Later entries overwrite earlier ones.
func FillHessianMuMu(h HessianMuMu) *mat.Dense {

	x, y := h.HessXY.Dims()
	xy := x * y
	hess := mat.NewDense(xy, xy, nil)

	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			row := i*y + j
			for t := 0; t < y; t++ {
				hess.Set(row, i*y+t, h.HessX.At(i, j, t))
			}
			for z := 0; z < x; z++ {
				hess.Set(row, z*y+j, h.HessY.At(i, j, z))
			}
			hess.Set(row, row, h.HessXY.At(i, j))
		}
	}

	return hess
}

// FillHessianMuR returns the XY×(X+Y) hessian with respect to the
// margins.  Row x*Y+y holds HessNX[x, y] in column x and HessMY[x, y]
// in column X+y.
func FillHessianMuR(h HessianMuR) *mat.Dense {

	x, y := h.HessNX.Dims()
	hess := mat.NewDense(x*y, x+y, nil)

	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			row := i*y + j
			hess.Set(row, i, h.HessNX.At(i, j))
			hess.Set(row, x+j, h.HessMY.At(i, j))
		}
	}

	return hess
}

// Dense returns the XY×(XY+X+Y) hessian [FillHessianMuMu | FillHessianMuR].
func (h *Hessians) Dense() *mat.Dense {

	mumu := FillHessianMuMu(h.MuMu)
	mur := FillHessianMuR(h.MuR)
	r, c1 := mumu.Dims()
	_, c2 := mur.Dims()

	both := mat.NewDense(r, c1+c2, nil)
	both.Slice(0, r, 0, c1).(*mat.Dense).Copy(mumu)
	both.Slice(0, r, c1, c1+c2).(*mat.Dense).Copy(mur)

	return both
}

// HessianStrategy computes the compressed hessian of the gradient
// E0 + Σk alpha[k] E[..., k] at a matching.  The alpha argument is nil
// for entropies that do not depend on unknown parameters.
type HessianStrategy interface {
	Evaluate(f *Functions, mus *matching.Matching, alpha, params []float64) (*Hessians, error)
}

// HessianFunc returns the hessians of E0.
type HessianFunc func(mus *matching.Matching, params []float64) *Hessians

// ParamHessianFunc returns the hessians of E[..., k], one per parameter.
type ParamHessianFunc func(mus *matching.Matching, params []float64) []*Hessians

// AnalyticHessian uses closed form second derivatives.
type AnalyticHessian struct {
	E0 HessianFunc
	E  ParamHessianFunc
}

// Evaluate implements HessianStrategy.
func (ah AnalyticHessian) Evaluate(_ *Functions, mus *matching.Matching, alpha, params []float64) (*Hessians, error) {

	if ah.E0 == nil {
		return nil, errors.Wrap(ErrNoHessian, "analytic hessian without E0")
	}

	h := ah.E0(mus, params)
	if err := h.Validate(); err != nil {
		return nil, err
	}
	x, y := mus.Dims()
	if hx, hy := h.Dims(); hx != x || hy != y {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "hessian is for a %d×%d market, the matching is %d×%d", hx, hy, x, y)
	}
	if alpha == nil {
		return h, nil
	}

	if ah.E == nil {
		return nil, errors.Wrap(ErrMissingDerivative, "analytic hessian without E")
	}
	he := ah.E(mus, params)
	if len(he) != len(alpha) {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "%d hessians of E for %d parameters", len(he), len(alpha))
	}
	for k, g := range he {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if gx, gy := g.Dims(); gx != x || gy != y {
			return nil, errors.Wrapf(matching.ErrShapeMismatch, "hessian %d is for a %d×%d market", k, gx, gy)
		}
		h.AddScaled(alpha[k], g)
	}

	return h, nil
}

// NumericHessian differentiates the entropy gradient by central
// differences.  Each of μxy, n and m is perturbed by Step times its own
// value (by Step if the value is zero).  In a market without singles
// only the couples are perturbed and the margins follow.
type NumericHessian struct {
	Step float64
}

// Evaluate implements HessianStrategy.  The components are read off the
// full Jacobian, so the gradient must be separable.
func (nh NumericHessian) Evaluate(f *Functions, mus *matching.Matching, alpha, params []float64) (*Hessians, error) {

	step := nh.Step
	if step <= 0 {
		step = DefaultStep
	}

	x, y := mus.Dims()
	xy := x * y
	noSingles := mus.NoSingles()

	base := mus.MuxyVec()
	if !noSingles {
		base = append(base, mus.N()...)
		base = append(base, mus.M()...)
	}
	scale := make([]float64, len(base))
	for i, b := range base {
		scale[i] = b
		if b == 0 {
			scale[i] = 1
		}
	}

	// The Jacobian is computed serially, the first failure is kept.
	var ferr error
	work := make([]float64, len(base))
	grad := func(dst, z []float64) {

		for i, b := range base {
			if b == 0 {
				work[i] = z[i]
			} else {
				work[i] = b * (1 + z[i])
			}
		}

		var m *matching.Matching
		var err error
		muxy := matching.UnflattenXY(work[:xy], x, y)
		if noSingles {
			m, err = matching.NewNoSingles(muxy)
		} else {
			m, err = matching.New(muxy, work[xy:xy+x], work[xy+x:])
		}

		var g *mat.Dense
		if err == nil {
			g, err = f.Gradient(m, alpha, params)
		}
		if err != nil {
			if ferr == nil {
				ferr = err
			}
			for i := range dst {
				dst[i] = math.NaN()
			}
			return
		}
		copy(dst, matching.FlattenXY(g))
	}

	jac := mat.NewDense(xy, len(base), nil)
	fd.Jacobian(jac, grad, make([]float64, len(base)), &fd.JacobianSettings{
		Formula: fd.Central,
		Step:    step,
	})
	if ferr != nil {
		return nil, errors.Wrap(ferr, "numeric entropy hessian")
	}

	d := func(r, c int) float64 {
		return jac.At(r, c) / scale[c]
	}

	h := NewHessians(x, y)
	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			row := i*y + j
			for t := 0; t < y; t++ {
				h.MuMu.HessX.Set(i, j, t, d(row, i*y+t))
			}
			for z := 0; z < x; z++ {
				h.MuMu.HessY.Set(i, j, z, d(row, z*y+j))
			}
			h.MuMu.HessXY.Set(i, j, d(row, row))
			if !noSingles {
				h.MuR.HessNX.Set(i, j, d(row, xy+i))
				h.MuR.HessMY.Set(i, j, d(row, xy+x+j))
			}
		}
	}

	return h, nil
}
