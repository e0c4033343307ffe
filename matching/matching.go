// Package matching holds observed matchings of a two-sided market, the
// conventions used to flatten X×Y and X×Y×K arrays, and the sampling
// variance of an observed matching.
package matching

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNegativeCounts is returned when a count is negative or not finite.
	ErrNegativeCounts = errors.New("negative or non-finite counts")

	// ErrInconsistentMargins is returned when the margins are smaller
	// than the number of matched individuals.
	ErrInconsistentMargins = errors.New("margins inconsistent with matches")
)

// Relative round-off allowed when singles are derived from margins.
const marginTol = 1e-10

// Matching is an observed matching: μxy couples of a type x man and a
// type y woman, μx0 single men of type x and μ0y single women of type y.
// A Matching is not modified after construction; the accessors return
// copies.
type Matching struct {
	muxy *mat.Dense
	mux0 []float64
	mu0y []float64
	n    []float64
	m    []float64

	nHouseholds  float64
	nIndividuals float64
	noSingles    bool
}

// New returns the matching with the given couples and margins.  The
// numbers of singles are derived as n - row sums and m - column sums.
func New(muxy mat.Matrix, n, m []float64) (*Matching, error) {

	x, y := muxy.Dims()
	if len(n) != x || len(m) != y {
		return nil, errors.Wrapf(ErrShapeMismatch, "muxy is %d×%d, n has %d and m has %d elements",
			x, y, len(n), len(m))
	}
	if err := checkCounts(muxy, n, m); err != nil {
		return nil, err
	}

	mux0, mu0y, err := singles(muxy, n, m)
	if err != nil {
		return nil, err
	}

	return build(mat.DenseCopyOf(muxy), mux0, mu0y, clone(n), clone(m), false), nil
}

// NewNoSingles returns a matching in a market where everyone is matched.
// The margins are the row and column sums of muxy.
func NewNoSingles(muxy mat.Matrix) (*Matching, error) {

	x, y := muxy.Dims()
	if err := checkCounts(muxy); err != nil {
		return nil, err
	}

	return build(mat.DenseCopyOf(muxy), make([]float64, x), make([]float64, y),
		RowSums(muxy), ColSums(muxy), true), nil
}

// FromSingles returns the matching with the given numbers of couples and
// singles; the margins are computed from them.
func FromSingles(muxy mat.Matrix, mux0, mu0y []float64) (*Matching, error) {

	x, y := muxy.Dims()
	if len(mux0) != x || len(mu0y) != y {
		return nil, errors.Wrapf(ErrShapeMismatch, "muxy is %d×%d, mux0 has %d and mu0y has %d elements",
			x, y, len(mux0), len(mu0y))
	}
	if err := checkCounts(muxy, mux0, mu0y); err != nil {
		return nil, err
	}

	n, m := ComputeMargins(muxy, mux0, mu0y)
	return build(mat.DenseCopyOf(muxy), clone(mux0), clone(mu0y), n, m, false), nil
}

// GetSingles returns the numbers of single men and single women implied
// by the couples and the margins.  No check is made on the signs.
func GetSingles(muxy mat.Matrix, n, m []float64) ([]float64, []float64) {
	mux0 := RowSums(muxy)
	mu0y := ColSums(muxy)
	floats.SubTo(mux0, n, mux0)
	floats.SubTo(mu0y, m, mu0y)
	return mux0, mu0y
}

// ComputeMargins returns the numbers of men and women of each type.
func ComputeMargins(muxy mat.Matrix, mux0, mu0y []float64) ([]float64, []float64) {
	n := RowSums(muxy)
	m := ColSums(muxy)
	floats.Add(n, mux0)
	floats.Add(m, mu0y)
	return n, m
}

// singles derives the singles and clips round-off below zero.
func singles(muxy mat.Matrix, n, m []float64) ([]float64, []float64, error) {

	mux0, mu0y := GetSingles(muxy, n, m)

	for x, v := range mux0 {
		if v < 0 {
			if v < -marginTol*math.Max(1, n[x]) {
				return nil, nil, errors.Wrapf(ErrInconsistentMargins,
					"%g men of type %d are matched but n[%d] = %g", n[x]-v, x, x, n[x])
			}
			mux0[x] = 0
		}
	}
	for y, v := range mu0y {
		if v < 0 {
			if v < -marginTol*math.Max(1, m[y]) {
				return nil, nil, errors.Wrapf(ErrInconsistentMargins,
					"%g women of type %d are matched but m[%d] = %g", m[y]-v, y, y, m[y])
			}
			mu0y[y] = 0
		}
	}

	return mux0, mu0y, nil
}

func checkCounts(muxy mat.Matrix, vecs ...[]float64) error {
	r, c := muxy.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := muxy.At(i, j); v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrNegativeCounts, "muxy[%d, %d] = %g", i, j, v)
			}
		}
	}
	for _, vec := range vecs {
		for i, v := range vec {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrNegativeCounts, "element %d is %g", i, v)
			}
		}
	}
	return nil
}

func build(muxy *mat.Dense, mux0, mu0y, n, m []float64, noSingles bool) *Matching {
	nc := mat.Sum(muxy)
	ns := floats.Sum(mux0) + floats.Sum(mu0y)
	return &Matching{
		muxy:         muxy,
		mux0:         mux0,
		mu0y:         mu0y,
		n:            n,
		m:            m,
		nHouseholds:  nc + ns,
		nIndividuals: 2*nc + ns,
		noSingles:    noSingles,
	}
}

// Dims returns the numbers of types of men and of women.
func (mus *Matching) Dims() (int, int) {
	return mus.muxy.Dims()
}

// Muxy returns a copy of the X×Y matrix of couples.
func (mus *Matching) Muxy() *mat.Dense {
	return mat.DenseCopyOf(mus.muxy)
}

// MuxyAt returns the number of (x, y) couples.
func (mus *Matching) MuxyAt(x, y int) float64 {
	return mus.muxy.At(x, y)
}

// MuxyVec returns the couples flattened in x-major order.
func (mus *Matching) MuxyVec() []float64 {
	return FlattenXY(mus.muxy)
}

// Mux0 returns the numbers of single men.
func (mus *Matching) Mux0() []float64 {
	return clone(mus.mux0)
}

// Mu0y returns the numbers of single women.
func (mus *Matching) Mu0y() []float64 {
	return clone(mus.mu0y)
}

// N returns the numbers of men of each type.
func (mus *Matching) N() []float64 {
	return clone(mus.n)
}

// M returns the numbers of women of each type.
func (mus *Matching) M() []float64 {
	return clone(mus.m)
}

// Unpack returns copies of muxy, mux0, mu0y, n and m.
func (mus *Matching) Unpack() (*mat.Dense, []float64, []float64, []float64, []float64) {
	return mus.Muxy(), mus.Mux0(), mus.Mu0y(), mus.N(), mus.M()
}

// NHouseholds returns the number of households: couples plus singles.
func (mus *Matching) NHouseholds() float64 {
	return mus.nHouseholds
}

// NIndividuals returns the number of individuals in the market.
func (mus *Matching) NIndividuals() float64 {
	return mus.nIndividuals
}

// NoSingles is true if the market has no singles option.
func (mus *Matching) NoSingles() bool {
	return mus.noSingles
}

func clone(x []float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	return y
}
