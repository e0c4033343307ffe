package mde

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

// rankTol is the relative singular value below which a basis is
// considered rank deficient.
const rankTol = 1e-10

// MakeD2Matrix returns the (X-1)(Y-1)×XY double differencing matrix.
// Row (x-1)(Y-1)+(y-1), for x, y ≥ 1, maps v to
//
//	v[x, y] - v[x, 0] - v[0, y] + v[0, 0]
//
// which removes any additive ux + vy term.
func MakeD2Matrix(x, y int) *mat.Dense {

	if x < 2 || y < 2 {
		panic("mde: double differencing needs at least two types on each side")
	}

	d2 := mat.NewDense((x-1)*(y-1), x*y, nil)
	for i := 1; i < x; i++ {
		for j := 1; j < y; j++ {
			row := (i-1)*(y-1) + (j - 1)
			d2.Set(row, i*y+j, 1)
			d2.Set(row, i*y, -1)
			d2.Set(row, j, -1)
			d2.Set(row, 0, 1)
		}
	}

	return d2
}

// ApplyD2 returns the double differences of the rows of m, which must
// have XY rows.  An already differenced matrix has (X-1)(Y-1) rows and
// is rejected.
func ApplyD2(m mat.Matrix, x, y int) (*mat.Dense, error) {

	r, c := m.Dims()
	if r != x*y {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "double differencing needs %d rows, got %d", x*y, r)
	}
	if x < 2 || y < 2 {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "cannot double difference a %d×%d market", x, y)
	}

	out := mat.NewDense((x-1)*(y-1), c, nil)
	out.Mul(MakeD2Matrix(x, y), m)

	return out, nil
}

// CheckIndepNoSingles checks that the double differenced basis
// functions, the (X-1)(Y-1)×K matrix phiMat, are linearly independent.
func CheckIndepNoSingles(phiMat mat.Matrix, x, y int) error {

	r, k := phiMat.Dims()
	if r != (x-1)*(y-1) {
		return errors.Wrapf(matching.ErrShapeMismatch, "the differenced basis has %d rows, expected %d", r, (x-1)*(y-1))
	}
	if k > r {
		return errors.Wrapf(ErrNonIndependentBasis, "%d basis functions for %d double differences", k, r)
	}

	var svd mat.SVD
	if ok := svd.Factorize(phiMat, mat.SVDNone); !ok {
		return errors.Wrap(ErrNumericalSingularity, "SVD of the differenced basis failed")
	}
	if rank := svd.Rank(rankTol); rank < k {
		return errors.Wrapf(ErrNonIndependentBasis, "the %d differenced basis functions have rank %d", k, rank)
	}

	return nil
}
