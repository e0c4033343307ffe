package matching

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when arrays do not have the dimensions
// implied by the matching they are used with.
var ErrShapeMismatch = errors.New("shape mismatch")

// Array3 is a dense X×Y×K array.  The data are stored in row-major
// order: the element (x, y, k) is at position (x*Y+y)*K+k.
type Array3 struct {
	X, Y, K int
	Data    []float64
}

// NewArray3 returns an X×Y×K array backed by data.  If data is nil a
// zero array is allocated.  NewArray3 panics if data has the wrong
// length, like mat.NewDense.
func NewArray3(x, y, k int, data []float64) *Array3 {
	if x < 1 || y < 1 || k < 1 {
		panic(fmt.Sprintf("matching: bad Array3 dimensions (%d, %d, %d)", x, y, k))
	}
	if data == nil {
		data = make([]float64, x*y*k)
	}
	if len(data) != x*y*k {
		panic(fmt.Sprintf("matching: Array3 data has length %d, want %d", len(data), x*y*k))
	}
	return &Array3{X: x, Y: y, K: k, Data: data}
}

// Dims returns the three dimensions of the array.
func (a *Array3) Dims() (int, int, int) {
	return a.X, a.Y, a.K
}

// At returns the element at (x, y, k).
func (a *Array3) At(x, y, k int) float64 {
	return a.Data[(x*a.Y+y)*a.K+k]
}

// Set sets the element at (x, y, k).
func (a *Array3) Set(x, y, k int, v float64) {
	a.Data[(x*a.Y+y)*a.K+k] = v
}

// Validate checks that the dimensions are positive and consistent with
// the length of the data.
func (a *Array3) Validate() error {
	if a == nil {
		return errors.Wrap(ErrShapeMismatch, "nil array")
	}
	if a.X < 1 || a.Y < 1 || a.K < 1 {
		return errors.Wrapf(ErrShapeMismatch, "array has dimensions (%d, %d, %d)", a.X, a.Y, a.K)
	}
	if len(a.Data) != a.X*a.Y*a.K {
		return errors.Wrapf(ErrShapeMismatch, "array (%d, %d, %d) holds %d values",
			a.X, a.Y, a.K, len(a.Data))
	}
	return nil
}

// Slice returns the X×Y matrix a[:, :, k].
func (a *Array3) Slice(k int) *mat.Dense {
	m := mat.NewDense(a.X, a.Y, nil)
	for x := 0; x < a.X; x++ {
		for y := 0; y < a.Y; y++ {
			m.Set(x, y, a.At(x, y, k))
		}
	}
	return m
}

// Clone returns a deep copy of the array.
func (a *Array3) Clone() *Array3 {
	d := make([]float64, len(a.Data))
	copy(d, a.Data)
	return &Array3{X: a.X, Y: a.Y, K: a.K, Data: d}
}

// MakeXYKMat flattens an X×Y×K array into an (XY, K) matrix.  Row
// x*Y+y holds a[x, y, :], which is the same x-major, y-minor order used
// by FlattenXY.
func MakeXYKMat(a *Array3) *mat.Dense {
	d := make([]float64, len(a.Data))
	copy(d, a.Data)
	return mat.NewDense(a.X*a.Y, a.K, d)
}

// ReshapeXYK is the inverse of MakeXYKMat.  It panics if m does not
// have x*y rows.
func ReshapeXYK(m mat.Matrix, x, y int) *Array3 {
	r, k := m.Dims()
	if r != x*y {
		panic(fmt.Sprintf("matching: cannot reshape %d rows into (%d, %d)", r, x, y))
	}
	a := NewArray3(x, y, k, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < k; j++ {
			a.Data[i*k+j] = m.At(i, j)
		}
	}
	return a
}

// FlattenXY returns the elements of an X×Y matrix in x-major order.
func FlattenXY(m mat.Matrix) []float64 {
	r, c := m.Dims()
	v := make([]float64, 0, r*c)
	for x := 0; x < r; x++ {
		for y := 0; y < c; y++ {
			v = append(v, m.At(x, y))
		}
	}
	return v
}

// UnflattenXY is the inverse of FlattenXY.
func UnflattenXY(v []float64, x, y int) *mat.Dense {
	if len(v) != x*y {
		panic(fmt.Sprintf("matching: cannot reshape %d values into (%d, %d)", len(v), x, y))
	}
	d := make([]float64, len(v))
	copy(d, v)
	return mat.NewDense(x, y, d)
}

// RowSums returns the sums of the rows of m.
func RowSums(m mat.Matrix) []float64 {
	r, c := m.Dims()
	s := make([]float64, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s[i] += m.At(i, j)
		}
	}
	return s
}

// ColSums returns the sums of the columns of m.
func ColSums(m mat.Matrix) []float64 {
	r, c := m.Dims()
	s := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s[j] += m.At(i, j)
		}
	}
	return s
}
