package matching

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func arange(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

func TestMakeXYKMat(t *testing.T) {

	a := NewArray3(2, 3, 2, arange(12))
	m := MakeXYKMat(a)

	r, c := m.Dims()
	require.Equal(t, 6, r)
	require.Equal(t, 2, c)

	i := 0
	for x := 0; x < 2; x++ {
		for y := 0; y < 3; y++ {
			for k := 0; k < 2; k++ {
				assert.Equal(t, a.At(x, y, k), m.At(i, k))
			}
			i++
		}
	}
}

func TestReshapeRoundTrip(t *testing.T) {

	for _, dims := range [][3]int{{1, 1, 1}, {2, 3, 2}, {4, 1, 3}, {3, 5, 1}, {5, 4, 6}} {
		x, y, k := dims[0], dims[1], dims[2]
		a := NewArray3(x, y, k, nil)
		for i := range a.Data {
			a.Data[i] = float64(i*i) - 3.5
		}
		b := ReshapeXYK(MakeXYKMat(a), x, y)
		assert.Equal(t, a, b)
	}
}

func TestFlattenXY(t *testing.T) {

	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	v := FlattenXY(m)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, v)
	assert.True(t, mat.Equal(m, UnflattenXY(v, 2, 3)))

	assert.Equal(t, []float64{6, 15}, RowSums(m))
	assert.Equal(t, []float64{5, 7, 9}, ColSums(m))
}

func TestArray3Slice(t *testing.T) {

	a := NewArray3(2, 2, 3, arange(12))
	s := a.Slice(1)
	assert.True(t, mat.Equal(s, mat.NewDense(2, 2, []float64{1, 4, 7, 10})))
}

func TestArray3Validate(t *testing.T) {

	require.NoError(t, NewArray3(2, 2, 1, nil).Validate())

	bad := &Array3{X: 2, Y: 2, K: 2, Data: make([]float64, 7)}
	assert.True(t, errors.Is(bad.Validate(), ErrShapeMismatch))

	var empty *Array3
	assert.True(t, errors.Is(empty.Validate(), ErrShapeMismatch))

	assert.Panics(t, func() { NewArray3(2, 2, 2, make([]float64, 3)) })
}
