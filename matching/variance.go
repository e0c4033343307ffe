package matching

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Component identifies one of the vectors whose sampling covariance is
// described by a Variance.
type Component int

// MuXY (couples, flattened x-major), MuX0 (single men), Mu0Y (single
// women), N (men) and M (women) are the components of an observed
// matching.
const (
	MuXY Component = iota
	MuX0
	Mu0Y
	N
	M
)

func (c Component) String() string {
	switch c {
	case MuXY:
		return "muxy"
	case MuX0:
		return "mux0"
	case Mu0Y:
		return "mu0y"
	case N:
		return "n"
	case M:
		return "m"
	default:
		return fmt.Sprintf("Component(%d)", int(c))
	}
}

// Variance is the sampling variance-covariance of an observed matching,
// when the households are drawn independently from a multinomial
// distribution over the couple and single cells.  Every entry of a
// component is a sum of cells, and the covariance of two such sums A
// and B is count(A∩B) - count(A)count(B)/N_h.
type Variance struct {
	x, y  int
	muxy  []float64
	mux0  []float64
	mu0y  []float64
	n     []float64
	m     []float64
	nh    float64
	scale float64
}

// VarianceMuHat returns the sampling variance of the observed matching.
func VarianceMuHat(mus *Matching) *Variance {
	x, y := mus.Dims()
	return &Variance{
		x:     x,
		y:     y,
		muxy:  mus.MuxyVec(),
		mux0:  mus.Mux0(),
		mu0y:  mus.Mu0y(),
		n:     mus.N(),
		m:     mus.M(),
		nh:    mus.NHouseholds(),
		scale: 1,
	}
}

// Divide returns a new Variance with every block divided by s.
// Successive divisions are accumulated into a single divisor, so that
// v.Divide(a).Divide(b) and v.Divide(a*b) are identical.
func (v *Variance) Divide(s float64) *Variance {
	w := *v
	w.scale = v.scale * s
	return &w
}

// Dims returns the numbers of types of men and of women.
func (v *Variance) Dims() (int, int) {
	return v.x, v.y
}

// NHouseholds returns the number of households of the underlying matching.
func (v *Variance) NHouseholds() float64 {
	return v.nh
}

// Len returns the number of elements of a component.
func (v *Variance) Len(c Component) int {
	switch c {
	case MuXY:
		return v.x * v.y
	case MuX0, N:
		return v.x
	case Mu0Y, M:
		return v.y
	default:
		panic(fmt.Sprintf("matching: unknown component %v", c))
	}
}

func (v *Variance) count(c Component, i int) float64 {
	switch c {
	case MuXY:
		return v.muxy[i]
	case MuX0:
		return v.mux0[i]
	case Mu0Y:
		return v.mu0y[i]
	case N:
		return v.n[i]
	case M:
		return v.m[i]
	default:
		panic(fmt.Sprintf("matching: unknown component %v", c))
	}
}

// overlap returns the count of the cells shared by element i of a and
// element j of b.
func (v *Variance) overlap(a Component, i int, b Component, j int) float64 {

	if a > b {
		a, b = b, a
		i, j = j, i
	}

	switch {
	case a == b:
		if i == j {
			return v.count(a, i)
		}
		return 0
	case a == MuXY && b == N:
		if i/v.y == j {
			return v.muxy[i]
		}
	case a == MuXY && b == M:
		if i%v.y == j {
			return v.muxy[i]
		}
	case a == MuX0 && b == N:
		if i == j {
			return v.mux0[i]
		}
	case a == Mu0Y && b == M:
		if i == j {
			return v.mu0y[i]
		}
	case a == N && b == M:
		return v.muxy[i*v.y+j]
	}

	return 0
}

func (v *Variance) cov(a Component, i int, b Component, j int) float64 {
	c := v.overlap(a, i, b, j) - v.count(a, i)*v.count(b, j)/v.nh
	return c / v.scale
}

// Block returns the covariance matrix between components a and b.  The
// rows are indexed by the elements of a and the columns by those of b.
func (v *Variance) Block(a, b Component) *mat.Dense {
	ra, rb := v.Len(a), v.Len(b)
	blk := mat.NewDense(ra, rb, nil)
	for i := 0; i < ra; i++ {
		for j := 0; j < rb; j++ {
			blk.Set(i, j, v.cov(a, i, b, j))
		}
	}
	return blk
}

// stack returns the joint covariance of the given components, in order.
func (v *Variance) stack(comps ...Component) *mat.SymDense {

	var dim int
	offsets := make([]int, len(comps))
	for k, c := range comps {
		offsets[k] = dim
		dim += v.Len(c)
	}

	s := mat.NewSymDense(dim, nil)
	for k1, c1 := range comps {
		for k2 := k1; k2 < len(comps); k2++ {
			c2 := comps[k2]
			for i := 0; i < v.Len(c1); i++ {
				for j := 0; j < v.Len(c2); j++ {
					r, c := offsets[k1]+i, offsets[k2]+j
					if r <= c {
						s.SetSym(r, c, v.cov(c1, i, c2, j))
					}
				}
			}
		}
	}

	return s
}

// AllMus returns the covariance of (μxy, μx0, μ0y), an (XY+X+Y)
// square matrix.
func (v *Variance) AllMus() *mat.SymDense {
	return v.stack(MuXY, MuX0, Mu0Y)
}

// MuNM returns the covariance of (μxy, n, m), an (XY+X+Y) square
// matrix.  This is the covariance of the arguments of the entropy
// functions.
func (v *Variance) MuNM() *mat.SymDense {
	return v.stack(MuXY, N, M)
}
