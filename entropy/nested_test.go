package entropy

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/ipfp"
	"github.com/kshedden/matchmodel/matching"
)

// With unit nest parameters the nested logit gradient is the Choo and
// Siow one.
func TestNestedLogitChooSiow(t *testing.T) {

	mus := example(t)
	nl, err := NestedLogit(2, 3, [][]int{{0, 2}, {1}}, [][]int{{0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if !nl.ParameterDependent() {
		t.Fail()
	}

	ones := []float64{1, 1, 1}
	g, err := nl.Gradient(mus, ones, nil)
	if err != nil {
		t.Fatal(err)
	}
	cs, err := ChooSiow.Gradient(mus, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(g, cs, 1e-12) {
		t.Errorf("gradient:\n%v\nwant\n%v", mat.Formatted(g), mat.Formatted(cs))
	}

	hn, err := nl.Hessians(mus, ones, nil)
	if err != nil {
		t.Fatal(err)
	}
	ha, err := ChooSiow.Hessians(mus, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(hn.Dense(), ha.Dense(), 1e-6) {
		t.Errorf("hessian:\n%v\nwant\n%v", mat.Formatted(hn.Dense()), mat.Formatted(ha.Dense()))
	}
}

// At the equilibrium of a nested logit market the gradient is -Φ.
func TestNestedLogitEquilibrium(t *testing.T) {

	phi := mat.NewDense(4, 5, nil)
	phi.Apply(func(x, y int, _ float64) float64 { return math.Cos(float64(3*x+y)) / 2 }, phi)
	n := []float64{10, 12, 9, 14}
	m := []float64{8, 9, 10, 11, 7}
	nestsX := [][]int{{0, 1, 4}, {2, 3}}
	nestsY := [][]int{{3, 0}, {1, 2}}
	alphas := []float64{0.7, 0.5, 0.8, 0.6}

	res, err := ipfp.NestedLogit(phi, n, m, nestsX, nestsY, alphas, &ipfp.Settings{Tol: 1e-13, MaxIter: 10000})
	if err != nil {
		t.Fatal(err)
	}

	nl, err := NestedLogit(4, 5, nestsX, nestsY)
	if err != nil {
		t.Fatal(err)
	}
	g, err := nl.Gradient(res.Matching, alphas, nil)
	if err != nil {
		t.Fatal(err)
	}
	g.Add(g, phi)
	if mat.Norm(g, math.Inf(1)) > 1e-8 {
		t.Errorf("Φ + e is not zero:\n%v", mat.Formatted(g))
	}

	// Each parameter only enters the cells of its nest.
	e := nl.E(res.Matching, nil)
	for x := 0; x < 4; x++ {
		for y := 0; y < 5; y++ {
			if y == 2 || y == 3 {
				if e.At(x, y, 0) != 0 {
					t.Errorf("e[%d, %d, 0] = %g", x, y, e.At(x, y, 0))
				}
			} else if e.At(x, y, 1) != 0 {
				t.Errorf("e[%d, %d, 1] = %g", x, y, e.At(x, y, 1))
			}
		}
	}
}

func TestNestedLogitErrors(t *testing.T) {

	for _, nests := range [][2][][]int{
		{{{0, 2}}, {{0, 1}}},
		{{{0, 2}, {1, 2}}, {{0, 1}}},
		{{{0, 1, 2}}, {{0}, {1}, {2}}},
	} {
		if _, err := NestedLogit(2, 3, nests[0], nests[1]); !errors.Is(err, matching.ErrInvalidNests) {
			t.Errorf("nests %v: got %v", nests, err)
		}
	}

	if _, err := NestedLogit(0, 3, nil, [][]int{{0, 1, 2}}); !errors.Is(err, matching.ErrShapeMismatch) {
		t.Errorf("empty market: got %v", err)
	}

	// A matching of the wrong size.
	nl, err := NestedLogit(3, 3, [][]int{{0, 1, 2}}, [][]int{{0, 1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := nl.Gradient(example(t), nil, nil); !errors.Is(err, matching.ErrShapeMismatch) {
		t.Errorf("wrong size: got %v", err)
	}
	if _, err := nl.Gradient(example(t), []float64{1, 1}, nil); !errors.Is(err, matching.ErrShapeMismatch) {
		t.Errorf("wrong size: got %v", err)
	}
}
