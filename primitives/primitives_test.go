package primitives

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/kshedden/matchmodel/matching"
)

func market() (*mat.Dense, []float64, []float64) {
	phi := mat.NewDense(3, 4, []float64{
		0.5, -0.2, 0.1, 0.3,
		0.0, 0.4, -0.5, 0.2,
		-0.3, 0.1, 0.6, -0.1,
	})
	return phi, []float64{100, 150, 120}, []float64{90, 80, 110, 70}
}

func TestMultinomial(t *testing.T) {

	w := []float64{1, 2, 3, 0, 4}
	n := 1000000
	d := Multinomial(n, w, 42)

	assert.Equal(t, float64(n), floats.Sum(d))
	assert.Equal(t, 0.0, d[3])
	for i, wi := range w {
		p := wi / 10
		sd := math.Sqrt(float64(n) * p * (1 - p))
		assert.InDelta(t, float64(n)*p, d[i], 5*sd+1e-12)
		assert.Equal(t, math.Floor(d[i]), d[i])
	}

	// The draws depend only on the seed.
	assert.Equal(t, d, Multinomial(n, w, 42))
	assert.NotEqual(t, d, Multinomial(n, w, 43))
}

func TestEquilibria(t *testing.T) {

	phi, n, m := market()
	models := []Model{
		&ChooSiow{Phi: phi, N: n, M: m},
		&GenderHeteroskedastic{Phi: phi, N: n, M: m, Tau: 0.6},
		&Heteroskedastic{Phi: phi, N: n, M: m, SigmaX: []float64{1, 0.8, 1.3}, TauY: []float64{0.7, 1, 1.2, 0.9}},
		&NestedLogit{Phi: phi, N: n, M: m, NestsX: [][]int{{0, 1}, {2, 3}}, NestsY: [][]int{{0}, {1, 2}},
			Alphas: []float64{0.8, 0.6, 1, 0.5}},
	}

	for _, model := range models {
		res, err := model.Equilibrium(nil)
		require.NoError(t, err)
		assert.True(t, floats.EqualApprox(res.Matching.N(), n, 1e-6))
		assert.True(t, floats.EqualApprox(res.Matching.M(), m, 1e-6))
	}
}

func TestSimulate(t *testing.T) {

	phi, n, m := market()
	cs := &ChooSiow{Phi: phi, N: n, M: m}

	mus, err := cs.Simulate(100000, 1, nil)
	require.NoError(t, err)
	assert.InDelta(t, 100000, mus.NHouseholds(), 1e-9)
	assert.False(t, mus.NoSingles())

	again, err := cs.Simulate(100000, 1, nil)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mus.Muxy(), again.Muxy()))

	// The simulated proportions are close to the equilibrium ones.
	eq, err := cs.Equilibrium(nil)
	require.NoError(t, err)
	nh := eq.Matching.NHouseholds()
	for x := 0; x < 3; x++ {
		for y := 0; y < 4; y++ {
			p := eq.Matching.MuxyAt(x, y) / nh
			sd := math.Sqrt(100000 * p * (1 - p))
			assert.InDelta(t, 100000*p, mus.MuxyAt(x, y), 5*sd)
		}
	}

	gh := &GenderHeteroskedastic{Phi: phi, N: n, M: m, Tau: 0.6}
	gmus, err := gh.Simulate(5000, 3, nil)
	require.NoError(t, err)
	assert.InDelta(t, 5000, gmus.NHouseholds(), 1e-9)

	_, err = cs.Simulate(0, 1, nil)
	assert.Error(t, err)
}

func TestSample(t *testing.T) {

	phi, n, m := market()
	eq, err := (&ChooSiow{Phi: phi, N: n, M: m}).Equilibrium(nil)
	require.NoError(t, err)

	a, err := Sample(eq.Matching, 50000, 9)
	require.NoError(t, err)
	b, err := Sample(eq.Matching, 50000, 9)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Muxy(), b.Muxy()))
	assert.Equal(t, a.Mux0(), b.Mux0())
	assert.InDelta(t, 50000, a.NHouseholds(), 1e-9)

	_, err = Sample(eq.Matching, -1, 9)
	assert.Error(t, err)
}

func TestSimulateNoSingles(t *testing.T) {

	phi, _, _ := market()
	cs := &ChooSiow{Phi: phi, N: []float64{10, 20, 30}, M: []float64{15, 15, 15, 15}, NoSingles: true}

	mus, err := cs.Simulate(20000, 5, nil)
	require.NoError(t, err)
	assert.True(t, mus.NoSingles())
	assert.Equal(t, []float64{0, 0, 0}, mus.Mux0())
	assert.InDelta(t, 20000, floats.Sum(mus.MuxyVec()), 1e-9)

	cs.M = []float64{15, 15, 15, 16}
	_, err = cs.Simulate(20000, 5, nil)
	assert.Error(t, err)
}

func TestLinearSurplus(t *testing.T) {

	bases := matching.NewArray3(2, 2, 2, []float64{1, 0, 1, 1, 1, 2, 1, 3})
	phi, err := LinearSurplus(bases, []float64{0.5, -1})
	require.NoError(t, err)
	assert.True(t, mat.Equal(phi, mat.NewDense(2, 2, []float64{0.5, -0.5, -1.5, -2.5})))

	_, err = LinearSurplus(bases, []float64{1})
	assert.True(t, errors.Is(err, matching.ErrShapeMismatch))
}

func TestPolynomialBases(t *testing.T) {

	b, err := PolynomialBases(3, 4, 4, false)
	require.NoError(t, err)

	// constant, sy, sx, then the degree 2 term sy².
	assert.Equal(t, 1.0, b.At(2, 3, 0))
	assert.InDelta(t, 2.0/3, b.At(1, 2, 1), 1e-15)
	assert.InDelta(t, 0.5, b.At(1, 2, 2), 1e-15)
	assert.InDelta(t, 4.0/9, b.At(0, 2, 3), 1e-15)

	bi, err := PolynomialBases(3, 4, 2, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*2.0/3, bi.At(1, 2, 0), 1e-15)
	assert.Equal(t, 0.0, bi.At(0, 3, 0))
	assert.Equal(t, 0.0, bi.At(2, 0, 1))

	_, err = PolynomialBases(3, 4, 7, true)
	assert.True(t, errors.Is(err, matching.ErrShapeMismatch))
	_, err = PolynomialBases(1, 4, 1, false)
	assert.True(t, errors.Is(err, matching.ErrShapeMismatch))
}

func TestNestedLogit(t *testing.T) {

	nl := &NestedLogit{
		Phi:    mat.NewDense(2, 2, []float64{0.5, -0.2, 0.7, 0.1}),
		N:      []float64{40, 60},
		M:      []float64{55, 45},
		NestsX: [][]int{{0}, {1}},
		NestsY: [][]int{{0}, {1}},
		Alphas: []float64{0.9, 1.1, 0.85, 1.2},
	}

	res, err := nl.Equilibrium(nil)
	if err != nil {
		t.Fatal(err)
	}
	muxy, mux0, mu0y, _, _ := res.Matching.Unpack()
	n, m := matching.ComputeMargins(muxy, mux0, mu0y)
	if !floats.EqualApprox(n, nl.N, 1e-8) {
		t.Errorf("men margins %v, want %v", n, nl.N)
	}
	if !floats.EqualApprox(m, nl.M, 1e-8) {
		t.Errorf("women margins %v, want %v", m, nl.M)
	}
	if mat.Min(muxy) <= 0 || floats.Min(mux0) <= 0 || floats.Min(mu0y) <= 0 {
		t.Errorf("matching is not positive: %v %v %v", mat.Formatted(muxy), mux0, mu0y)
	}

	mus, err := nl.Simulate(10000, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if mus.NHouseholds() != 10000 {
		t.Errorf("%g households", mus.NHouseholds())
	}

	nl.Alphas = nl.Alphas[:3]
	if _, err := nl.Simulate(10000, 4, nil); err == nil {
		t.Fail()
	}
}

func TestGaussianBases(t *testing.T) {

	b, err := GaussianBases(10, 15, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if b.X != 10 || b.Y != 15 || b.K != 10 {
		t.Fatalf("dimensions %d %d %d", b.X, b.Y, b.K)
	}

	again, err := GaussianBases(10, 15, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(b.Data, again.Data) {
		t.Errorf("the bases depend on more than the seed")
	}

	// The bases are far from collinear.
	f := matching.MakeXYKMat(b)
	var svd mat.SVD
	if !svd.Factorize(f, mat.SVDNone) {
		t.Fatal("svd failed")
	}
	if c := svd.Cond(); c > 10 {
		t.Errorf("condition number %g", c)
	}

	if _, err := GaussianBases(10, 15, 0, 3); !errors.Is(err, matching.ErrShapeMismatch) {
		t.Errorf("no bases: got %v", err)
	}
}
