// Package primitives defines the structural primitives of separable
// matching models, solves for their equilibrium and simulates samples
// of households from it.
package primitives

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/matchmodel/ipfp"
	"github.com/kshedden/matchmodel/matching"
)

// Model is a market whose equilibrium can be computed.
type Model interface {
	Equilibrium(s *ipfp.Settings) (*ipfp.Result, error)
}

// ChooSiow is the homoskedastic Choo and Siow model with joint surplus
// Phi, and N men and M women of each type.
type ChooSiow struct {
	Phi  *mat.Dense
	N, M []float64

	// Everyone must be matched
	NoSingles bool
}

// Equilibrium returns the equilibrium matching.
func (cs *ChooSiow) Equilibrium(s *ipfp.Settings) (*ipfp.Result, error) {
	if cs.NoSingles {
		return ipfp.HomoskedasticNoSingles(cs.Phi, cs.N, cs.M, s)
	}
	return ipfp.Homoskedastic(cs.Phi, cs.N, cs.M, s)
}

// Simulate draws a sample of nHouseholds households from the
// equilibrium of the model.
func (cs *ChooSiow) Simulate(nHouseholds int, seed uint64, s *ipfp.Settings) (*matching.Matching, error) {
	return Simulate(cs, nHouseholds, seed, s)
}

// GenderHeteroskedastic is the Choo and Siow model in which the taste
// shocks of the women have scale Tau and those of the men scale 1.
type GenderHeteroskedastic struct {
	Phi  *mat.Dense
	N, M []float64
	Tau  float64
}

// Equilibrium returns the equilibrium matching.
func (gh *GenderHeteroskedastic) Equilibrium(s *ipfp.Settings) (*ipfp.Result, error) {
	return ipfp.GenderHeteroskedastic(gh.Phi, gh.N, gh.M, gh.Tau, s)
}

// Simulate draws a sample of nHouseholds households from the
// equilibrium of the model.
func (gh *GenderHeteroskedastic) Simulate(nHouseholds int, seed uint64, s *ipfp.Settings) (*matching.Matching, error) {
	return Simulate(gh, nHouseholds, seed, s)
}

// Heteroskedastic is the Choo and Siow model in which the taste shocks
// of type x men have scale SigmaX[x] and those of type y women TauY[y].
type Heteroskedastic struct {
	Phi    *mat.Dense
	N, M   []float64
	SigmaX []float64
	TauY   []float64
}

// Equilibrium returns the equilibrium matching.
func (h *Heteroskedastic) Equilibrium(s *ipfp.Settings) (*ipfp.Result, error) {
	return ipfp.Heteroskedastic(h.Phi, h.N, h.M, h.SigmaX, h.TauY, s)
}

// Simulate draws a sample of nHouseholds households from the
// equilibrium of the model.
func (h *Heteroskedastic) Simulate(nHouseholds int, seed uint64, s *ipfp.Settings) (*matching.Matching, error) {
	return Simulate(h, nHouseholds, seed, s)
}

// NestedLogit is the two-level nested logit model.  The men choose
// between singlehood and the nests NestsX of the women's types, the
// women between singlehood and the nests NestsY of the men's types.
// Alphas holds the nest parameters of the men followed by those of the
// women.
type NestedLogit struct {
	Phi    *mat.Dense
	N, M   []float64
	NestsX [][]int
	NestsY [][]int
	Alphas []float64
}

// Equilibrium returns the equilibrium matching.
func (nl *NestedLogit) Equilibrium(s *ipfp.Settings) (*ipfp.Result, error) {
	return ipfp.NestedLogit(nl.Phi, nl.N, nl.M, nl.NestsX, nl.NestsY, nl.Alphas, s)
}

// Simulate draws a sample of nHouseholds households from the
// equilibrium of the model.
func (nl *NestedLogit) Simulate(nHouseholds int, seed uint64, s *ipfp.Settings) (*matching.Matching, error) {
	return Simulate(nl, nHouseholds, seed, s)
}

// Simulate solves for the equilibrium of the model and draws a sample
// of nHouseholds households from it.
func Simulate(model Model, nHouseholds int, seed uint64, s *ipfp.Settings) (*matching.Matching, error) {

	if nHouseholds <= 0 {
		return nil, errors.Errorf("cannot simulate %d households", nHouseholds)
	}

	res, err := model.Equilibrium(s)
	if err != nil {
		return nil, errors.Wrap(err, "equilibrium")
	}

	return Sample(res.Matching, nHouseholds, seed)
}

// Sample draws a multinomial sample of nHouseholds households over the
// cells of the population matching mus: the couples (x, y), and unless
// nobody is single, the single men and the single women of each type.
func Sample(mus *matching.Matching, nHouseholds int, seed uint64) (*matching.Matching, error) {

	if nHouseholds <= 0 {
		return nil, errors.Errorf("cannot sample %d households", nHouseholds)
	}

	x, y := mus.Dims()
	cells := mus.MuxyVec()
	if !mus.NoSingles() {
		cells = append(cells, mus.Mux0()...)
		cells = append(cells, mus.Mu0y()...)
	}

	draws := Multinomial(nHouseholds, cells, seed)

	muxy := matching.UnflattenXY(draws[:x*y], x, y)
	if mus.NoSingles() {
		return matching.NewNoSingles(muxy)
	}
	return matching.FromSingles(muxy, draws[x*y:x*y+x], draws[x*y+x:])
}

// Multinomial draws n trials over categories with probabilities
// proportional to w, as a sequence of conditional binomials.
func Multinomial(n int, w []float64, seed uint64) []float64 {

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	total := floats.Sum(w)
	draws := make([]float64, len(w))

	remaining := float64(n)
	rest := 1.0
	for i, wi := range w {
		if remaining == 0 {
			break
		}
		if i == len(w)-1 {
			draws[i] = remaining
			break
		}
		p := wi / total
		q := 0.0
		if rest > 0 {
			q = math.Min(1, math.Max(0, p/rest))
		}
		switch {
		case q >= 1:
			draws[i] = remaining
		case q > 0:
			b := distuv.Binomial{N: remaining, P: q, Src: src}
			draws[i] = b.Rand()
		}
		remaining -= draws[i]
		rest -= p
	}

	return draws
}

// LinearSurplus returns Σk beta[k] bases[..., k].
func LinearSurplus(bases *matching.Array3, beta []float64) (*mat.Dense, error) {

	if err := bases.Validate(); err != nil {
		return nil, err
	}
	if len(beta) != bases.K {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "%d coefficients for %d basis functions", len(beta), bases.K)
	}

	phi := mat.NewVecDense(bases.X*bases.Y, nil)
	phi.MulVec(matching.MakeXYKMat(bases), mat.NewVecDense(len(beta), beta))

	return matching.UnflattenXY(phi.RawVector().Data, bases.X, bases.Y), nil
}

// PolynomialBases returns k basis functions sx^a sy^b, where sx = x/(X-1)
// and sy = y/(Y-1), in order of increasing degree a+b.  The degrees are
// restricted to a < X and b < Y so that the bases are linearly
// independent.  With interactions, only terms with a, b ≥ 1 are used;
// these survive double differencing.
func PolynomialBases(x, y, k int, interactions bool) (*matching.Array3, error) {

	if x < 2 || y < 2 {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "polynomial bases need at least two types on each side, not %d×%d", x, y)
	}

	type term struct{ a, b int }
	var terms []term
	lo := 0
	if interactions {
		lo = 1
	}
	for a := lo; a < x; a++ {
		for b := lo; b < y; b++ {
			terms = append(terms, term{a, b})
		}
	}
	sort.SliceStable(terms, func(i, j int) bool {
		return terms[i].a+terms[i].b < terms[j].a+terms[j].b
	})

	if k < 1 || k > len(terms) {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "cannot build %d polynomial bases, at most %d", k, len(terms))
	}

	bases := matching.NewArray3(x, y, k, nil)
	for i := 0; i < x; i++ {
		sx := float64(i) / float64(x-1)
		for j := 0; j < y; j++ {
			sy := float64(j) / float64(y-1)
			for l, t := range terms[:k] {
				bases.Set(i, j, l, math.Pow(sx, float64(t.a))*math.Pow(sy, float64(t.b)))
			}
		}
	}

	return bases, nil
}

// GaussianBases returns k basis functions whose values are independent
// standard normal draws.  Unlike high degree polynomials they are well
// conditioned for any k up to XY.
func GaussianBases(x, y, k int, seed uint64) (*matching.Array3, error) {

	if x < 1 || y < 1 || k < 1 {
		return nil, errors.Wrapf(matching.ErrShapeMismatch, "cannot build %d bases for %d×%d types", k, x, y)
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	bases := matching.NewArray3(x, y, k, nil)
	for i := range bases.Data {
		bases.Data[i] = norm.Rand()
	}

	return bases, nil
}
