package mde

import (
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/matchmodel/entropy"
	"github.com/kshedden/matchmodel/ipfp"
	"github.com/kshedden/matchmodel/primitives"
)

func margins(x, y int) ([]float64, []float64) {
	n := make([]float64, x)
	m := make([]float64, y)
	for i := range n {
		n[i] = 1 + float64(i%3)/4
	}
	for j := range m {
		m[j] = 1.2 - float64(j%4)/10
	}
	return n, m
}

// withinSE checks that every estimate is within z standard errors of
// the truth.
func withinSE(t *testing.T, rslt *Results, truth []float64, z float64) {
	se := rslt.StdErr()
	for i, p := range rslt.Params() {
		assert.InDelta(t, truth[i], p, z*se[i], "%s", rslt.Names()[i])
	}
}

func TestSimulatedChooSiow(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping large sample simulation in short mode")
	}

	x, y, k := 10, 15, 5
	bases, err := primitives.PolynomialBases(x, y, k, false)
	require.NoError(t, err)
	beta := []float64{-1, 0.5, 0.8, -0.4, 0.3}
	phi, err := primitives.LinearSurplus(bases, beta)
	require.NoError(t, err)
	n, m := margins(x, y)

	cs := &primitives.ChooSiow{Phi: phi, N: n, M: m}
	mus, err := cs.Simulate(100000000, 123, nil)
	require.NoError(t, err)

	for _, ent := range []*entropy.Functions{entropy.ChooSiow, entropy.ChooSiowNumeric} {
		rslt, err := NewEstimator(mus, bases, ent).Fit()
		require.NoError(t, err)
		t.Log(rslt.Summary().SetTrue(beta).String())
		withinSE(t, rslt, beta, 5)
	}
}

// Ten well conditioned bases are recovered to two decimals from 10⁸
// households.
func TestSimulatedTenBases(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping large sample simulation in short mode")
	}

	x, y, k := 10, 15, 10
	bases, err := primitives.GaussianBases(x, y, k, 17)
	if err != nil {
		t.Fatal(err)
	}
	beta := []float64{-1, 0.5, 0.8, -0.4, 0.3, 0.6, -0.2, 0.1, -0.7, 0.45}
	phi, err := primitives.LinearSurplus(bases, beta)
	if err != nil {
		t.Fatal(err)
	}
	n, m := margins(x, y)

	cs := &primitives.ChooSiow{Phi: phi, N: n, M: m}
	mus, err := cs.Simulate(100000000, 2024, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, ent := range []*entropy.Functions{entropy.ChooSiow, entropy.ChooSiowNumeric} {
		rslt, err := NewEstimator(mus, bases, ent).Fit()
		if err != nil {
			t.Fatal(err)
		}
		if d := rslt.Discrepancy(beta); d >= 1e-2 {
			t.Errorf("%s: largest discrepancy %g\n%s", ent.Description, d, rslt.Summary().SetTrue(beta).String())
		}
	}
}

func TestSimulatedNoSingles(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping large sample simulation in short mode")
	}

	x, y, k := 10, 15, 8
	bases, err := primitives.PolynomialBases(x, y, k, true)
	require.NoError(t, err)
	beta := []float64{1, -0.5, 0.6, 0.2, -0.3, 0.4, -0.2, 0.1}
	phi, err := primitives.LinearSurplus(bases, beta)
	require.NoError(t, err)
	n := make([]float64, x)
	m := make([]float64, y)
	for i := range n {
		n[i] = 1.5
	}
	for j := range m {
		m[j] = 1
	}

	cs := &primitives.ChooSiow{Phi: phi, N: n, M: m, NoSingles: true}
	mus, err := cs.Simulate(1000000, 7, nil)
	require.NoError(t, err)

	for _, ent := range []*entropy.Functions{entropy.ChooSiowNoSingles, entropy.ChooSiowNoSinglesNumeric} {
		rslt, err := NewEstimator(mus, bases, ent).NoSingles(true).Fit()
		require.NoError(t, err)
		withinSE(t, rslt, beta, 5)
	}
}

func TestSimulatedGender(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping large sample simulation in short mode")
	}

	x, y, k := 6, 8, 4
	bases, err := primitives.PolynomialBases(x, y, k, false)
	require.NoError(t, err)
	beta := []float64{-1, 0.5, 0.8, -0.4}
	phi, err := primitives.LinearSurplus(bases, beta)
	require.NoError(t, err)
	n, m := margins(x, y)

	gh := &primitives.GenderHeteroskedastic{Phi: phi, N: n, M: m, Tau: 0.7}
	mus, err := gh.Simulate(100000000, 11, nil)
	require.NoError(t, err)

	truth := append([]float64{0.7}, beta...)
	for _, ent := range []*entropy.Functions{entropy.ChooSiowGenderHeteroskedastic, entropy.ChooSiowGenderHeteroskedasticNumeric} {
		rslt, err := NewEstimator(mus, bases, ent).Fit()
		require.NoError(t, err)
		withinSE(t, rslt, truth, 5)
	}
}

// Under the model the test statistic is approximately χ² with NDF
// degrees of freedom.
func TestCalibration(t *testing.T) {

	if testing.Short() {
		t.Skip("skipping calibration in short mode")
	}

	bases, err := primitives.PolynomialBases(3, 4, 2, false)
	require.NoError(t, err)
	phi, err := primitives.LinearSurplus(bases, []float64{-0.5, 0.4})
	require.NoError(t, err)
	n, m := margins(3, 4)
	cs := &primitives.ChooSiow{Phi: phi, N: n, M: m}

	eq, err := cs.Equilibrium(nil)
	require.NoError(t, err)

	nrep := 200
	var stat []float64
	var ndf int
	for rep := 0; rep < nrep; rep++ {
		mus, err := primitives.Sample(eq.Matching, 1000000, uint64(rep))
		require.NoError(t, err)
		rslt, err := NewEstimator(mus, bases, entropy.ChooSiow).Fit()
		require.NoError(t, err)
		stat = append(stat, rslt.TestStatistic)
		ndf = rslt.NDF
	}

	require.Equal(t, 10, ndf)
	mean, err := stats.Mean(stat)
	require.NoError(t, err)
	assert.InDelta(t, float64(ndf), mean, 1.5)

	// The variance of a χ² is twice its degrees of freedom.
	v, err := stats.Variance(stat)
	require.NoError(t, err)
	assert.InDelta(t, 2*float64(ndf), v, 10)
}

func TestSimulatedIPFPSettings(t *testing.T) {

	// Simulation reports solver failures.
	bases, err := primitives.PolynomialBases(3, 4, 2, false)
	require.NoError(t, err)
	phi, err := primitives.LinearSurplus(bases, []float64{-0.5, 0.4})
	require.NoError(t, err)
	n, m := margins(3, 4)
	cs := &primitives.ChooSiow{Phi: phi, N: n, M: m}

	_, err = cs.Simulate(1000, 1, &ipfp.Settings{Tol: 1e-15, MaxIter: 1})
	assert.Error(t, err)
}
