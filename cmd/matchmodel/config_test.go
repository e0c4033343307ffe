package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func TestLoadConfig(t *testing.T) {

	cfg, err := loadConfig("")
	require.NoError(t, err)
	if diff := cmp.Diff(defaultConfig(), cfg); diff != "" {
		t.Errorf("defaults differ (-want +got):\n%s", diff)
	}

	path := writeConfig(t, `
model: gender
ntypes_x: 3
ntypes_y: 4
nbases: 2
tau: 0.8
beta: [0.5, -0.25]
households: 1000
ipfp:
  tol: 1e-10
`)
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	cfg.complete()
	require.NoError(t, cfg.validate())

	want := defaultConfig()
	want.Model = modelGender
	want.NTypesX = 3
	want.NTypesY = 4
	want.NBases = 2
	want.Tau = 0.8
	want.Beta = []float64{0.5, -0.25}
	want.Households = 1000
	want.IPFP.Tol = 1e-10
	want.Men = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	want.Women = []float64{0.25, 0.25, 0.25, 0.25}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config differs (-want +got):\n%s", diff)
	}

	_, err = loadConfig(writeConfig(t, "nbasis: 3\n"))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {

	cfg := defaultConfig()
	cfg.NBases = 3
	cfg.complete()
	assert.Equal(t, []float64{1, -0.5, 1.0 / 3}, cfg.Beta)
	assert.Len(t, cfg.Men, 10)
	assert.Len(t, cfg.Women, 15)
}

func TestValidate(t *testing.T) {

	for _, tc := range []struct {
		name   string
		modify func(*Config)
	}{
		{"model", func(c *Config) { c.Model = "logit" }},
		{"types", func(c *Config) { c.NTypesX = 1 }},
		{"bases", func(c *Config) { c.NBases = 0 }},
		{"beta", func(c *Config) { c.Beta = []float64{1} }},
		{"margins", func(c *Config) { c.Men = []float64{1} }},
		{"interactions", func(c *Config) { c.Model = modelNoSingles }},
		{"kind of bases", func(c *Config) { c.Bases = "splines" }},
		{"nest types", func(c *Config) { c.Model = modelNested; c.NTypesX = 3; c.Men = c.Men[:3] }},
		{"nest parameters", func(c *Config) { c.Model = modelNested; c.Alphas = []float64{1, 1, 1} }},
		{"negative nest parameter", func(c *Config) { c.Model = modelNested; c.Alphas = []float64{1, -1, 1, 1} }},
		{"tau", func(c *Config) { c.Model = modelGender; c.Tau = 0 }},
		{"households", func(c *Config) { c.Households = 0 }},
		{"replications", func(c *Config) { c.Replications = -1 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.complete()
			require.NoError(t, cfg.validate())
			tc.modify(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func smallConfig(model string) *Config {
	cfg := defaultConfig()
	cfg.Model = model
	cfg.NTypesX = 3
	cfg.NTypesY = 4
	cfg.NBases = 2
	cfg.Interactions = model == modelNoSingles
	cfg.Tau = 0.7
	cfg.Households = 1000000
	cfg.Replications = 8
	cfg.Workers = 3
	cfg.complete()
	return cfg
}

func nestedConfig() *Config {
	cfg := smallConfig(modelNested)
	cfg.NTypesX = 4
	cfg.NTypesY = 5
	cfg.Men, cfg.Women = nil, nil
	cfg.complete()
	return cfg
}

func TestMarket(t *testing.T) {

	mk, err := smallConfig(modelGender).market()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 1, -0.5}, mk.truth)
	assert.Len(t, mk.entropies, 2)
	assert.False(t, mk.noSingles)

	mk, err = smallConfig(modelNoSingles).market()
	require.NoError(t, err)
	assert.True(t, mk.noSingles)

	cfg := smallConfig(modelNoSingles)
	cfg.Bases = basesGaussian
	cfg.Interactions = false
	require.NoError(t, cfg.validate())
	mk, err = cfg.market()
	require.NoError(t, err)
	again, err := cfg.market()
	require.NoError(t, err)
	assert.Equal(t, mk.bases, again.bases)

	mk, err = nestedConfig().market()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.7, 0.7, 0.7, 1, -0.5}, mk.truth)
	assert.Len(t, mk.entropies, 1)
	assert.Equal(t, [][]int{{0, 1}, {2, 3, 4}}, halves(5))

	cfg = smallConfig(modelChooSiow)
	cfg.NBases = 20
	cfg.Beta = make([]float64, 20)
	_, err = cfg.market()
	assert.Error(t, err)
}

func TestRunEstimate(t *testing.T) {

	var buf bytes.Buffer
	require.NoError(t, runEstimate(context.Background(), smallConfig(modelChooSiow), testLog(), &buf))

	out := buf.String()
	assert.True(t, strings.Contains(out, "Minimum distance estimation of a semilinear matching model"))
	assert.True(t, strings.Contains(out, "Poisson estimation of the Choo and Siow model"))
	assert.Equal(t, 3, strings.Count(out, "largest absolute discrepancy"))

	buf.Reset()
	require.NoError(t, runEstimate(context.Background(), smallConfig(modelNoSingles), testLog(), &buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "largest absolute discrepancy"))

	buf.Reset()
	require.NoError(t, runEstimate(context.Background(), nestedConfig(), testLog(), &buf))
	assert.Equal(t, 1, strings.Count(buf.String(), "largest absolute discrepancy"))
	assert.True(t, strings.Contains(buf.String(), "Nested logit"))
}

func TestCalibrate(t *testing.T) {

	cfg := smallConfig(modelChooSiow)
	cal, err := calibrate(context.Background(), cfg, testLog())
	require.NoError(t, err)
	assert.Equal(t, 10, cal.ndf)
	assert.Len(t, cal.statistics, cfg.Replications)
	for _, s := range cal.statistics {
		assert.True(t, s > 0)
	}

	var buf bytes.Buffer
	cal.report(&buf)
	assert.True(t, strings.Contains(buf.String(), "Rejection 5%"))

	path := filepath.Join(t.TempDir(), "stats.png")
	require.NoError(t, cal.plot(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Size() > 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = calibrate(ctx, cfg, testLog())
	assert.Error(t, err)
}

func TestRootCommand(t *testing.T) {

	path := writeConfig(t, `
ntypes_x: 3
ntypes_y: 4
nbases: 2
households: 100000
`)

	cmd := newRootCommand(context.Background(), testLog())
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"estimate", "--config", path, "--seed", "5", "--log-level", "warn"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.Contains(buf.String(), "Households: 100000.0"))

	cmd = newRootCommand(context.Background(), testLog())
	cmd.SetArgs([]string{"estimate", "--config", path, "--model", "probit"})
	assert.Error(t, cmd.Execute())
}
