package main

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/kshedden/matchmodel/entropy"
	"github.com/kshedden/matchmodel/ipfp"
	"github.com/kshedden/matchmodel/matching"
	"github.com/kshedden/matchmodel/primitives"
)

// Model names accepted in the configuration.
const (
	modelChooSiow  = "choosiow"
	modelGender    = "gender"
	modelNoSingles = "nosingles"
	modelNested    = "nested"
)

// Kinds of basis functions.
const (
	basesPolynomial = "polynomial"
	basesGaussian   = "gaussian"
)

// Config describes a simulated market and the estimation runs.
type Config struct {

	// One of choosiow, gender, nosingles or nested
	Model string `yaml:"model"`

	// Numbers of types of men and women
	NTypesX int `yaml:"ntypes_x"`
	NTypesY int `yaml:"ntypes_y"`

	// Number of basis functions.  Polynomial bases use interactions
	// only if Interactions is set; gaussian bases are drawn once from
	// BasesSeed.
	NBases       int    `yaml:"nbases"`
	Bases        string `yaml:"bases"`
	Interactions bool   `yaml:"interactions"`
	BasesSeed    uint64 `yaml:"bases_seed"`

	// True coefficients of the basis functions, defaults to
	// (-1)^k/(k+1)
	Beta []float64 `yaml:"beta"`

	// Scale of the taste shocks of the women in the gender model
	Tau float64 `yaml:"tau"`

	// Nest parameters of the nested model: the men's two nests, which
	// split the women's types in halves, then the women's two nests.
	// Default to 0.7.
	Alphas []float64 `yaml:"alphas"`

	// Numbers of men and women of each type, default to 1/X and 1/Y
	Men   []float64 `yaml:"men"`
	Women []float64 `yaml:"women"`

	// Sample size and the seed of the first sample
	Households int    `yaml:"households"`
	Seed       uint64 `yaml:"seed"`

	// Calibration runs and the number of concurrent workers
	Replications int `yaml:"replications"`
	Workers      int `yaml:"workers"`

	// If not empty, the calibrate command saves a histogram of the
	// test statistics here
	Plot string `yaml:"plot"`

	IPFP IPFPConfig `yaml:"ipfp"`
}

// IPFPConfig holds the solver settings.
type IPFPConfig struct {
	Tol     float64 `yaml:"tol"`
	MaxIter int     `yaml:"max_iter"`
}

func defaultConfig() *Config {
	return &Config{
		Model:        modelChooSiow,
		NTypesX:      10,
		NTypesY:      15,
		NBases:       5,
		Bases:        basesPolynomial,
		Tau:          1,
		Households:   100000000,
		Seed:         1,
		Replications: 200,
		Workers:      4,
		IPFP: IPFPConfig{
			Tol:     1e-12,
			MaxIter: 10000,
		},
	}
}

// loadConfig reads a YAML configuration over the defaults.  An empty
// path gives the defaults.
func loadConfig(path string) (*Config, error) {

	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	return cfg, nil
}

// complete fills in the defaults that depend on the other fields.
func (cfg *Config) complete() {

	if cfg.Beta == nil {
		cfg.Beta = make([]float64, cfg.NBases)
		for k := range cfg.Beta {
			cfg.Beta[k] = math.Pow(-1, float64(k)) / float64(k+1)
		}
	}
	if cfg.Alphas == nil && cfg.Model == modelNested {
		cfg.Alphas = []float64{0.7, 0.7, 0.7, 0.7}
	}
	if cfg.Men == nil && cfg.NTypesX > 0 {
		cfg.Men = make([]float64, cfg.NTypesX)
		for i := range cfg.Men {
			cfg.Men[i] = 1 / float64(cfg.NTypesX)
		}
	}
	if cfg.Women == nil && cfg.NTypesY > 0 {
		cfg.Women = make([]float64, cfg.NTypesY)
		for j := range cfg.Women {
			cfg.Women[j] = 1 / float64(cfg.NTypesY)
		}
	}
}

func (cfg *Config) validate() error {

	switch cfg.Model {
	case modelChooSiow, modelGender, modelNoSingles, modelNested:
	default:
		return errors.Errorf("unknown model %q", cfg.Model)
	}
	switch cfg.Bases {
	case basesPolynomial, basesGaussian:
	default:
		return errors.Errorf("unknown bases %q", cfg.Bases)
	}

	if cfg.NTypesX < 2 || cfg.NTypesY < 2 {
		return errors.Errorf("need at least two types on each side, not %d×%d", cfg.NTypesX, cfg.NTypesY)
	}
	if cfg.NBases < 1 {
		return errors.Errorf("nbases is %d", cfg.NBases)
	}
	if len(cfg.Beta) != cfg.NBases {
		return errors.Errorf("%d coefficients for %d basis functions", len(cfg.Beta), cfg.NBases)
	}
	if len(cfg.Men) != cfg.NTypesX || len(cfg.Women) != cfg.NTypesY {
		return errors.Errorf("margins of lengths %d and %d for %d×%d types",
			len(cfg.Men), len(cfg.Women), cfg.NTypesX, cfg.NTypesY)
	}
	if cfg.Model == modelNoSingles && cfg.Bases == basesPolynomial && !cfg.Interactions {
		return errors.New("without singles only interaction polynomials can be identified")
	}
	if cfg.Model == modelNested {
		if cfg.NTypesX < 4 || cfg.NTypesY < 4 {
			return errors.Errorf("the nests need at least four types on each side, not %d×%d", cfg.NTypesX, cfg.NTypesY)
		}
		if len(cfg.Alphas) != 4 {
			return errors.Errorf("%d nest parameters, need 4", len(cfg.Alphas))
		}
		for _, a := range cfg.Alphas {
			if !(a > 0) {
				return errors.Errorf("nest parameter %g", a)
			}
		}
	}
	if cfg.Model == modelGender && cfg.Tau <= 0 {
		return errors.Errorf("tau is %g", cfg.Tau)
	}
	if cfg.Households <= 0 {
		return errors.Errorf("households is %d", cfg.Households)
	}
	if cfg.Replications <= 0 {
		return errors.Errorf("replications is %d", cfg.Replications)
	}
	if cfg.Workers <= 0 {
		return errors.Errorf("workers is %d", cfg.Workers)
	}

	return nil
}

func (cfg *Config) settings(log logrus.FieldLogger) *ipfp.Settings {
	return &ipfp.Settings{
		Tol:     cfg.IPFP.Tol,
		MaxIter: cfg.IPFP.MaxIter,
		Log:     log,
	}
}

// market holds a simulated market and how to estimate it.
type market struct {
	model primitives.Model
	bases *matching.Array3

	// True values of all the estimated parameters
	truth []float64

	noSingles bool

	// The analytic entropy first, if there is one
	entropies []*entropy.Functions
}

// halves splits the types 0, ..., n-1 into two nests.
func halves(n int) [][]int {
	nests := [][]int{{}, {}}
	for t := 0; t < n; t++ {
		nests[2*t/n] = append(nests[2*t/n], t)
	}
	return nests
}

func (cfg *Config) market() (*market, error) {

	var bases *matching.Array3
	var err error
	if cfg.Bases == basesGaussian {
		bases, err = primitives.GaussianBases(cfg.NTypesX, cfg.NTypesY, cfg.NBases, cfg.BasesSeed)
	} else {
		bases, err = primitives.PolynomialBases(cfg.NTypesX, cfg.NTypesY, cfg.NBases, cfg.Interactions)
	}
	if err != nil {
		return nil, err
	}
	phi, err := primitives.LinearSurplus(bases, cfg.Beta)
	if err != nil {
		return nil, err
	}

	mk := &market{bases: bases, truth: cfg.Beta}
	switch cfg.Model {
	case modelChooSiow:
		mk.model = &primitives.ChooSiow{Phi: phi, N: cfg.Men, M: cfg.Women}
		mk.entropies = []*entropy.Functions{entropy.ChooSiow, entropy.ChooSiowNumeric}
	case modelGender:
		mk.model = &primitives.GenderHeteroskedastic{Phi: phi, N: cfg.Men, M: cfg.Women, Tau: cfg.Tau}
		mk.truth = append([]float64{cfg.Tau}, cfg.Beta...)
		mk.entropies = []*entropy.Functions{entropy.ChooSiowGenderHeteroskedastic,
			entropy.ChooSiowGenderHeteroskedasticNumeric}
	case modelNoSingles:
		mk.model = &primitives.ChooSiow{Phi: phi, N: cfg.Men, M: cfg.Women, NoSingles: true}
		mk.noSingles = true
		mk.entropies = []*entropy.Functions{entropy.ChooSiowNoSingles, entropy.ChooSiowNoSinglesNumeric}
	case modelNested:
		nestsX, nestsY := halves(cfg.NTypesY), halves(cfg.NTypesX)
		mk.model = &primitives.NestedLogit{Phi: phi, N: cfg.Men, M: cfg.Women,
			NestsX: nestsX, NestsY: nestsY, Alphas: cfg.Alphas}
		mk.truth = append(append([]float64(nil), cfg.Alphas...), cfg.Beta...)
		ent, err := entropy.NestedLogit(cfg.NTypesX, cfg.NTypesY, nestsX, nestsY)
		if err != nil {
			return nil, err
		}
		mk.entropies = []*entropy.Functions{ent}
	}

	return mk, nil
}
