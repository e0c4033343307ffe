package main

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kshedden/matchmodel/mde"
	"github.com/kshedden/matchmodel/poisson"
	"github.com/kshedden/matchmodel/primitives"
)

type estimateOptions struct {
	model      string
	households int
	seed       uint64
}

func (o *estimateOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.model, "model", "", "Model: choosiow, gender, nosingles or nested")
	fs.IntVar(&o.households, "households", 0, "Number of sampled households")
	fs.Uint64Var(&o.seed, "seed", 0, "Seed of the sample")
}

func (o *estimateOptions) apply(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("model") {
		cfg.Model = o.model
	}
	if fs.Changed("households") {
		cfg.Households = o.households
	}
	if fs.Changed("seed") {
		cfg.Seed = o.seed
	}
	return nil
}

func newEstimateCommand(ctx context.Context, log *logrus.Entry, opts *options) *cobra.Command {

	eopts := &estimateOptions{}
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate one simulated sample of a matching market",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd.Flags(), eopts.apply)
			if err != nil {
				return err
			}
			return runEstimate(ctx, cfg, log, cmd.OutOrStdout())
		},
	}
	eopts.addFlags(cmd.Flags())

	return cmd
}

// estimation is the outcome of one estimator.
type estimation struct {
	name        string
	summary     string
	discrepancy float64
}

// estimateSample fits all the estimators of the market to one sample.
func estimateSample(ctx context.Context, cfg *Config, mk *market, log *logrus.Entry) ([]estimation, error) {

	mus, err := primitives.Simulate(mk.model, cfg.Households, cfg.Seed, cfg.settings(log))
	if err != nil {
		return nil, errors.Wrap(err, "simulate")
	}
	log.WithFields(logrus.Fields{
		"model":      cfg.Model,
		"households": mus.NHouseholds(),
	}).Info("Simulated a sample")

	var out []estimation
	for _, ent := range mk.entropies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rslt, err := mde.NewEstimator(mus, mk.bases, ent).NoSingles(mk.noSingles).Log(log).Fit()
		if err != nil {
			return nil, errors.Wrap(err, ent.Description)
		}
		out = append(out, estimation{
			name:        ent.Description,
			summary:     rslt.Summary().SetTrue(mk.truth).String(),
			discrepancy: rslt.Discrepancy(mk.truth),
		})
	}

	// The Poisson estimator needs singles, and has no entropy
	// parameter.
	if cfg.Model == modelChooSiow {
		rslt, err := poisson.NewModel(mus, mk.bases).Log(log).Fit()
		if err != nil {
			return nil, errors.Wrap(err, "Poisson")
		}
		var d float64
		for k, b := range rslt.Params() {
			d = math.Max(d, math.Abs(b-mk.truth[k]))
		}
		out = append(out, estimation{
			name:        "Poisson",
			summary:     rslt.Summary(),
			discrepancy: d,
		})
	}

	return out, nil
}

func runEstimate(ctx context.Context, cfg *Config, log *logrus.Entry, w io.Writer) error {

	mk, err := cfg.market()
	if err != nil {
		return err
	}

	ests, err := estimateSample(ctx, cfg, mk, log)
	if err != nil {
		return err
	}

	for _, e := range ests {
		fmt.Fprintln(w, e.summary)
	}
	for _, e := range ests {
		fmt.Fprintf(w, "%-55s largest absolute discrepancy %.4g\n", e.name, e.discrepancy)
	}

	return nil
}
