package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kshedden/matchmodel/mde"
	"github.com/kshedden/matchmodel/primitives"
)

type calibrateOptions struct {
	estimateOptions
	replications int
	workers      int
	plot         string
}

func (o *calibrateOptions) addFlags(fs *pflag.FlagSet) {
	o.estimateOptions.addFlags(fs)
	fs.IntVar(&o.replications, "replications", 0, "Number of simulated samples")
	fs.IntVar(&o.workers, "workers", 0, "Number of samples estimated concurrently")
	fs.StringVar(&o.plot, "plot", "", "Save a histogram of the test statistics to this file")
}

func (o *calibrateOptions) apply(cfg *Config, fs *pflag.FlagSet) error {
	if err := o.estimateOptions.apply(cfg, fs); err != nil {
		return err
	}
	if fs.Changed("replications") {
		cfg.Replications = o.replications
	}
	if fs.Changed("workers") {
		cfg.Workers = o.workers
	}
	if fs.Changed("plot") {
		cfg.Plot = o.plot
	}
	return nil
}

func newCalibrateCommand(ctx context.Context, log *logrus.Entry, opts *options) *cobra.Command {

	copts := &calibrateOptions{}
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compare the specification test statistic with its chi-square reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd.Flags(), copts.apply)
			if err != nil {
				return err
			}
			cal, err := calibrate(ctx, cfg, log)
			if err != nil {
				return err
			}
			cal.report(cmd.OutOrStdout())
			if cfg.Plot != "" {
				if err := cal.plot(cfg.Plot); err != nil {
					return err
				}
				log.WithField("file", cfg.Plot).Info("Saved the histogram")
			}
			return nil
		},
	}
	copts.addFlags(cmd.Flags())

	return cmd
}

// calibration holds the test statistics of the replications.
type calibration struct {
	description string
	statistics  []float64
	pvalues     []float64
	ndf         int
}

// calibrate simulates cfg.Replications samples from the equilibrium
// of the market and fits each with the analytic entropy.
func calibrate(ctx context.Context, cfg *Config, log *logrus.Entry) (*calibration, error) {

	mk, err := cfg.market()
	if err != nil {
		return nil, err
	}
	eq, err := mk.model.Equilibrium(cfg.settings(log))
	if err != nil {
		return nil, errors.Wrap(err, "equilibrium")
	}
	ent := mk.entropies[0]

	cal := &calibration{
		description: ent.Description,
		statistics:  make([]float64, cfg.Replications),
		pvalues:     make([]float64, cfg.Replications),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for rep := 0; rep < cfg.Replications; rep++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mus, err := primitives.Sample(eq.Matching, cfg.Households, cfg.Seed+uint64(rep))
			if err != nil {
				return err
			}
			rslt, err := mde.NewEstimator(mus, mk.bases, ent).NoSingles(mk.noSingles).Fit()
			if err != nil {
				return errors.Wrapf(err, "replication %d", rep)
			}
			cal.statistics[rep] = rslt.TestStatistic
			cal.pvalues[rep] = rslt.TestPValue

			mu.Lock()
			cal.ndf = rslt.NDF
			mu.Unlock()

			log.WithFields(logrus.Fields{
				"replication": rep,
				"statistic":   rslt.TestStatistic,
			}).Debug("Replication done")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return cal, nil
}

// rejection returns the proportion of p-values below level.
func (cal *calibration) rejection(level float64) float64 {
	var n int
	for _, p := range cal.pvalues {
		if p < level {
			n++
		}
	}
	return float64(n) / float64(len(cal.pvalues))
}

func (cal *calibration) report(w io.Writer) {

	df := float64(cal.ndf)
	chi := distuv.ChiSquared{K: df}

	data := stats.Float64Data(cal.statistics)
	mean, _ := data.Mean()
	vr, _ := data.Variance()
	med, _ := data.Median()
	p95, _ := data.Percentile(95)

	fmt.Fprintf(w, "Entropy:      %s\n", cal.description)
	fmt.Fprintf(w, "Replications: %d\n", len(cal.statistics))
	fmt.Fprintf(w, "%-14s %12s %12s\n", "", "Observed", "Chi-square")
	fmt.Fprintf(w, "%-14s %12.4f %12.4f\n", "Mean", mean, df)
	fmt.Fprintf(w, "%-14s %12.4f %12.4f\n", "Variance", vr, 2*df)
	fmt.Fprintf(w, "%-14s %12.4f %12.4f\n", "Median", med, chi.Quantile(0.5))
	fmt.Fprintf(w, "%-14s %12.4f %12.4f\n", "95 percentile", p95, chi.Quantile(0.95))
	fmt.Fprintf(w, "%-14s %12.4f %12.4f\n", "Rejection 5%", cal.rejection(0.05), 0.05)
}

// plot saves a normalized histogram of the statistics with the χ²
// density.
func (cal *calibration) plot(filename string) error {

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Test statistics, %d degrees of freedom", cal.ndf)
	p.X.Label.Text = "Statistic"
	p.Y.Label.Text = "Density"

	h, err := plotter.NewHist(plotter.Values(cal.statistics), 30)
	if err != nil {
		return err
	}
	h.Normalize(1)
	p.Add(h)

	chi := distuv.ChiSquared{K: float64(cal.ndf)}
	f := plotter.NewFunction(chi.Prob)
	f.Width = vg.Points(2)
	p.Add(f)
	p.Legend.Add("chi-square", f)

	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}
