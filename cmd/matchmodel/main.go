/*
Command matchmodel simulates separable matching markets and estimates
them.

	matchmodel estimate --config market.yaml
	matchmodel calibrate --config market.yaml --replications 500 --plot stats.png

The estimate command draws one sample of households from the
equilibrium of the configured market and fits it by minimum distance,
with the analytic and the numeric entropy hessians (only numeric for
the nested logit model), and by Poisson pseudo-likelihood for the Choo
and Siow market with singles.  The calibrate command
repeats the minimum distance fit on many samples and compares the
distribution of the specification test statistic with its χ²
reference.
*/
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	logLevel   string
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML market configuration")
	fs.StringVar(&o.logLevel, "log-level", "info", "Level of the log messages")
}

// load reads the configuration and applies the flags that were set.
func (o *options) load(fs *pflag.FlagSet, overrides func(*Config, *pflag.FlagSet) error) (*Config, error) {

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		if err := overrides(cfg, fs); err != nil {
			return nil, err
		}
	}
	cfg.complete()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newRootCommand(ctx context.Context, log *logrus.Entry) *cobra.Command {

	opts := &options{}
	cmd := &cobra.Command{
		Use:           "matchmodel",
		Short:         "Simulate and estimate semilinear matching models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			log.Logger.SetLevel(level)
			return nil
		},
	}
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(newEstimateCommand(ctx, log, opts))
	cmd.AddCommand(newCalibrateCommand(ctx, log, opts))

	return cmd
}

func main() {

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	if err := newRootCommand(context.Background(), log).Execute(); err != nil {
		log.WithError(err).Error("matchmodel failed")
		os.Exit(1)
	}
}
