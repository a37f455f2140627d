package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/batch"
	"github.com/sells-group/areamatch/internal/model"
	"github.com/sells-group/areamatch/internal/refdata"
)

var (
	qualifyPropertiesPath string
	qualifyBuyersPath     string
	qualifyOutPath        string
	qualifyAreasOnly      bool
)

var qualifyCmd = &cobra.Command{
	Use:     "qualify",
	GroupID: groupMatch,
	Short:   "Compute distribution areas and qualified buyers for a batch of properties",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "qualify")
		if err != nil {
			return err
		}
		defer env.Close()

		properties, err := refdata.LoadProperties(ctx, qualifyPropertiesPath)
		if err != nil {
			return eris.Wrap(err, "load properties")
		}

		engine := newEngine(env.Metrics)
		var buyers []model.Buyer
		if qualifyAreasOnly {
			engine = nil
		} else {
			if qualifyBuyersPath == "" {
				return eris.New("--buyers is required unless --areas-only is set")
			}
			if buyers, err = refdata.LoadBuyers(ctx, qualifyBuyersPath); err != nil {
				return eris.Wrap(err, "load buyers")
			}
		}

		runner := batch.NewRunner(env.Holder, env.Resolver, engine,
			batch.WithConcurrency(cfg.Batch.MaxConcurrentProperties),
			batch.WithSeparator(cfg.Matching.FormatSeparator),
			batch.WithMetrics(env.Metrics),
		)
		report, err := runner.Run(ctx, properties, buyers)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if qualifyOutPath != "" {
			f, err := os.Create(qualifyOutPath)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := writeJSON(w, report); err != nil {
			return err
		}

		if report.Failed > 0 {
			zap.L().Warn("some properties failed", zap.Int("failed", report.Failed))
		}
		return nil
	},
}

func init() {
	qualifyCmd.Flags().StringVar(&qualifyPropertiesPath, "properties", "", "JSON array of properties (required)")
	qualifyCmd.Flags().StringVar(&qualifyBuyersPath, "buyers", "", "JSON array of buyers")
	qualifyCmd.Flags().StringVar(&qualifyOutPath, "out", "", "write the report here instead of stdout")
	qualifyCmd.Flags().BoolVar(&qualifyAreasOnly, "areas-only", false, "compute areas without qualifying buyers")
	_ = qualifyCmd.MarkFlagRequired("properties")
	rootCmd.AddCommand(qualifyCmd)
}
