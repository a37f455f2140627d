package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/areamatch/internal/distribution"
)

var (
	areasAddress string
	areasCity    string
	areasLink    string
)

var areasCmd = &cobra.Command{
	Use:     "areas",
	GroupID: groupMatch,
	Short:   "Compute the distribution area codes for one property",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "areas")
		if err != nil {
			return err
		}
		defer env.Close()

		calc := distribution.NewCalculator(env.Holder.Snapshot(), env.Resolver,
			distribution.WithSeparator(cfg.Matching.FormatSeparator),
			distribution.WithMetrics(env.Metrics),
		)

		areas, err := calc.Calculate(ctx, areasLink, areasCity, areasAddress)
		if err != nil {
			return eris.Wrap(err, "calculate areas")
		}
		return writeJSON(os.Stdout, areas)
	},
}

func init() {
	areasCmd.Flags().StringVar(&areasAddress, "address", "", "property address (required)")
	areasCmd.Flags().StringVar(&areasCity, "city", "", "city or ward that scopes the address lookup")
	areasCmd.Flags().StringVar(&areasLink, "link", "", "map link for the property location")
	_ = areasCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(areasCmd)
}
