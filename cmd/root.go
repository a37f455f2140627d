package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	groupMatch = "match"
	groupData  = "data"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "areamatch",
	Short:         "Geographic distribution matching for property listings",
	Long:          "Derives delivery-area codes for properties from addresses and map links, and selects the buyers each listing should be distributed to.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("areamatch starting",
			zap.String("version", version),
			zap.String("command", cmd.CommandPath()),
			zap.String("store_driver", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupMatch, Title: "Matching:"},
		&cobra.Group{ID: groupData, Title: "Reference data:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
