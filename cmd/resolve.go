package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/areamatch/pkg/maplink"
)

var resolveConcurrency int

// linkResult pairs a link with its resolution.
type linkResult struct {
	Link string `json:"link"`
	maplink.Result
}

var resolveCmd = &cobra.Command{
	Use:     "resolve <link>...",
	GroupID: groupMatch,
	Short:   "Resolve map links to coordinates",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cache := maplink.NewCache(cfg.Resolver.CacheSize, cfg.Resolver.CacheTTL())
		resolver := newResolver(cfg.Resolver, cache)

		results := resolveLinks(ctx, resolver, args, resolveConcurrency)
		return writeJSON(os.Stdout, results)
	},
}

// resolveLinks resolves every link, preserving input order.
func resolveLinks(ctx context.Context, resolver *maplink.Resolver, links []string, concurrency int) []linkResult {
	out := make([]linkResult, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, link := range links {
		g.Go(func() error {
			res := resolver.Resolve(gctx, link)
			if !res.Resolved {
				zap.L().Warn("map link unresolvable",
					zap.String("link", link),
					zap.String("reason", string(res.Reason)),
				)
			}
			out[i] = linkResult{Link: link, Result: res}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func init() {
	resolveCmd.Flags().IntVar(&resolveConcurrency, "concurrency", 4, "links resolved in parallel")
	rootCmd.AddCommand(resolveCmd)
}
