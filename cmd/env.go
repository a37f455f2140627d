package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/areacode"
	"github.com/sells-group/areamatch/internal/config"
	"github.com/sells-group/areamatch/internal/metrics"
	"github.com/sells-group/areamatch/internal/qualify"
	"github.com/sells-group/areamatch/internal/refdata"
	"github.com/sells-group/areamatch/internal/store"
	"github.com/sells-group/areamatch/pkg/maplink"
)

// matchEnv holds everything a matching command needs.
type matchEnv struct {
	Store    store.Store // nil when reference data comes from files
	Holder   *areacode.Holder
	Resolver *maplink.Resolver
	Cache    *maplink.Cache
	Metrics  *metrics.Metrics
}

// Close flushes metrics and releases the store.
func (e *matchEnv) Close() {
	if path := cfg.Metrics.TextfilePath; path != "" {
		if err := e.Metrics.WriteTextfile(path); err != nil {
			zap.L().Warn("write metrics textfile failed", zap.String("path", path), zap.Error(err))
		}
	}
	if e.Cache != nil {
		stats := e.Cache.Stats()
		zap.L().Debug("resolver cache",
			zap.Int("entries", stats.Entries),
			zap.Int64("hits", stats.Hits),
			zap.Int64("misses", stats.Misses),
		)
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv loads reference data and builds the resolver for mode.
func initEnv(ctx context.Context, mode string) (*matchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &matchEnv{Metrics: metrics.New()}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	reg, err := loadRegistry(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Holder = areacode.NewHolder(reg)

	env.Cache = maplink.NewCache(cfg.Resolver.CacheSize, cfg.Resolver.CacheTTL())
	env.Resolver = newResolver(cfg.Resolver, env.Cache)
	return env, nil
}

// openStore connects to the configured store, or returns nil when no
// database is configured.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// loadRegistry builds a registry from the store when one is open, else
// from the reference files.
func loadRegistry(ctx context.Context, st store.Store) (*areacode.Registry, error) {
	var (
		ref areacode.ReferenceData
		err error
	)
	if st != nil {
		ref, err = store.LoadReference(ctx, st, cfg.Reference.Prefixes)
	} else {
		ref, err = refdata.Load(ctx, referenceOptions())
	}
	if err != nil {
		return nil, eris.Wrap(err, "load reference data")
	}

	reg, err := areacode.NewRegistry(ref)
	if err != nil {
		return nil, eris.Wrap(err, "build area code registry")
	}
	zap.L().Info("reference data loaded",
		zap.Int("zones", len(ref.Zones)),
		zap.Int("regions", len(ref.Regions)),
	)
	return reg, nil
}

func referenceOptions() refdata.Options {
	return refdata.Options{
		Path:         cfg.Reference.Path,
		RegionsPath:  cfg.Reference.RegionsPath,
		RegionsSheet: cfg.Reference.RegionsSheet,
		Prefixes:     cfg.Reference.Prefixes,
	}
}

func newResolver(rc config.ResolverConfig, cache *maplink.Cache) *maplink.Resolver {
	return maplink.NewResolver(
		maplink.WithTimeout(rc.Timeout()),
		maplink.WithMaxHops(rc.MaxHops),
		maplink.WithUserAgent(rc.UserAgent),
		maplink.WithRateLimit(rc.RateLimit),
		maplink.WithCache(cache),
	)
}

func newEngine(m *metrics.Metrics) *qualify.Engine {
	return qualify.NewEngine(qualify.Config{
		InquiryThresholdKM:    cfg.Matching.InquiryThresholdKM,
		DisqualifyingStatuses: cfg.Matching.DisqualifyingStatuses,
	}, qualify.WithMetrics(m))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write output")
}
