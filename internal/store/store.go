// Package store persists area-code reference data (zones and region
// mappings) in SQLite or Postgres.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/areacode"
	"github.com/sells-group/areamatch/internal/model"
)

// Store defines the persistence interface for reference data.
type Store interface {
	// Zones
	ListZones(ctx context.Context) ([]model.Zone, error)
	UpsertZone(ctx context.Context, z model.Zone) error
	ImportZones(ctx context.Context, zones []model.Zone) (int64, error)

	// Region mappings
	ListRegionMappings(ctx context.Context) ([]model.RegionMapping, error)
	SetMapping(ctx context.Context, m model.RegionMapping) error
	ImportMappings(ctx context.Context, mappings []model.RegionMapping) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and runs migrations.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch strings.ToLower(driver) {
	case "", "sqlite":
		st, err = NewSQLite(dsn)
	case "postgres", "postgresql":
		st, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// LoadReference reads every zone and region mapping into ReferenceData.
func LoadReference(ctx context.Context, s Store, prefixes []string) (areacode.ReferenceData, error) {
	zones, err := s.ListZones(ctx)
	if err != nil {
		return areacode.ReferenceData{}, eris.Wrap(err, "store: load reference")
	}
	regions, err := s.ListRegionMappings(ctx)
	if err != nil {
		return areacode.ReferenceData{}, eris.Wrap(err, "store: load reference")
	}

	zap.L().Debug("store: loaded reference data",
		zap.Int("zones", len(zones)),
		zap.Int("regions", len(regions)),
	)
	return areacode.ReferenceData{
		Prefixes: prefixes,
		Zones:    zones,
		Regions:  regions,
	}, nil
}

func validateMapping(m model.RegionMapping) error {
	if strings.TrimSpace(m.Region) == "" {
		return eris.New("region mapping has no region name")
	}
	return nil
}

func validateZone(z model.Zone) error {
	if strings.TrimSpace(string(z.Code)) == "" {
		return eris.New("zone has no code")
	}
	switch z.Kind {
	case model.ZoneKindRadius, model.ZoneKindCityWide:
		return nil
	default:
		return eris.Errorf("zone %q has unknown kind %q", z.Code, z.Kind)
	}
}

func codeStrings(codes []model.AreaCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func areaCodes(codes []string) []model.AreaCode {
	out := make([]model.AreaCode, len(codes))
	for i, c := range codes {
		out[i] = model.AreaCode(c)
	}
	return out
}
