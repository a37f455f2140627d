package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/areamatch/internal/db"
	"github.com/sells-group/areamatch/internal/model"
)

// PostgresStore implements Store using pgxpool. Zone reference points are
// PostGIS geometries.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS areamatch;

CREATE TABLE IF NOT EXISTS areamatch.zones (
	code         TEXT PRIMARY KEY,
	kind         TEXT NOT NULL CHECK (kind IN ('radius', 'city_wide')),
	city         TEXT NOT NULL DEFAULT '',
	reference    geometry(Point, 4326),
	threshold_km DOUBLE PRECISION NOT NULL DEFAULT 0,
	sort_order   INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS areamatch.region_mappings (
	city            TEXT NOT NULL DEFAULT '',
	region          TEXT NOT NULL,
	school_district TEXT NOT NULL DEFAULT '',
	area_codes      TEXT[] NOT NULL DEFAULT '{}',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (city, region, school_district)
);

CREATE INDEX IF NOT EXISTS idx_zones_reference ON areamatch.zones USING GIST (reference);
CREATE INDEX IF NOT EXISTS idx_region_mappings_city ON areamatch.region_mappings (city);
`

var (
	zonesUpsert = db.UpsertConfig{
		Table:        "areamatch.zones",
		Columns:      []string{"code", "kind", "city", "reference", "threshold_km", "sort_order"},
		ConflictKeys: []string{"code"},
		Touch:        "updated_at",
	}
	mappingsUpsert = db.UpsertConfig{
		Table:        "areamatch.region_mappings",
		Columns:      []string{"city", "region", "school_district", "area_codes"},
		ConflictKeys: []string{"city", "region", "school_district"},
		Touch:        "updated_at",
	}
)

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, kind, city, ST_AsEWKB(reference), threshold_km, sort_order FROM areamatch.zones ORDER BY sort_order, code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list zones")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var (
			z         model.Zone
			code      string
			kind      string
			reference []byte
		)
		if err := rows.Scan(&code, &kind, &z.City, &reference, &z.ThresholdKM, &z.Order); err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone")
		}
		z.Code = model.AreaCode(code)
		z.Kind = model.ZoneKind(kind)
		if z.Reference, err = decodePoint(reference); err != nil {
			return nil, eris.Wrapf(err, "postgres: zone %s", code)
		}
		zones = append(zones, z)
	}
	return zones, eris.Wrap(rows.Err(), "postgres: list zones")
}

func (s *PostgresStore) UpsertZone(ctx context.Context, z model.Zone) error {
	if err := validateZone(z); err != nil {
		return eris.Wrap(err, "postgres: upsert zone")
	}
	ref, err := zoneReference(z)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO areamatch.zones (code, kind, city, reference, threshold_km, sort_order, updated_at)
		VALUES ($1, $2, $3, ST_GeomFromEWKB($4), $5, $6, now())
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind, city = EXCLUDED.city, reference = EXCLUDED.reference,
			threshold_km = EXCLUDED.threshold_km, sort_order = EXCLUDED.sort_order, updated_at = now()`,
		string(z.Code), string(z.Kind), z.City, ref, z.ThresholdKM, z.Order,
	)
	return eris.Wrapf(err, "postgres: upsert zone %s", z.Code)
}

func (s *PostgresStore) ImportZones(ctx context.Context, zones []model.Zone) (int64, error) {
	rows := make([][]any, 0, len(zones))
	for _, z := range zones {
		if err := validateZone(z); err != nil {
			return 0, eris.Wrap(err, "postgres: import zones")
		}
		ref, err := zoneReference(z)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{string(z.Code), string(z.Kind), z.City, ref, z.ThresholdKM, int32(z.Order)})
	}
	n, err := db.BulkUpsert(ctx, s.pool, zonesUpsert, rows)
	return n, eris.Wrap(err, "postgres: import zones")
}

func (s *PostgresStore) ListRegionMappings(ctx context.Context) ([]model.RegionMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT city, region, school_district, area_codes FROM areamatch.region_mappings ORDER BY city, region, school_district`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list region mappings")
	}
	defer rows.Close()

	var out []model.RegionMapping
	for rows.Next() {
		var (
			m     model.RegionMapping
			codes []string
		)
		if err := rows.Scan(&m.City, &m.Region, &m.SchoolDistrict, &codes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region mapping")
		}
		m.Codes = areaCodes(codes)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list region mappings")
}

func (s *PostgresStore) SetMapping(ctx context.Context, m model.RegionMapping) error {
	if err := validateMapping(m); err != nil {
		return eris.Wrap(err, "postgres: set mapping")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO areamatch.region_mappings (city, region, school_district, area_codes, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (city, region, school_district) DO UPDATE SET
			area_codes = EXCLUDED.area_codes, updated_at = now()`,
		m.City, m.Region, m.SchoolDistrict, codeStrings(m.Codes),
	)
	return eris.Wrapf(err, "postgres: set mapping %s", m.Region)
}

func (s *PostgresStore) ImportMappings(ctx context.Context, mappings []model.RegionMapping) (int64, error) {
	rows := make([][]any, 0, len(mappings))
	for _, m := range mappings {
		if err := validateMapping(m); err != nil {
			return 0, eris.Wrap(err, "postgres: import mappings")
		}
		rows = append(rows, []any{m.City, m.Region, m.SchoolDistrict, codeStrings(m.Codes)})
	}
	n, err := db.BulkUpsert(ctx, s.pool, mappingsUpsert, rows)
	return n, eris.Wrap(err, "postgres: import mappings")
}
