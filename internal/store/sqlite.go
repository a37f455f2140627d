package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/areamatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS zones (
	code         TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	lat          REAL,
	lng          REAL,
	threshold_km REAL NOT NULL DEFAULT 0,
	sort_order   INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS region_mappings (
	city            TEXT NOT NULL DEFAULT '',
	region          TEXT NOT NULL,
	school_district TEXT NOT NULL DEFAULT '',
	area_codes      TEXT NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (city, region, school_district)
);

CREATE INDEX IF NOT EXISTS idx_region_mappings_city ON region_mappings(city);
`

const (
	sqliteUpsertZone = `INSERT INTO zones (code, kind, city, lat, lng, threshold_km, sort_order, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
ON CONFLICT(code) DO UPDATE SET
	kind = excluded.kind, city = excluded.city, lat = excluded.lat, lng = excluded.lng,
	threshold_km = excluded.threshold_km, sort_order = excluded.sort_order, updated_at = excluded.updated_at`

	sqliteUpsertMapping = `INSERT INTO region_mappings (city, region, school_district, area_codes, updated_at)
VALUES (?, ?, ?, ?, datetime('now'))
ON CONFLICT(city, region, school_district) DO UPDATE SET
	area_codes = excluded.area_codes, updated_at = excluded.updated_at`
)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, kind, city, lat, lng, threshold_km, sort_order FROM zones ORDER BY sort_order, code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list zones")
	}
	defer rows.Close() //nolint:errcheck

	var zones []model.Zone
	for rows.Next() {
		var (
			z        model.Zone
			code     string
			kind     string
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&code, &kind, &z.City, &lat, &lng, &z.ThresholdKM, &z.Order); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan zone")
		}
		z.Code = model.AreaCode(code)
		z.Kind = model.ZoneKind(kind)
		if lat.Valid && lng.Valid {
			z.Reference = model.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
		}
		zones = append(zones, z)
	}
	return zones, eris.Wrap(rows.Err(), "sqlite: list zones")
}

func (s *SQLiteStore) UpsertZone(ctx context.Context, z model.Zone) error {
	if err := validateZone(z); err != nil {
		return eris.Wrap(err, "sqlite: upsert zone")
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsertZone, zoneArgs(z)...)
	return eris.Wrapf(err, "sqlite: upsert zone %s", z.Code)
}

func (s *SQLiteStore) ImportZones(ctx context.Context, zones []model.Zone) (int64, error) {
	for _, z := range zones {
		if err := validateZone(z); err != nil {
			return 0, eris.Wrap(err, "sqlite: import zones")
		}
	}
	return s.importRows(ctx, sqliteUpsertZone, len(zones), func(i int) ([]any, error) {
		return zoneArgs(zones[i]), nil
	})
}

func (s *SQLiteStore) ListRegionMappings(ctx context.Context) ([]model.RegionMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT city, region, school_district, area_codes FROM region_mappings ORDER BY city, region, school_district`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list region mappings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RegionMapping
	for rows.Next() {
		var (
			m     model.RegionMapping
			codes string
		)
		if err := rows.Scan(&m.City, &m.Region, &m.SchoolDistrict, &codes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region mapping")
		}
		var raw []string
		if err := json.Unmarshal([]byte(codes), &raw); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode area codes for %s", m.Region)
		}
		m.Codes = areaCodes(raw)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list region mappings")
}

func (s *SQLiteStore) SetMapping(ctx context.Context, m model.RegionMapping) error {
	if err := validateMapping(m); err != nil {
		return eris.Wrap(err, "sqlite: set mapping")
	}
	args, err := mappingArgs(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertMapping, args...)
	return eris.Wrapf(err, "sqlite: set mapping %s", m.Region)
}

func (s *SQLiteStore) ImportMappings(ctx context.Context, mappings []model.RegionMapping) (int64, error) {
	for _, m := range mappings {
		if err := validateMapping(m); err != nil {
			return 0, eris.Wrap(err, "sqlite: import mappings")
		}
	}
	return s.importRows(ctx, sqliteUpsertMapping, len(mappings), func(i int) ([]any, error) {
		return mappingArgs(mappings[i])
	})
}

// importRows runs stmt once per row inside a single transaction.
func (s *SQLiteStore) importRows(ctx context.Context, stmt string, n int, args func(i int) ([]any, error)) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare import")
	}
	defer prepared.Close() //nolint:errcheck

	for i := 0; i < n; i++ {
		a, err := args(i)
		if err != nil {
			return 0, err
		}
		if _, err := prepared.ExecContext(ctx, a...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import row %d", i)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import")
	}
	return int64(n), nil
}

func zoneArgs(z model.Zone) []any {
	var lat, lng any
	if z.Kind == model.ZoneKindRadius {
		lat, lng = z.Reference.Lat, z.Reference.Lng
	}
	return []any{string(z.Code), string(z.Kind), z.City, lat, lng, z.ThresholdKM, z.Order}
}

func mappingArgs(m model.RegionMapping) ([]any, error) {
	codes, err := json.Marshal(codeStrings(m.Codes))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal area codes")
	}
	return []any{m.City, m.Region, m.SchoolDistrict, string(codes)}, nil
}
