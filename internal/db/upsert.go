package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// UpsertConfig describes a bulk upsert into one table.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified ("areamatch.zones")
	Columns      []string // columns supplied by each row, in order
	ConflictKeys []string // columns of the unique constraint
	UpdateCols   []string // columns overwritten on conflict; nil = every non-key column
	Touch        string   // optional timestamp column set to now() on insert and update
}

func (cfg UpsertConfig) validate() error {
	if cfg.Table == "" {
		return eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateColumns() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	keys := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		keys[k] = true
	}
	var out []string
	for _, c := range cfg.Columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// tempTable names the staging table for cfg.Table.
func (cfg UpsertConfig) tempTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")
}

// insertSQL builds INSERT ... SELECT FROM staging ON CONFLICT ... DO UPDATE.
func (cfg UpsertConfig) insertSQL() string {
	cols := append([]string(nil), cfg.Columns...)
	selectList := quoteAndJoin(cfg.Columns)
	if cfg.Touch != "" {
		cols = append(cols, cfg.Touch)
		selectList += ", now()"
	}

	var sets []string
	for _, c := range cfg.updateColumns() {
		id := pgx.Identifier{c}.Sanitize()
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}
	if cfg.Touch != "" {
		sets = append(sets, fmt.Sprintf("%s = now()", pgx.Identifier{cfg.Touch}.Sanitize()))
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cols),
		selectList,
		pgx.Identifier{cfg.tempTable()}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	)
}

// BulkUpsert stages rows with COPY into a temp table, then merges them into
// the target with INSERT ... ON CONFLICT, all in one transaction.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{cfg.tempTable()}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{cfg.tempTable()}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.insertSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	zap.L().Debug("db: bulk upsert",
		zap.String("table", cfg.Table),
		zap.Int("rows", len(rows)),
		zap.Int64("affected", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name, keeping an optional schema qualifier.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
