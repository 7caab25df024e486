package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// AppendConfig defines the parameters for a bulk append-if-absent operation.
// Used for append-only tables where re-running with the same natural key must
// be a no-op rather than an update.
type AppendConfig struct {
	Table       string   // target table (e.g., "org_match.unified_match_log")
	Columns     []string // all columns being inserted
	ConflictKey []string // columns forming the natural key
}

// BulkAppend inserts rows via a temp table and INSERT ... ON CONFLICT DO NOTHING.
//  1. Creates a temp table with the same columns
//  2. COPY rows into the temp table
//  3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (key) DO NOTHING
//
// Returns the number of rows actually inserted; conflicting rows are skipped,
// never modified.
func BulkAppend(ctx context.Context, pool Pool, cfg AppendConfig, rows [][]any) (int64, error) {
	return bulkLoad(ctx, pool, cfg, rows, "DO NOTHING")
}

// BulkUpsert loads rows the same way but replaces every non-key column of a
// conflicting row with the incoming value. Used for projection tables that
// mirror the latest decision rather than accumulate history.
func BulkUpsert(ctx context.Context, pool Pool, cfg AppendConfig, rows [][]any) (int64, error) {
	key := make(map[string]bool, len(cfg.ConflictKey))
	for _, c := range cfg.ConflictKey {
		key[c] = true
	}
	sets := make([]string, 0, len(cfg.Columns))
	for _, c := range cfg.Columns {
		if key[c] {
			continue
		}
		q := pgx.Identifier{c}.Sanitize()
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if len(sets) == 0 {
		return 0, eris.New("db: append: upsert needs at least one non-key column")
	}
	return bulkLoad(ctx, pool, cfg, rows, "DO UPDATE SET "+strings.Join(sets, ", "))
}

func bulkLoad(ctx context.Context, pool Pool, cfg AppendConfig, rows [][]any, conflictAction string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: append: no columns specified")
	}
	if len(cfg.ConflictKey) == 0 {
		return 0, eris.New("db: append: no conflict key specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: append: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_append_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: append: create temp table for %s", cfg.Table)
	}

	if _, err := CopyInto(ctx, tx, tempTable, cfg.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: append: load temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	conflictList := quoteAndJoin(cfg.ConflictKey)

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		conflictList,
		conflictAction,
	)

	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: append: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: append: commit tx")
	}

	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names like "org_match.unified_match_log".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
