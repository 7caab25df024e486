package canonical

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// refTable is one externally-held reference to canonical org ids. The set is
// closed: table and column names are compile-time constants, and the pk
// expression renders a stable text key for the orphan log.
type refTable struct {
	table  string
	column string
	pkExpr string
}

var refTables = []refTable{
	{
		table:  "org_match.legacy_match_projection",
		column: "employer_id",
		pkExpr: "source_system || ':' || source_id",
	},
}

// RepairSummary reports one orphan repair pass.
type RepairSummary struct {
	Scanned    int
	Rewritten  int64
	Recovered  int64
	Unresolved int64
}

// Repair rewrites external references that still name absorbed orgs. For
// each orphaned id: follow the merge chain to the survivor; failing that,
// re-match rows by exact name and jurisdiction; failing that, null the
// reference and record it in the orphan log. Runs after every applied
// dedupe pass. With apply false, only counts the orphaned ids.
func (c *Consolidator) Repair(ctx context.Context, apply bool) (RepairSummary, error) {
	var summary RepairSummary
	for _, ref := range refTables {
		if err := c.repairTable(ctx, ref, apply, &summary); err != nil {
			return summary, err
		}
	}

	c.log.Info("orphan repair complete",
		zap.Bool("apply", apply),
		zap.Int("orphaned_ids", summary.Scanned),
		zap.Int64("rewritten", summary.Rewritten),
		zap.Int64("recovered", summary.Recovered),
		zap.Int64("unresolved", summary.Unresolved),
	)
	return summary, nil
}

func (c *Consolidator) repairTable(ctx context.Context, ref refTable, apply bool, summary *RepairSummary) error {
	orphans, err := c.orphanedIDs(ctx, ref)
	if err != nil {
		return err
	}
	summary.Scanned += len(orphans)
	if !apply {
		return nil
	}

	for _, missing := range orphans {
		kept, found, err := c.resolveMergeChain(ctx, missing)
		if err != nil {
			return err
		}
		if found {
			n, err := c.rewrite(ctx, ref, missing, kept)
			if err != nil {
				return err
			}
			summary.Rewritten += n
			continue
		}

		recovered, err := c.rematchByName(ctx, ref, missing)
		if err != nil {
			return err
		}
		summary.Recovered += recovered

		nulled, err := c.nullAndLog(ctx, ref, missing)
		if err != nil {
			return err
		}
		summary.Unresolved += nulled
	}
	return nil
}

// orphanedIDs finds referenced ids with no live canonical org.
func (c *Consolidator) orphanedIDs(ctx context.Context, ref refTable) ([]int64, error) {
	query := fmt.Sprintf(`
SELECT DISTINCT t.%[2]s
FROM %[1]s t
WHERE t.%[2]s IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM org_match.canonical_orgs c
      WHERE c.id = t.%[2]s AND c.merged_into IS NULL
  )
ORDER BY t.%[2]s`,
		ref.table, ref.column,
	)
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "canonical: scan %s for orphans", ref.table)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "canonical: scan orphaned id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// resolveMergeChain walks deleted_id -> kept_id links until it reaches a
// live org. Cycle-safe: a revisited id terminates the walk unresolved.
func (c *Consolidator) resolveMergeChain(ctx context.Context, id int64) (int64, bool, error) {
	visited := map[int64]bool{id: true}
	current := id
	for {
		var kept int64
		err := c.pool.QueryRow(ctx, `
SELECT kept_id FROM org_match.canonical_merges
WHERE deleted_id = $1
ORDER BY merged_at DESC, id DESC
LIMIT 1`,
			current,
		).Scan(&kept)
		if err != nil {
			if isNoRows(err) {
				return 0, false, nil
			}
			return 0, false, eris.Wrapf(err, "canonical: walk merge chain from %d", id)
		}
		if visited[kept] {
			c.log.Warn("merge chain cycle",
				zap.Int64("start", id),
				zap.Int64("at", kept),
			)
			return 0, false, nil
		}
		visited[kept] = true

		var live bool
		err = c.pool.QueryRow(ctx, `
SELECT merged_into IS NULL FROM org_match.canonical_orgs WHERE id = $1`,
			kept,
		).Scan(&live)
		if err != nil {
			if isNoRows(err) {
				return 0, false, nil
			}
			return 0, false, eris.Wrapf(err, "canonical: check org %d", kept)
		}
		if live {
			return kept, true, nil
		}
		current = kept
	}
}

// rewrite points references at the surviving org.
func (c *Consolidator) rewrite(ctx context.Context, ref refTable, missing, kept int64) (int64, error) {
	query := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = $1 WHERE %[2]s = $2`, ref.table, ref.column)
	tag, err := c.pool.Exec(ctx, query, kept, missing)
	if err != nil {
		return 0, eris.Wrapf(err, "canonical: rewrite %s.%s %d -> %d", ref.table, ref.column, missing, kept)
	}
	return tag.RowsAffected(), nil
}

// rematchByName recovers references whose staged record has an exact
// aggressive-name and jurisdiction match in the live canonical set.
func (c *Consolidator) rematchByName(ctx context.Context, ref refTable, missing int64) (int64, error) {
	if ref.table != "org_match.legacy_match_projection" {
		return 0, nil
	}
	tag, err := c.pool.Exec(ctx, `
UPDATE org_match.legacy_match_projection p
SET employer_id = c.id
FROM org_match.source_records r
JOIN org_match.canonical_orgs c
  ON c.name_aggressive = r.name_aggressive
 AND c.jurisdiction = r.jurisdiction
 AND c.merged_into IS NULL
WHERE p.source_system = r.source_system
  AND p.source_id = r.source_id
  AND p.employer_id = $1`,
		missing,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "canonical: rematch orphans of %d by name", missing)
	}
	return tag.RowsAffected(), nil
}

// nullAndLog leaves remaining references explicitly null and records each in
// the orphan log as a likely out-of-scope historical record.
func (c *Consolidator) nullAndLog(ctx context.Context, ref refTable, missing int64) (int64, error) {
	logQuery := fmt.Sprintf(`
INSERT INTO org_match.orphan_log (ref_table, ref_column, ref_pk, missing_id)
SELECT '%[1]s', '%[2]s', %[3]s, $1
FROM %[1]s
WHERE %[2]s = $1`,
		ref.table, ref.column, ref.pkExpr,
	)
	if _, err := c.pool.Exec(ctx, logQuery, missing); err != nil {
		return 0, eris.Wrapf(err, "canonical: log orphans of %d", missing)
	}

	nullQuery := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = NULL WHERE %[2]s = $1`, ref.table, ref.column)
	tag, err := c.pool.Exec(ctx, nullQuery, missing)
	if err != nil {
		return 0, eris.Wrapf(err, "canonical: null orphans of %d", missing)
	}
	return tag.RowsAffected(), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
